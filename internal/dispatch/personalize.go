package dispatch

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

const fallbackName = "Friend"

// Personalize fills {name}, {first_name} and {full_name} for member.
func Personalize(content string, member model.Member) string {
	if !strings.Contains(content, "{") {
		return content
	}

	caser := cases.Title(language.Und)

	first := fallbackName
	if f := strings.Fields(member.FirstName); len(f) > 0 {
		first = caser.String(f[0])
	}
	full := first
	if n := strings.Join(strings.Fields(member.FullName()), " "); n != "" {
		full = caser.String(n)
	}

	return strings.NewReplacer(
		"{name}", first,
		"{first_name}", first,
		"{full_name}", full,
	).Replace(content)
}
