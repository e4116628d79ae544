package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15

	// Local numbers without a country code are assumed to be Ghanaian.
	defaultCountryCode = "233"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone turns common member-entered formats into E.164
// ("024 123 4567" -> "+233241234567"). It does not validate.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	s := b.String()

	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "+"):
		return s
	case strings.HasPrefix(s, "00"):
		return "+" + s[2:]
	case strings.HasPrefix(s, "0") && len(s) == 10:
		return "+" + defaultCountryCode + s[1:]
	default:
		return "+" + s
	}
}

// ValidatePhone checks an already normalized number.
func ValidatePhone(phone string) error {
	if phone == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	if !strings.HasPrefix(phone, "+") {
		return fmt.Errorf("%w: missing country code", ErrInvalidPhone)
	}
	digits := phone[1:]
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return fmt.Errorf("%w: must have %d-%d digits", ErrInvalidPhone, minPhoneDigits, maxPhoneDigits)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: must contain only digits", ErrInvalidPhone)
		}
	}
	return nil
}

// MaskPhone hides all but the last four digits for logging.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	prefix := ""
	body := phone
	if strings.HasPrefix(phone, "+") {
		prefix = "+"
		body = phone[1:]
	}
	if len(body) <= 4 {
		return prefix + strings.Repeat("*", len(body))
	}
	return prefix + strings.Repeat("*", len(body)-4) + body[len(body)-4:]
}
