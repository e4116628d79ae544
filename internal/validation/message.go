package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

// MessageInput is the body accepted by the message creation endpoint.
type MessageInput struct {
	Content      string            `json:"content"`
	Type         model.MessageType `json:"type"`
	Frequency    model.Frequency   `json:"frequency"`
	ScheduleTime *time.Time        `json:"scheduleTime"`
	EndDate      *time.Time        `json:"endDate"`
	Status       model.Status      `json:"status"`
	SenderID     string            `json:"senderId"`
	DaysBefore   int               `json:"daysBefore"`
	Recipients   []model.Recipient `json:"recipients"`
}

// FieldErrors maps a JSON field name to its problem.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v))
	}
	return strings.Join(parts, "; ")
}

// ValidateMessage checks a creation request and returns the message in its
// initial state. now fills a missing schedule time.
func ValidateMessage(in MessageInput, contentMax int, now time.Time) (model.Message, error) {
	errs := FieldErrors{}

	content := strings.TrimSpace(in.Content)
	switch {
	case content == "":
		errs["content"] = "required"
	case utf8.RuneCountInString(content) > contentMax:
		errs["content"] = fmt.Sprintf("must be at most %d characters", contentMax)
	}

	switch in.Type {
	case model.TypeQuick, model.TypeGroup, model.TypeBirthday:
	default:
		errs["type"] = "must be one of quick, group, birthday"
	}

	freq := in.Frequency
	if freq == "" {
		freq = model.OneTime
	}
	switch freq {
	case model.OneTime, model.Daily, model.Weekly, model.Monthly:
	default:
		errs["frequency"] = "must be one of one-time, daily, weekly, monthly"
	}

	status := in.Status
	if status == "" {
		status = model.Scheduled
		if in.Type == model.TypeBirthday {
			status = model.Active
		}
	}
	switch status {
	case model.Active, model.Inactive, model.Scheduled:
	default:
		errs["status"] = "must be one of active, inactive, scheduled"
	}

	schedule := now
	if in.ScheduleTime != nil {
		schedule = *in.ScheduleTime
	}
	if in.EndDate != nil && in.EndDate.Before(schedule) {
		errs["endDate"] = "must not be before scheduleTime"
	}

	if in.Type == model.TypeBirthday {
		if in.DaysBefore < 0 || in.DaysBefore > 30 {
			errs["daysBefore"] = "must be between 0 and 30"
		}
		if len(in.Recipients) > 0 {
			errs["recipients"] = "birthday messages target all active members"
		}
		freq = model.Daily
	} else {
		if len(in.Recipients) == 0 {
			errs["recipients"] = "at least one recipient is required"
		}
		for i, r := range in.Recipients {
			if r.Type != model.RecipientIndividual && r.Type != model.RecipientGroup {
				errs[fmt.Sprintf("recipients[%d].type", i)] = "must be individual or group"
			}
			if r.RefID <= 0 {
				errs[fmt.Sprintf("recipients[%d].refId", i)] = "must be positive"
			}
		}
	}

	if len(errs) > 0 {
		return model.Message{}, model.InvalidInput("validation failed", errs)
	}

	return model.Message{
		Content:      content,
		Type:         in.Type,
		Frequency:    freq,
		ScheduleTime: schedule,
		EndDate:      in.EndDate,
		Status:       status,
		SenderID:     strings.TrimSpace(in.SenderID),
		DaysBefore:   in.DaysBefore,
		Recipients:   in.Recipients,
	}, nil
}
