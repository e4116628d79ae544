package model

import "time"

type MessageType string

const (
	TypeQuick    MessageType = "quick"
	TypeGroup    MessageType = "group"
	TypeBirthday MessageType = "birthday"
)

type Frequency string

const (
	OneTime Frequency = "one-time"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

type Status string

const (
	Active     Status = "active"
	Inactive   Status = "inactive"
	Scheduled  Status = "scheduled"
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Error      Status = "error"
)

type Message struct {
	ID           int64       `json:"id"`
	Content      string      `json:"content"`
	Type         MessageType `json:"type"`
	Frequency    Frequency   `json:"frequency"`
	ScheduleTime time.Time   `json:"scheduleTime"`
	EndDate      *time.Time  `json:"endDate,omitempty"`
	Status       Status      `json:"status"`
	SenderID     string      `json:"senderId,omitempty"`

	// DaysBefore only applies to birthday messages.
	DaysBefore int `json:"daysBefore"`

	LastSentAt          *time.Time `json:"lastSentAt,omitempty"`
	LastError           *string    `json:"lastError,omitempty"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	ClaimedFrom         *Status    `json:"-"`

	Recipients []Recipient `json:"recipients,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Eligible reports whether the message may be dispatched at now, ignoring
// recurrence bookkeeping.
func (m Message) Eligible(now time.Time) bool {
	if m.Status != Active && m.Status != Scheduled {
		return false
	}
	return !m.ScheduleTime.After(now)
}

func (m Message) IsRecurring() bool {
	return m.Frequency != OneTime && m.Frequency != ""
}

type RecipientType string

const (
	RecipientIndividual RecipientType = "individual"
	RecipientGroup      RecipientType = "group"
)

type Recipient struct {
	MessageID int64         `json:"messageId"`
	Type      RecipientType `json:"type"`
	RefID     int64         `json:"refId"`
}
