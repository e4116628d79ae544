package model

import (
	"strings"
	"time"
)

type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

type Member struct {
	ID          int64        `json:"id"`
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	Phone       *string      `json:"phone,omitempty"`
	DateOfBirth *time.Time   `json:"dateOfBirth,omitempty"`
	Status      MemberStatus `json:"status"`
}

func (m Member) PhoneNumber() string {
	if m.Phone == nil {
		return ""
	}
	return strings.TrimSpace(*m.Phone)
}

func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}
