package model

import "time"

type LogStatus string

const (
	LogSent      LogStatus = "sent"
	LogFailed    LogStatus = "failed"
	LogPending   LogStatus = "pending"
	LogDelivered LogStatus = "delivered"
	LogRejected  LogStatus = "rejected"
	LogExpired   LogStatus = "expired"
)

type SendLog struct {
	ID                int64       `json:"id"`
	MessageID         int64       `json:"messageId"`
	MemberID          *int64      `json:"memberId,omitempty"`
	Kind              MessageType `json:"kind"`
	Phone             string      `json:"phone"`
	Status            LogStatus   `json:"status"`
	ProviderMessageID *string     `json:"providerMessageId,omitempty"`
	Error             *string     `json:"error,omitempty"`
	DateKey           string      `json:"dateKey"`
	CreatedAt         time.Time   `json:"createdAt"`
}

type LogFilter struct {
	MessageID *int64
	Status    *LogStatus
	DateKey   string
}
