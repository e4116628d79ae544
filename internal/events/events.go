// Package events announces dispatch outcomes to other services.
package events

import (
	"context"
	"time"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

// Event describes one delivery attempt. Phone is always masked.
type Event struct {
	RunID             string            `json:"runId,omitempty"`
	Kind              model.MessageType `json:"kind"`
	MessageID         int64             `json:"messageId"`
	MemberID          *int64            `json:"memberId,omitempty"`
	Phone             string            `json:"phone,omitempty"`
	Outcome           model.Outcome     `json:"outcome"`
	ProviderMessageID string            `json:"providerMessageId,omitempty"`
	Error             string            `json:"error,omitempty"`
	At                time.Time         `json:"at"`
}

func (e Event) RoutingKey() string {
	return "dispatch." + string(e.Outcome)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
