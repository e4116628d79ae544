package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when no record is cached under the key.
var ErrMiss = errors.New("cache miss")

// SentRecord links a provider message id back to the send log row.
type SentRecord struct {
	LogID             int64     `json:"logId"`
	MessageID         int64     `json:"messageId"`
	MemberID          *int64    `json:"memberId,omitempty"`
	ProviderMessageID string    `json:"providerMessageId"`
	SentAt            time.Time `json:"sentAt"`
}

type SentCache interface {
	StoreSent(ctx context.Context, rec SentRecord) error
}

// SentLookup resolves a provider message id, e.g. from a delivery report.
type SentLookup interface {
	LookupSent(ctx context.Context, providerMessageID string) (SentRecord, error)
}

// Locker guards a job across instances. release is nil when ok is false.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
