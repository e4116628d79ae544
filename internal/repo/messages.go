package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

type MessageFilter struct {
	Type   model.MessageType
	Status model.Status
}

type MessageRepository interface {
	Create(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id int64) (*model.Message, error)
	List(ctx context.Context, filter MessageFilter, limit, offset int) ([]model.Message, error)
	Delete(ctx context.Context, id int64) error

	// ClaimDue locks eligible non-birthday messages, keeps those accepted by
	// isDue and moves them to processing. Concurrent callers never claim the
	// same message.
	ClaimDue(ctx context.Context, now time.Time, limit int, isDue func(model.Message) bool) ([]model.Message, error)
	// Finish leaves processing with the given status.
	Finish(ctx context.Context, id int64, status model.Status, lastSentAt *time.Time, lastError *string) error
	ListStuck(ctx context.Context, cutoff time.Time) ([]model.Message, error)
	ListActiveBirthday(ctx context.Context) ([]model.Message, error)
}

type MemberRepository interface {
	// ResolveRecipients returns the active members referenced directly or
	// through a group, each member once.
	ResolveRecipients(ctx context.Context, messageID int64) ([]model.Member, error)
	ListWithBirthdays(ctx context.Context) ([]model.Member, error)
}

type LogRepository interface {
	// Insert returns model.ErrConflict when a birthday greeting for the same
	// member, message and day was already logged as sent.
	Insert(ctx context.Context, l *model.SendLog) error
	HasSent(ctx context.Context, messageID, memberID int64, dateKey string) (bool, error)
	ReserveBirthday(ctx context.Context, messageID, memberID int64, dateKey string) (bool, error)
	ReleaseBirthday(ctx context.Context, messageID, memberID int64, dateKey string) error
	// CountSentSince returns the number of sent logs created at or after since
	// and the latest of their creation times, nil when there are none.
	CountSentSince(ctx context.Context, messageID int64, since time.Time) (int, *time.Time, error)
	List(ctx context.Context, filter model.LogFilter, limit, offset int) ([]model.SendLog, error)
}
