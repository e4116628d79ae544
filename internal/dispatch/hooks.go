package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/congregation-messaging/internal/cache"
	"github.com/LeventeLantos/congregation-messaging/internal/events"
	"github.com/LeventeLantos/congregation-messaging/internal/model"
	"github.com/LeventeLantos/congregation-messaging/internal/validation"
)

// NotifyHooks returns dispatcher hooks that record sends in the cache and
// publish an event per attempt. Either collaborator may be nil.
func NotifyHooks(sent cache.SentCache, pub events.Publisher, logger *slog.Logger) (
	func(context.Context, model.SendLog) error,
	func(context.Context, model.SendLog, model.Outcome) error,
) {
	publish := func(ctx context.Context, entry model.SendLog, outcome model.Outcome) {
		if pub == nil {
			return
		}
		e := events.Event{
			RunID:     RunID(ctx),
			Kind:      entry.Kind,
			MessageID: entry.MessageID,
			MemberID:  entry.MemberID,
			Phone:     validation.MaskPhone(entry.Phone),
			Outcome:   outcome,
			At:        time.Now().UTC(),
		}
		if entry.ProviderMessageID != nil {
			e.ProviderMessageID = *entry.ProviderMessageID
		}
		if entry.Error != nil {
			e.Error = *entry.Error
		}
		if err := pub.Publish(ctx, e); err != nil {
			logger.Warn("failed to publish dispatch event", "message_id", entry.MessageID, "err", err)
		}
	}

	onSent := func(ctx context.Context, entry model.SendLog) error {
		publish(ctx, entry, model.OutcomeSent)
		if sent == nil || entry.ProviderMessageID == nil {
			return nil
		}
		return sent.StoreSent(ctx, cache.SentRecord{
			LogID:             entry.ID,
			MessageID:         entry.MessageID,
			MemberID:          entry.MemberID,
			ProviderMessageID: *entry.ProviderMessageID,
			SentAt:            entry.CreatedAt,
		})
	}
	onFailed := func(ctx context.Context, entry model.SendLog, outcome model.Outcome) error {
		publish(ctx, entry, outcome)
		return nil
	}
	return onSent, onFailed
}

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the id of the dispatch run ctx belongs to, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
