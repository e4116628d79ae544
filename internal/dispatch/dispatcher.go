package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/LeventeLantos/congregation-messaging/internal/metrics"
	"github.com/LeventeLantos/congregation-messaging/internal/model"
	"github.com/LeventeLantos/congregation-messaging/internal/repo"
	"github.com/LeventeLantos/congregation-messaging/internal/sms"
	"github.com/LeventeLantos/congregation-messaging/internal/tracing"
	"github.com/LeventeLantos/congregation-messaging/internal/validation"
)

type SendClient interface {
	Send(ctx context.Context, phone, content, senderID string) (sms.Result, error)
}

// Job is one recipient of one message.
type Job struct {
	Message model.Message
	Member  model.Member
	Content string
	DateKey string
}

// Dispatcher sends a single job and records the attempt in the send log.
type Dispatcher struct {
	client     SendClient
	logs       repo.LogRepository
	contentMax int
	senderID   string
	logger     *slog.Logger

	onSent   func(ctx context.Context, entry model.SendLog) error
	onFailed func(ctx context.Context, entry model.SendLog, outcome model.Outcome) error
}

func NewDispatcher(client SendClient, logs repo.LogRepository, contentMax int, senderID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:     client,
		logs:       logs,
		contentMax: contentMax,
		senderID:   senderID,
		logger:     logger,
	}
}

func (d *Dispatcher) WithHooks(
	onSent func(ctx context.Context, entry model.SendLog) error,
	onFailed func(ctx context.Context, entry model.SendLog, outcome model.Outcome) error,
) *Dispatcher {
	d.onSent = onSent
	d.onFailed = onFailed
	return d
}

// Deliver never returns an error: every failure is reported in the result.
func (d *Dispatcher) Deliver(ctx context.Context, job Job) model.ItemResult {
	memberID := job.Member.ID
	phone := validation.NormalizePhone(job.Member.PhoneNumber())

	ctx, span := tracing.Start(ctx, "dispatch.deliver",
		attribute.Int64("message_id", job.Message.ID),
		attribute.Int64("member_id", memberID),
		attribute.String("kind", string(job.Message.Type)),
	)
	defer span.End()

	res := model.ItemResult{
		MessageID: job.Message.ID,
		MemberID:  &memberID,
		Phone:     validation.MaskPhone(phone),
	}
	entry := model.SendLog{
		MessageID: job.Message.ID,
		MemberID:  &memberID,
		Kind:      job.Message.Type,
		Phone:     phone,
		DateKey:   job.DateKey,
	}

	senderID := job.Message.SenderID
	if senderID == "" {
		senderID = d.senderID
	}

	var (
		reason  string
		outcome model.Outcome
	)
	switch err := validation.ValidatePhone(phone); {
	case err != nil:
		outcome, reason = model.OutcomeSkipped, err.Error()
	case utf8.RuneCountInString(job.Content) > d.contentMax:
		outcome, reason = model.OutcomeFailed, fmt.Sprintf("content exceeds %d chars", d.contentMax)
	default:
		sent, err := d.client.Send(ctx, phone, job.Content, senderID)
		if err != nil {
			outcome, reason = model.OutcomeFailed, err.Error()
			tracing.Fail(span, err)
		} else {
			outcome = model.OutcomeSent
			res.ProviderMessageID = sent.MessageID
			if sent.MessageID != "" {
				entry.ProviderMessageID = &sent.MessageID
			}
		}
	}

	res.Outcome = outcome
	res.Error = reason
	if outcome == model.OutcomeSent {
		entry.Status = model.LogSent
	} else {
		entry.Status = model.LogFailed
		entry.Error = &reason
	}

	if err := d.logs.Insert(ctx, &entry); err != nil {
		if errors.Is(err, model.ErrConflict) {
			d.logger.Warn("send already logged by another run",
				"message_id", job.Message.ID, "member_id", memberID, "date_key", job.DateKey)
		} else {
			d.logger.Error("failed to write send log",
				"message_id", job.Message.ID, "member_id", memberID, "err", err)
			if res.Error == "" {
				res.Error = "log write failed: " + err.Error()
			}
		}
	}

	metrics.RecordSend(string(job.Message.Type), string(outcome))
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	d.logger.Info("delivery attempted",
		"message_id", job.Message.ID,
		"member_id", memberID,
		"phone", res.Phone,
		"outcome", outcome,
		"reason", reason,
	)

	if outcome == model.OutcomeSent {
		if d.onSent != nil {
			if err := d.onSent(ctx, entry); err != nil {
				d.logger.Warn("sent hook failed", "message_id", job.Message.ID, "err", err)
			}
		}
	} else if d.onFailed != nil {
		if err := d.onFailed(ctx, entry, outcome); err != nil {
			d.logger.Warn("failed hook failed", "message_id", job.Message.ID, "err", err)
		}
	}
	return res
}
