// Package dispatch runs the scheduled and birthday send cycles.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/LeventeLantos/congregation-messaging/internal/cache"
	"github.com/LeventeLantos/congregation-messaging/internal/calendar"
	"github.com/LeventeLantos/congregation-messaging/internal/metrics"
	"github.com/LeventeLantos/congregation-messaging/internal/model"
	"github.com/LeventeLantos/congregation-messaging/internal/repo"
	"github.com/LeventeLantos/congregation-messaging/internal/tracing"
	"github.com/LeventeLantos/congregation-messaging/internal/validation"
)

const (
	JobMorning   = "morning"
	JobBirthdays = "birthdays"
	JobScheduled = "scheduled"
	JobCleanup   = "cleanup"
)

type Options struct {
	Messages   repo.MessageRepository
	Members    repo.MemberRepository
	Logs       repo.LogRepository
	Dispatcher *Dispatcher

	// Locker is optional. Without it only in-process overlap is prevented.
	Locker  cache.Locker
	LockTTL time.Duration

	Location   *time.Location
	StuckAfter time.Duration
	BatchSize  int
	RunTimeout time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

type Service struct {
	messages   repo.MessageRepository
	members    repo.MemberRepository
	logs       repo.LogRepository
	dispatcher *Dispatcher
	locker     cache.Locker
	lockTTL    time.Duration
	loc        *time.Location
	stuckAfter time.Duration
	batchSize  int
	runTimeout time.Duration
	now        func() time.Time
	logger     *slog.Logger

	flight singleflight.Group
}

func NewService(opts Options) *Service {
	s := &Service{
		messages:   opts.Messages,
		members:    opts.Members,
		logs:       opts.Logs,
		dispatcher: opts.Dispatcher,
		locker:     opts.Locker,
		lockTTL:    opts.LockTTL,
		loc:        opts.Location,
		stuckAfter: opts.StuckAfter,
		batchSize:  opts.BatchSize,
		runTimeout: opts.RunTimeout,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.stuckAfter <= 0 {
		s.stuckAfter = 10 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 50
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 15 * time.Minute
	}
	if s.runTimeout <= 0 {
		s.runTimeout = 10 * time.Minute
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RunMorning reclaims stuck messages, then sends birthday greetings, then
// scheduled messages.
func (s *Service) RunMorning(ctx context.Context) (model.RunSummary, error) {
	return s.run(ctx, JobMorning, false, func(ctx context.Context, sum *model.RunSummary) error {
		for _, step := range []func(context.Context) (model.RunSummary, error){
			s.ReclaimStuck,
			s.RunBirthdays,
			s.RunScheduled,
		} {
			part, err := step(ctx)
			if err != nil {
				return err
			}
			sum.Merge(part)
		}
		return nil
	})
}

func (s *Service) RunScheduled(ctx context.Context) (model.RunSummary, error) {
	return s.run(ctx, JobScheduled, true, s.scheduled)
}

func (s *Service) RunBirthdays(ctx context.Context) (model.RunSummary, error) {
	return s.run(ctx, JobBirthdays, true, s.birthdays)
}

func (s *Service) ReclaimStuck(ctx context.Context) (model.RunSummary, error) {
	return s.run(ctx, JobCleanup, true, s.reclaim)
}

// run coalesces concurrent calls for the same job inside this process and,
// when locked is set and a Locker is configured, across instances.
func (s *Service) run(ctx context.Context, job string, locked bool, fn func(context.Context, *model.RunSummary) error) (model.RunSummary, error) {
	v, err, _ := s.flight.Do(job, func() (any, error) {
		// Shared by every waiting caller; none of them cancels it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
		defer cancel()

		started := s.now()
		sum := model.RunSummary{
			RunID:     uuid.NewString(),
			Job:       job,
			StartedAt: started,
			Results:   []model.ItemResult{},
		}

		ctx = withRunID(ctx, sum.RunID)
		ctx, span := tracing.Start(ctx, "dispatch."+job, attribute.String("run_id", sum.RunID))
		defer span.End()

		log := s.logger.With("job", job, "run_id", sum.RunID)

		if locked && s.locker != nil {
			release, ok, err := s.locker.Acquire(ctx, job, s.lockTTL)
			switch {
			case err != nil:
				log.Warn("run lock unavailable, continuing with database guards", "err", err)
			case !ok:
				log.Info("run skipped, another instance holds the lock")
				sum.Skipped = true
				sum.FinishedAt = s.now()
				metrics.RecordRun(job, "skipped", started)
				return sum, nil
			default:
				defer func() {
					if err := release(context.WithoutCancel(ctx)); err != nil {
						log.Warn("failed to release run lock", "err", err)
					}
				}()
			}
		}

		err := fn(ctx, &sum)
		sum.FinishedAt = s.now()

		result := "ok"
		if err != nil {
			result = "error"
			tracing.Fail(span, err)
			log.Error("run failed", "err", err)
		}
		metrics.RecordRun(job, result, started)

		log.Info("run finished",
			"messages", sum.Messages,
			"sent", sum.Sent,
			"failed", sum.Failed,
			"ignored", sum.Ignored,
			"duration_ms", sum.FinishedAt.Sub(started).Milliseconds(),
		)
		return sum, err
	})

	sum, _ := v.(model.RunSummary)
	return sum, err
}

func (s *Service) scheduled(ctx context.Context, sum *model.RunSummary) error {
	now := s.now()

	claimed, err := s.messages.ClaimDue(ctx, now, s.batchSize, func(m model.Message) bool {
		return calendar.IsDue(m, now) || calendar.Expired(m, now)
	})
	if err != nil {
		return fmt.Errorf("claim due messages: %w", err)
	}

	dateKey := calendar.DateKey(now, s.loc)
	for _, m := range claimed {
		sum.Messages++
		log := s.logger.With("message_id", m.ID, "run_id", sum.RunID)

		if calendar.Expired(m, now) {
			s.finish(ctx, log, m.ID, model.Completed, nil, nil)
			continue
		}

		members, err := s.members.ResolveRecipients(ctx, m.ID)
		if err != nil {
			reason := "resolve recipients: " + err.Error()
			log.Error("failed to resolve recipients", "err", err)
			s.finish(ctx, log, m.ID, s.afterAttempt(m, 0), nil, &reason)
			continue
		}

		seen := make(map[string]bool, len(members))
		sent := 0
		for _, member := range members {
			if r, dup := duplicatePhone(seen, m.ID, member); dup {
				sum.Add(r)
				continue
			}
			r := s.dispatcher.Deliver(ctx, Job{
				Message: m,
				Member:  member,
				Content: Personalize(m.Content, member),
				DateKey: dateKey,
			})
			if r.Outcome == model.OutcomeSent {
				sent++
			}
			sum.Add(r)
		}

		var (
			lastSent  *time.Time
			lastError *string
		)
		if sent > 0 {
			lastSent = &now
		} else {
			reason := "no recipient could be reached"
			if len(members) == 0 {
				reason = "no active recipients"
			}
			lastError = &reason
		}
		s.finish(ctx, log, m.ID, s.afterAttempt(m, sent), lastSent, lastError)
	}
	return nil
}

// afterAttempt is the status a claimed message leaves processing with.
func (s *Service) afterAttempt(m model.Message, sent int) model.Status {
	if !m.IsRecurring() {
		if sent > 0 {
			return model.Completed
		}
		return model.Error
	}
	if m.ClaimedFrom != nil {
		return *m.ClaimedFrom
	}
	return model.Active
}

func (s *Service) finish(ctx context.Context, log *slog.Logger, id int64, status model.Status, lastSent *time.Time, lastError *string) {
	if err := s.messages.Finish(ctx, id, status, lastSent, lastError); err != nil {
		log.Error("failed to update message status", "status", status, "err", err)
	}
}

func duplicatePhone(seen map[string]bool, messageID int64, member model.Member) (model.ItemResult, bool) {
	phone := validation.NormalizePhone(member.PhoneNumber())
	if validation.ValidatePhone(phone) != nil {
		return model.ItemResult{}, false
	}
	if seen[phone] {
		id := member.ID
		return model.ItemResult{
			MessageID: messageID,
			MemberID:  &id,
			Phone:     validation.MaskPhone(phone),
			Outcome:   model.OutcomeDuplicate,
			Error:     "phone already messaged in this run",
		}, true
	}
	seen[phone] = true
	return model.ItemResult{}, false
}

func (s *Service) birthdays(ctx context.Context, sum *model.RunSummary) error {
	now := s.now()
	today := calendar.Today(now, s.loc)
	dateKey := calendar.DateKey(now, s.loc)

	msgs, err := s.messages.ListActiveBirthday(ctx)
	if err != nil {
		return fmt.Errorf("list birthday messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	members, err := s.members.ListWithBirthdays(ctx)
	if err != nil {
		return fmt.Errorf("list members with birthdays: %w", err)
	}

	for _, m := range msgs {
		if !m.Eligible(now) {
			continue
		}
		sum.Messages++

		if m.EndDate != nil && now.After(*m.EndDate) {
			s.finish(ctx, s.logger.With("message_id", m.ID), m.ID, model.Completed, nil, nil)
			continue
		}

		sent := 0
		for _, member := range members {
			if member.DateOfBirth == nil || !calendar.BirthdayMatches(*member.DateOfBirth, today, m.DaysBefore) {
				continue
			}
			r := s.greet(ctx, m, member, dateKey)
			if r.Outcome == model.OutcomeSent {
				sent++
			}
			sum.Add(r)
		}

		if sent > 0 {
			s.finish(ctx, s.logger.With("message_id", m.ID), m.ID, m.Status, &now, nil)
		}
	}
	return nil
}

// greet sends one birthday message at most once per member and day: a
// prior sent log or a reservation held by another run makes it a duplicate.
func (s *Service) greet(ctx context.Context, m model.Message, member model.Member, dateKey string) model.ItemResult {
	memberID := member.ID
	base := model.ItemResult{
		MessageID: m.ID,
		MemberID:  &memberID,
		Phone:     validation.MaskPhone(validation.NormalizePhone(member.PhoneNumber())),
	}
	log := s.logger.With("message_id", m.ID, "member_id", memberID, "date_key", dateKey)

	sent, err := s.logs.HasSent(ctx, m.ID, memberID, dateKey)
	if err != nil {
		log.Error("failed to check send log", "err", err)
		base.Outcome, base.Error = model.OutcomeFailed, "dedup check failed: "+err.Error()
		return base
	}
	if sent {
		base.Outcome, base.Error = model.OutcomeDuplicate, "already greeted today"
		return base
	}

	ok, err := s.logs.ReserveBirthday(ctx, m.ID, memberID, dateKey)
	if err != nil {
		log.Error("failed to reserve birthday send", "err", err)
		base.Outcome, base.Error = model.OutcomeFailed, "reservation failed: "+err.Error()
		return base
	}
	if !ok {
		base.Outcome, base.Error = model.OutcomeDuplicate, "greeting in progress elsewhere"
		return base
	}

	r := s.dispatcher.Deliver(ctx, Job{
		Message: m,
		Member:  member,
		Content: Personalize(m.Content, member),
		DateKey: dateKey,
	})
	if r.Outcome != model.OutcomeSent {
		if err := s.logs.ReleaseBirthday(context.WithoutCancel(ctx), m.ID, memberID, dateKey); err != nil {
			log.Error("failed to release birthday reservation", "err", err)
		}
	}
	return r
}

func (s *Service) reclaim(ctx context.Context, sum *model.RunSummary) error {
	now := s.now()

	stuck, err := s.messages.ListStuck(ctx, now.Add(-s.stuckAfter))
	if err != nil {
		return fmt.Errorf("list stuck messages: %w", err)
	}

	for _, m := range stuck {
		sum.Messages++
		log := s.logger.With("message_id", m.ID, "run_id", sum.RunID)

		since := m.UpdatedAt
		if m.ProcessingStartedAt != nil {
			since = *m.ProcessingStartedAt
		}
		n, latest, err := s.logs.CountSentSince(ctx, m.ID, since)
		if err != nil {
			log.Error("failed to count sends of stuck message", "err", err)
			continue
		}

		status := model.Active
		if m.ClaimedFrom != nil {
			status = *m.ClaimedFrom
		}
		if n > 0 && !m.IsRecurring() {
			status = model.Completed
		}

		s.finish(ctx, log, m.ID, status, latest, nil)
		metrics.RecordReclaim(string(status))
		log.Info("reclaimed stuck message", "status", status, "sent_logs", n)
	}
	return nil
}
