package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
	"github.com/LeventeLantos/congregation-messaging/internal/repo"
	"github.com/LeventeLantos/congregation-messaging/internal/sms"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeMessages struct {
	mu       sync.Mutex
	byID     map[int64]*model.Message
	finishes []finishCall
	pages    int
}

type finishCall struct {
	ID       int64
	Status   model.Status
	LastSent *time.Time
	LastErr  *string
}

func newFakeMessages(msgs ...model.Message) *fakeMessages {
	f := &fakeMessages{byID: map[int64]*model.Message{}}
	for i := range msgs {
		m := msgs[i]
		f.byID[m.ID] = &m
	}
	return f
}

func (f *fakeMessages) sortedIDs() []int64 {
	ids := make([]int64, 0, len(f.byID))
	for id := range f.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeMessages) get(id int64) model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byID[id]
}

func (f *fakeMessages) Create(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = int64(len(f.byID) + 1)
	cp := *m
	f.byID[m.ID] = &cp
	return nil
}

func (f *fakeMessages) Get(_ context.Context, id int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, model.NotFound("message not found")
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) List(context.Context, repo.MessageFilter, int, int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, id := range f.sortedIDs() {
		out = append(out, *f.byID[id])
	}
	return out, nil
}

func (f *fakeMessages) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}

// ClaimDue pages through candidates limit rows at a time and filters each
// page with isDue, the way the Postgres query does.
func (f *fakeMessages) ClaimDue(_ context.Context, now time.Time, limit int, isDue func(model.Message) bool) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var candidates []*model.Message
	for _, id := range f.sortedIDs() {
		m := f.byID[id]
		if m.Type != model.TypeBirthday && m.Eligible(now) {
			candidates = append(candidates, m)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if (a.LastSentAt == nil) != (b.LastSentAt == nil) {
			return a.LastSentAt == nil
		}
		if a.LastSentAt != nil && !a.LastSentAt.Equal(*b.LastSentAt) {
			return a.LastSentAt.Before(*b.LastSentAt)
		}
		return a.ScheduleTime.Before(b.ScheduleTime)
	})

	var out []model.Message
	for start := 0; start < len(candidates) && len(out) < limit; start += limit {
		end := min(start+limit, len(candidates))
		f.pages++
		for _, m := range candidates[start:end] {
			if len(out) == limit || (isDue != nil && !isDue(*m)) {
				continue
			}
			from := m.Status
			started := now
			m.ClaimedFrom = &from
			m.Status = model.Processing
			m.ProcessingStartedAt = &started
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMessages) Finish(_ context.Context, id int64, status model.Status, lastSent *time.Time, lastErr *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.byID[id]
	m.Status = status
	if lastSent != nil {
		t := *lastSent
		m.LastSentAt = &t
	}
	m.LastError = lastErr
	m.ProcessingStartedAt = nil
	m.ClaimedFrom = nil
	f.finishes = append(f.finishes, finishCall{ID: id, Status: status, LastSent: lastSent, LastErr: lastErr})
	return nil
}

func (f *fakeMessages) ListStuck(_ context.Context, cutoff time.Time) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, id := range f.sortedIDs() {
		m := f.byID[id]
		if m.Status == model.Processing && m.ProcessingStartedAt != nil && m.ProcessingStartedAt.Before(cutoff) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMessages) ListActiveBirthday(context.Context) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, id := range f.sortedIDs() {
		m := f.byID[id]
		if m.Type == model.TypeBirthday && (m.Status == model.Active || m.Status == model.Scheduled) {
			out = append(out, *m)
		}
	}
	return out, nil
}

type fakeMembers struct {
	members    []model.Member
	recipients map[int64][]int64
	resolveErr error
}

func (f *fakeMembers) ResolveRecipients(_ context.Context, messageID int64) ([]model.Member, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	var out []model.Member
	for _, id := range f.recipients[messageID] {
		for _, m := range f.members {
			if m.ID == id && m.Status == model.MemberActive {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (f *fakeMembers) ListWithBirthdays(context.Context) ([]model.Member, error) {
	var out []model.Member
	for _, m := range f.members {
		if m.Status == model.MemberActive && m.DateOfBirth != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

type reservationKey struct {
	messageID, memberID int64
	dateKey             string
}

type fakeLogs struct {
	mu        sync.Mutex
	now       func() time.Time
	entries   []model.SendLog
	reserved  map[reservationKey]bool
	insertErr error
}

func newFakeLogs(now func() time.Time) *fakeLogs {
	return &fakeLogs{now: now, reserved: map[reservationKey]bool{}}
}

func (f *fakeLogs) Insert(_ context.Context, l *model.SendLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if l.Kind == model.TypeBirthday && l.Status == model.LogSent && l.MemberID != nil {
		for _, e := range f.entries {
			if e.Kind == model.TypeBirthday && e.Status == model.LogSent && e.MessageID == l.MessageID &&
				e.MemberID != nil && *e.MemberID == *l.MemberID && e.DateKey == l.DateKey {
				return fmt.Errorf("duplicate: %w", model.ErrConflict)
			}
		}
	}
	l.ID = int64(len(f.entries) + 1)
	l.CreatedAt = f.now()
	f.entries = append(f.entries, *l)
	return nil
}

func (f *fakeLogs) HasSent(_ context.Context, messageID, memberID int64, dateKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.MessageID == messageID && e.MemberID != nil && *e.MemberID == memberID &&
			e.DateKey == dateKey && e.Status == model.LogSent {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLogs) ReserveBirthday(_ context.Context, messageID, memberID int64, dateKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := reservationKey{messageID, memberID, dateKey}
	if f.reserved[k] {
		return false, nil
	}
	f.reserved[k] = true
	return true, nil
}

func (f *fakeLogs) ReleaseBirthday(_ context.Context, messageID, memberID int64, dateKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reserved, reservationKey{messageID, memberID, dateKey})
	return nil
}

func (f *fakeLogs) CountSentSince(_ context.Context, messageID int64, since time.Time) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	var latest *time.Time
	for _, e := range f.entries {
		if e.MessageID == messageID && e.Status == model.LogSent && !e.CreatedAt.Before(since) {
			n++
			if latest == nil || e.CreatedAt.After(*latest) {
				t := e.CreatedAt
				latest = &t
			}
		}
	}
	return n, latest, nil
}

func (f *fakeLogs) List(context.Context, model.LogFilter, int, int) ([]model.SendLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SendLog(nil), f.entries...), nil
}

func (f *fakeLogs) byStatus(status model.LogStatus) []model.SendLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SendLog
	for _, e := range f.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

type sentSMS struct {
	Phone, Content, SenderID string
}

type fakeSMS struct {
	mu    sync.Mutex
	calls []sentSMS
	fail  map[string]bool

	// requireLive fails sends made with a canceled context.
	requireLive bool
}

func (f *fakeSMS) Send(ctx context.Context, phone, content, senderID string) (sms.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requireLive && ctx.Err() != nil {
		return sms.Result{}, ctx.Err()
	}
	f.calls = append(f.calls, sentSMS{Phone: phone, Content: content, SenderID: senderID})
	if f.fail[phone] {
		return sms.Result{}, errors.New("gateway rejected destination")
	}
	return sms.Result{MessageID: fmt.Sprintf("prov-%d", len(f.calls))}, nil
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (f *fakeLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held {
		return nil, false, nil
	}
	return func(context.Context) error {
		f.released++
		return nil
	}, true, nil
}

func strPtr(s string) *string { return &s }

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}
