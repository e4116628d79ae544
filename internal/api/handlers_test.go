package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/congregation-messaging/internal/cache"
	"github.com/LeventeLantos/congregation-messaging/internal/model"
	"github.com/LeventeLantos/congregation-messaging/internal/rephrase"
	"github.com/LeventeLantos/congregation-messaging/internal/repo"
	"github.com/LeventeLantos/congregation-messaging/internal/scheduler"
	"github.com/LeventeLantos/congregation-messaging/internal/sms"
)

const testSecret = "s3cret"

type fakeMessageRepo struct {
	gotLimit  int
	gotOffset int
	gotFilter repo.MessageFilter
	created   []model.Message

	items []model.Message
	err   error
}

var _ repo.MessageRepository = (*fakeMessageRepo)(nil)

func (f *fakeMessageRepo) Create(ctx context.Context, m *model.Message) error {
	if f.err != nil {
		return f.err
	}
	m.ID = int64(len(f.created) + 1)
	f.created = append(f.created, *m)
	return nil
}

func (f *fakeMessageRepo) Get(ctx context.Context, id int64) (*model.Message, error) {
	for _, m := range f.items {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, model.NotFound("message not found")
}

func (f *fakeMessageRepo) List(ctx context.Context, filter repo.MessageFilter, limit, offset int) ([]model.Message, error) {
	f.gotFilter = filter
	f.gotLimit = limit
	f.gotOffset = offset
	return f.items, f.err
}

func (f *fakeMessageRepo) Delete(ctx context.Context, id int64) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

func (f *fakeMessageRepo) ClaimDue(context.Context, time.Time, int, func(model.Message) bool) ([]model.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMessageRepo) Finish(context.Context, int64, model.Status, *time.Time, *string) error {
	return errors.New("not implemented")
}

func (f *fakeMessageRepo) ListStuck(context.Context, time.Time) ([]model.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMessageRepo) ListActiveBirthday(context.Context) ([]model.Message, error) {
	return nil, errors.New("not implemented")
}

type fakeLogRepo struct {
	gotFilter model.LogFilter
	items     []model.SendLog
}

func (f *fakeLogRepo) Insert(context.Context, *model.SendLog) error { return nil }
func (f *fakeLogRepo) HasSent(context.Context, int64, int64, string) (bool, error) {
	return false, nil
}
func (f *fakeLogRepo) ReserveBirthday(context.Context, int64, int64, string) (bool, error) {
	return true, nil
}
func (f *fakeLogRepo) ReleaseBirthday(context.Context, int64, int64, string) error { return nil }
func (f *fakeLogRepo) CountSentSince(context.Context, int64, time.Time) (int, *time.Time, error) {
	return 0, nil, nil
}

func (f *fakeLogRepo) List(ctx context.Context, filter model.LogFilter, limit, offset int) ([]model.SendLog, error) {
	f.gotFilter = filter
	return f.items, nil
}

type fakeJobs struct {
	calls []string
	sum   model.RunSummary
	err   error
}

func (f *fakeJobs) run(name string) (model.RunSummary, error) {
	f.calls = append(f.calls, name)
	s := f.sum
	s.Job = name
	return s, f.err
}

func (f *fakeJobs) RunMorning(context.Context) (model.RunSummary, error)   { return f.run("morning") }
func (f *fakeJobs) RunBirthdays(context.Context) (model.RunSummary, error) { return f.run("birthdays") }
func (f *fakeJobs) RunScheduled(context.Context) (model.RunSummary, error) { return f.run("scheduled") }
func (f *fakeJobs) ReclaimStuck(context.Context) (model.RunSummary, error) { return f.run("cleanup") }

type fakeRephraser struct{}

func (fakeRephraser) Rephrase(_ context.Context, message string) (rephrase.Result, error) {
	if strings.TrimSpace(message) == "" {
		return rephrase.Result{}, errors.New("message is empty")
	}
	return rephrase.Result{Text: "short", Source: rephrase.SourceHeuristic, Original: message}, nil
}

type fakeProvider struct{ name string }

func (p fakeProvider) Name() string { return p.name }
func (p fakeProvider) Send(context.Context, string, string, string) (sms.Result, error) {
	return sms.Result{MessageID: "x"}, nil
}

type balanceProvider struct{ fakeProvider }

func (balanceProvider) Balance(context.Context) (sms.Balance, error) {
	return sms.Balance{SMS: "120"}, nil
}

type fakeSent map[string]cache.SentRecord

func (f fakeSent) LookupSent(_ context.Context, id string) (cache.SentRecord, error) {
	rec, ok := f[id]
	if !ok {
		return cache.SentRecord{}, cache.ErrMiss
	}
	return rec, nil
}

type testServer struct {
	sched    *scheduler.Scheduler
	messages *fakeMessageRepo
	logs     *fakeLogRepo
	jobs     *fakeJobs
	mux      http.Handler
}

func newTestServer(t *testing.T, provider sms.Provider) *testServer {
	t.Helper()

	// Long interval so only the immediate tick happens (noop anyway).
	s, err := scheduler.New(time.Hour, func(context.Context) {})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	if provider == nil {
		provider = fakeProvider{name: "wigal"}
	}

	ts := &testServer{
		sched:    s,
		messages: &fakeMessageRepo{},
		logs:     &fakeLogRepo{},
		jobs:     &fakeJobs{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Deps{
		Messages:   ts.messages,
		Logs:       ts.logs,
		Jobs:       ts.jobs,
		Rephraser:  fakeRephraser{},
		Provider:   provider,
		Sent:       fakeSent{"wg-1": {LogID: 5, MessageID: 7, ProviderMessageID: "wg-1"}},
		Scheduler:  s,
		ContentMax: 480,
		Now:        func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) },
		Logger:     logger,
	})
	ts.mux = Router(h, testSecret, logger)
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestCronRequiresSecret(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/v1/cron/birthdays", "", http.StatusUnauthorized},
		{"wrong bearer", "/v1/cron/birthdays", "Bearer nope", http.StatusUnauthorized},
		{"wrong query", "/v1/cron/birthdays?token=nope", "", http.StatusUnauthorized},
		{"bearer", "/v1/cron/birthdays", "Bearer " + testSecret, http.StatusOK},
		{"query", "/v1/cron/birthdays?token=" + testSecret, "", http.StatusOK},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		ts.mux.ServeHTTP(rr, req)

		if rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d body=%q", tc.name, tc.want, rr.Code, rr.Body.String())
		}
		if tc.want == http.StatusUnauthorized {
			body := decodeJSON(t, rr)
			if body["success"] != false || body["error"] != "unauthorized" {
				t.Fatalf("%s: unexpected body %v", tc.name, body)
			}
		}
	}

	if len(ts.jobs.calls) != 2 {
		t.Fatalf("expected 2 authorized runs, got %v", ts.jobs.calls)
	}
}

func TestCronEndpointsRunJobs(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.jobs.sum = model.RunSummary{
		RunID: "run-1",
		Sent:  1,
		Results: []model.ItemResult{
			{MessageID: 1, Outcome: model.OutcomeSent},
		},
	}

	for _, job := range []string{"morning", "birthdays", "scheduled", "cleanup"} {
		rr := ts.do(http.MethodPost, "/v1/cron/"+job, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d body=%q", job, rr.Code, rr.Body.String())
		}

		body := decodeJSON(t, rr)
		if body["success"] != true {
			t.Fatalf("%s: expected success, got %v", job, body)
		}
		results, ok := body["results"].([]any)
		if !ok || len(results) != 1 {
			t.Fatalf("%s: expected one result, got %v", job, body["results"])
		}
		summary, ok := body["summary"].(map[string]any)
		if !ok || summary["runId"] != "run-1" || summary["job"] != job {
			t.Fatalf("%s: unexpected summary %v", job, body["summary"])
		}
	}

	want := []string{"morning", "birthdays", "scheduled", "cleanup"}
	if strings.Join(ts.jobs.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("expected calls %v, got %v", want, ts.jobs.calls)
	}
}

func TestCronFailureReturns500(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.jobs.err = errors.New("db down")

	rr := ts.do(http.MethodPost, "/v1/cron/scheduled", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "db down") {
		t.Fatalf("expected error body to contain cause, got %q", rr.Body.String())
	}
}

func TestCreateMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodPost, "/v1/messages", `{
		"content": "Choir practice tonight at 7",
		"type": "group",
		"recipients": [{"type": "group", "refId": 3}]
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%q", rr.Code, rr.Body.String())
	}
	if len(ts.messages.created) != 1 {
		t.Fatalf("expected one message created, got %d", len(ts.messages.created))
	}

	m := ts.messages.created[0]
	if m.Status != model.Scheduled || m.Frequency != model.OneTime {
		t.Fatalf("unexpected initial state: status=%s frequency=%s", m.Status, m.Frequency)
	}
	if !m.ScheduleTime.Equal(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected schedule time to default to now, got %v", m.ScheduleTime)
	}
}

func TestCreateMessage_ValidationFailureReturns400(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodPost, "/v1/messages", `{"content": "", "type": "telegram"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	details, ok := body["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected field details, got %v", body)
	}
	for _, field := range []string{"content", "type", "recipients"} {
		if _, ok := details[field]; !ok {
			t.Fatalf("expected %q in details, got %v", field, details)
		}
	}
	if len(ts.messages.created) != 0 {
		t.Fatalf("nothing should be created on validation failure")
	}
}

func TestCreateMessage_MalformedBodyReturns400(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodPost, "/v1/messages", `{"content": `)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestListMessages_DefaultsAndArgs(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.messages.items = []model.Message{{ID: 1, Content: "a", Status: model.Completed}}

	rr := ts.do(http.MethodGet, "/v1/messages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ts.messages.gotLimit != 50 || ts.messages.gotOffset != 0 {
		t.Fatalf("expected limit=50 offset=0, got limit=%d offset=%d", ts.messages.gotLimit, ts.messages.gotOffset)
	}
	items, ok := decodeJSON(t, rr)["data"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one item, got %v", rr.Body.String())
	}

	rr = ts.do(http.MethodGet, "/v1/messages?limit=10&offset=5&type=birthday&status=active", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ts.messages.gotLimit != 10 || ts.messages.gotOffset != 5 {
		t.Fatalf("expected limit=10 offset=5, got limit=%d offset=%d", ts.messages.gotLimit, ts.messages.gotOffset)
	}
	if ts.messages.gotFilter.Type != model.TypeBirthday || ts.messages.gotFilter.Status != model.Active {
		t.Fatalf("unexpected filter %+v", ts.messages.gotFilter)
	}

	ts.do(http.MethodGet, "/v1/messages?limit=abc&offset=zzz", "")
	if ts.messages.gotLimit != 50 || ts.messages.gotOffset != 0 {
		t.Fatalf("expected defaults, got limit=%d offset=%d", ts.messages.gotLimit, ts.messages.gotOffset)
	}
}

func TestListMessages_RepoErrorReturns500(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.messages.err = errors.New("db down")

	rr := ts.do(http.MethodGet, "/v1/messages", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "db down") {
		t.Fatalf("expected error body to contain repo error, got %q", rr.Body.String())
	}
}

func TestGetAndDeleteMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.messages.items = []model.Message{{ID: 7, Content: "hello"}}

	if rr := ts.do(http.MethodGet, "/v1/messages/7", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/v1/messages/8", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/v1/messages/abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodDelete, "/v1/messages/7", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestLogs_MaskPhoneAndFilter(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.logs.items = []model.SendLog{{ID: 1, MessageID: 7, Phone: "+233501234567", Status: model.LogSent}}

	rr := ts.do(http.MethodGet, "/v1/messages/7/logs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ts.logs.gotFilter.MessageID == nil || *ts.logs.gotFilter.MessageID != 7 {
		t.Fatalf("expected message filter 7, got %+v", ts.logs.gotFilter)
	}
	if strings.Contains(rr.Body.String(), "+233501234567") {
		t.Fatalf("phone must be masked, got %q", rr.Body.String())
	}

	rr = ts.do(http.MethodGet, "/v1/logs?status=failed&date=2026-05-01", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ts.logs.gotFilter.Status == nil || *ts.logs.gotFilter.Status != model.LogFailed || ts.logs.gotFilter.DateKey != "2026-05-01" {
		t.Fatalf("unexpected filter %+v", ts.logs.gotFilter)
	}

	if rr := ts.do(http.MethodGet, "/v1/logs?date=May-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rr.Code)
	}
}

func TestRephrase(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodPost, "/v1/messages/rephrase", `{"message":"A long announcement"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	data, _ := decodeJSON(t, rr)["data"].(map[string]any)
	if data["text"] != "short" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	if rr := ts.do(http.MethodPost, "/v1/messages/rephrase", `{"message":"  "}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBalance(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(http.MethodGet, "/v1/sms/balance", ""); rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for provider without balance, got %d", rr.Code)
	}

	ts = newTestServer(t, balanceProvider{fakeProvider{name: "arkesel"}})
	rr := ts.do(http.MethodGet, "/v1/sms/balance", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"smsBalance":"120"`) {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	steps := []struct {
		method, path string
		running      bool
	}{
		{http.MethodGet, "/v1/scheduler/status", false},
		{http.MethodPost, "/v1/scheduler/start", true},
		{http.MethodPost, "/v1/scheduler/stop", false},
	}
	for _, st := range steps {
		rr := ts.do(st.method, st.path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d body=%q", st.path, rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running != st.running {
			t.Fatalf("%s: expected running=%v, got %v", st.path, st.running, body)
		}
	}
}

func TestRouterRoot(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "congregation-messaging" {
		t.Fatalf("expected body %q, got %q", "congregation-messaging", got)
	}
}

func TestMetricsIsPublic(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestSchedulerEndpoints_NotConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Deps{
		Messages:  &fakeMessageRepo{},
		Logs:      &fakeLogRepo{},
		Jobs:      &fakeJobs{},
		Rephraser: fakeRephraser{},
		Provider:  fakeProvider{name: "webhook"},
		Logger:    logger,
	})
	mux := Router(h, testSecret, logger)

	req := httptest.NewRequest(http.MethodGet, "/v1/scheduler/status", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%q", rr.Code, rr.Body.String())
	}
	if body := decodeJSON(t, rr); body["code"] != "NOT_CONFIGURED" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLookupSent(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodGet, "/v1/sms/sent/wg-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	data, _ := decodeJSON(t, rr)["data"].(map[string]any)
	if data["logId"] != float64(5) || data["messageId"] != float64(7) {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	if rr := ts.do(http.MethodGet, "/v1/sms/sent/unknown", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
