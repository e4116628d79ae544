package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/congregation-messaging/internal/cache"
	"github.com/LeventeLantos/congregation-messaging/internal/model"
	"github.com/LeventeLantos/congregation-messaging/internal/rephrase"
	"github.com/LeventeLantos/congregation-messaging/internal/repo"
	"github.com/LeventeLantos/congregation-messaging/internal/sms"
	"github.com/LeventeLantos/congregation-messaging/internal/validation"
)

type Jobs interface {
	RunMorning(ctx context.Context) (model.RunSummary, error)
	RunBirthdays(ctx context.Context) (model.RunSummary, error)
	RunScheduled(ctx context.Context) (model.RunSummary, error)
	ReclaimStuck(ctx context.Context) (model.RunSummary, error)
}

type Rephraser interface {
	Rephrase(ctx context.Context, message string) (rephrase.Result, error)
}

type SchedulerControl interface {
	Start() bool
	Stop() bool
	IsRunning() bool
}

type Deps struct {
	Messages  repo.MessageRepository
	Logs      repo.LogRepository
	Jobs      Jobs
	Rephraser Rephraser
	Provider  sms.Provider
	// Sent is nil when Redis is disabled.
	Sent cache.SentLookup
	// Scheduler is nil when the in-process scheduler is not configured.
	Scheduler  SchedulerControl
	ContentMax int
	Now        func() time.Time
	Logger     *slog.Logger
}

type Handler struct {
	messages   repo.MessageRepository
	logs       repo.LogRepository
	jobs       Jobs
	rephraser  Rephraser
	provider   sms.Provider
	sent       cache.SentLookup
	sched      SchedulerControl
	contentMax int
	now        func() time.Time
	logger     *slog.Logger
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		messages:   d.Messages,
		logs:       d.Logs,
		jobs:       d.Jobs,
		rephraser:  d.Rephraser,
		provider:   d.Provider,
		sent:       d.Sent,
		sched:      d.Scheduler,
		contentMax: d.ContentMax,
		now:        d.Now,
		logger:     d.Logger,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) runJob(name string, fn func(context.Context) (model.RunSummary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := fn(r.Context())
		if err != nil {
			handleError(w, fmt.Errorf("%s run failed: %w", name, err), h.logger)
			return
		}

		msg := fmt.Sprintf("%s processed: %d sent, %d failed, %d ignored", name, sum.Sent, sum.Failed, sum.Ignored)
		if sum.Skipped {
			msg = name + " skipped: already running"
		}
		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Message: msg,
			Results: sum.Results,
			Summary: runSummaryView{
				RunID:      sum.RunID,
				Job:        sum.Job,
				Skipped:    sum.Skipped,
				Messages:   sum.Messages,
				Sent:       sum.Sent,
				Failed:     sum.Failed,
				Ignored:    sum.Ignored,
				DurationMs: sum.FinishedAt.Sub(sum.StartedAt).Milliseconds(),
			},
		})
	}
}

type runSummaryView struct {
	RunID      string `json:"runId"`
	Job        string `json:"job"`
	Skipped    bool   `json:"skipped,omitempty"`
	Messages   int    `json:"messages"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Ignored    int    `json:"ignored"`
	DurationMs int64  `json:"durationMs"`
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var in validation.MessageInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		handleError(w, model.InvalidInput("malformed request body", err.Error()), h.logger)
		return
	}

	m, err := validation.ValidateMessage(in, h.contentMax, h.now())
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	if err := h.messages.Create(r.Context(), &m); err != nil {
		handleError(w, err, h.logger)
		return
	}
	h.logger.Info("message created", "message_id", m.ID, "type", m.Type, "frequency", m.Frequency)
	respondData(w, http.StatusCreated, m)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.MessageFilter{
		Type:   model.MessageType(q.Get("type")),
		Status: model.Status(q.Get("status")),
	}

	items, err := h.messages.List(r.Context(), filter, parseInt(q.Get("limit"), 50), parseInt(q.Get("offset"), 0))
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	if items == nil {
		items = []model.Message{}
	}
	respondData(w, http.StatusOK, items)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	m, err := h.messages.Get(r.Context(), id)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	respondData(w, http.StatusOK, m)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	if err := h.messages.Delete(r.Context(), id); err != nil {
		handleError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "message deleted"})
}

func (h *Handler) MessageLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	h.listLogs(w, r, model.LogFilter{MessageID: &id})
}

func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.LogFilter

	if raw := q.Get("messageId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			handleError(w, model.InvalidInput("messageId must be a positive integer", nil), h.logger)
			return
		}
		filter.MessageID = &id
	}
	if raw := q.Get("status"); raw != "" {
		st := model.LogStatus(raw)
		filter.Status = &st
	}
	if raw := q.Get("date"); raw != "" {
		if _, err := time.Parse("2006-01-02", raw); err != nil {
			handleError(w, model.InvalidInput("date must be YYYY-MM-DD", nil), h.logger)
			return
		}
		filter.DateKey = raw
	}
	h.listLogs(w, r, filter)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request, filter model.LogFilter) {
	q := r.URL.Query()
	items, err := h.logs.List(r.Context(), filter, parseInt(q.Get("limit"), 100), parseInt(q.Get("offset"), 0))
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	for i := range items {
		items[i].Phone = validation.MaskPhone(items[i].Phone)
	}
	if items == nil {
		items = []model.SendLog{}
	}
	respondData(w, http.StatusOK, items)
}

type rephraseRequest struct {
	Message string `json:"message"`
}

func (h *Handler) Rephrase(w http.ResponseWriter, r *http.Request) {
	var req rephraseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		handleError(w, model.InvalidInput("malformed request body", err.Error()), h.logger)
		return
	}

	res, err := h.rephraser.Rephrase(r.Context(), req.Message)
	if err != nil {
		handleError(w, model.InvalidInput(err.Error(), nil), h.logger)
		return
	}
	respondData(w, http.StatusOK, res)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	bc, ok := h.provider.(sms.BalanceChecker)
	if !ok {
		respondError(w, http.StatusNotImplemented, "NOT_SUPPORTED",
			fmt.Sprintf("provider %s does not report a balance", h.provider.Name()), nil)
		return
	}

	bal, err := bc.Balance(r.Context())
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	respondData(w, http.StatusOK, bal)
}

func (h *Handler) LookupSent(w http.ResponseWriter, r *http.Request) {
	if h.sent == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "sent cache is not configured", nil)
		return
	}

	rec, err := h.sent.LookupSent(r.Context(), chi.URLParam(r, "providerId"))
	if errors.Is(err, cache.ErrMiss) {
		err = model.NotFound("no recent send with that provider message id")
	}
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	respondData(w, http.StatusOK, rec)
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.InvalidInput("id must be a positive integer", nil)
	}
	return id, nil
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

var errNoScheduler = errors.New("in-process scheduler is not configured")
