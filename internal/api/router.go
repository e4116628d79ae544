package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeventeLantos/congregation-messaging/internal/metrics"
	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

func Router(h *Handler, secret string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe(logger))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("congregation-messaging"))
	})
	r.Get("/v1/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireSecret(secret))

		r.Route("/v1/cron", func(r chi.Router) {
			r.Post("/morning", h.runJob("morning", h.jobs.RunMorning))
			r.Post("/birthdays", h.runJob("birthdays", h.jobs.RunBirthdays))
			r.Post("/scheduled", h.runJob("scheduled", h.jobs.RunScheduled))
			r.Post("/cleanup", h.runJob("cleanup", h.jobs.ReclaimStuck))
		})

		r.Route("/v1/messages", func(r chi.Router) {
			r.Post("/", h.CreateMessage)
			r.Get("/", h.ListMessages)
			r.Post("/rephrase", h.Rephrase)
			r.Get("/{id}", h.GetMessage)
			r.Delete("/{id}", h.DeleteMessage)
			r.Get("/{id}/logs", h.MessageLogs)
		})

		r.Get("/v1/logs", h.ListLogs)
		r.Get("/v1/sms/balance", h.Balance)
		r.Get("/v1/sms/sent/{providerId}", h.LookupSent)

		r.Route("/v1/scheduler", func(r chi.Router) {
			if h.sched == nil {
				r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
					respondError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", errNoScheduler.Error(), nil)
				})
				return
			}
			r.Get("/status", h.SchedulerStatus)
			r.Post("/start", h.SchedulerStart)
			r.Post("/stop", h.SchedulerStop)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, model.CodeNotFound, "route not found", nil)
	})
	return r
}
