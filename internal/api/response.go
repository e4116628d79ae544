package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
	Results any    `json:"results,omitempty"`
	Summary any    `json:"summary,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, envelope{Success: false, Error: message, Code: code, Details: details})
}

// handleError maps application errors to HTTP responses. Unknown errors are
// 500s carrying the error text.
func handleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		respondError(w, statusForCode(appErr.Code), appErr.Code, appErr.Message, appErr.Details)
		return
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		respondError(w, http.StatusNotFound, model.CodeNotFound, err.Error(), nil)
	case errors.Is(err, model.ErrConflict):
		respondError(w, http.StatusConflict, model.CodeConflict, err.Error(), nil)
	default:
		logger.Error("internal server error", "err", err)
		respondError(w, http.StatusInternalServerError, model.CodeInternal, err.Error(), nil)
	}
}

func statusForCode(code string) int {
	switch code {
	case model.CodeInvalidInput:
		return http.StatusBadRequest
	case model.CodeUnauthorized:
		return http.StatusUnauthorized
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
