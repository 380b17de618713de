package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/triagestack/ticket-router/internal/audit"
	"github.com/triagestack/ticket-router/internal/metrics"
	"github.com/triagestack/ticket-router/internal/models"
)

// RoutingFacade is the service surface the handlers depend on.
type RoutingFacade interface {
	Route(ctx context.Context, ticket models.Ticket) (models.RoutingDecision, error)
	SubmitOutcome(ctx context.Context, event models.OutcomeEvent, ticketText string) error
	AccuracySnapshot() []models.AccuracyRecord
}

// ConfigReloader re-reads the layered routing documents.
type ConfigReloader interface {
	Reload() error
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(logger *slog.Logger, svc RoutingFacade, reloader ConfigReloader) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(requestLogger(logger))
	r.Use(recovery(logger))

	r.Get("/api/v1/health", handleHealth)
	r.Post("/api/v1/route", handleRoute(svc))
	r.Post("/api/v1/outcomes", handleOutcome(svc))
	r.Get("/api/v1/accuracy", handleAccuracy(svc))
	r.Post("/api/v1/config/reload", handleReload(logger, reloader))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleRoute(svc RoutingFacade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TicketID string            `json:"ticket_id"`
			Text     string            `json:"text"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
			return
		}

		ticket := models.Ticket{ID: req.TicketID, Text: req.Text, Metadata: req.Metadata}
		decision, err := svc.Route(r.Context(), ticket)
		if err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST", verr.Error())
				return
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "routing did not finish in time")
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "routing failed")
			return
		}
		writeData(w, http.StatusOK, decision)
	}
}

func handleOutcome(svc RoutingFacade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TicketID          string  `json:"ticket_id"`
			ActualDepartment  string  `json:"actual_department"`
			ResolutionSeconds float64 `json:"resolution_seconds"`
			Satisfaction      float64 `json:"satisfaction"`
			TicketText        string  `json:"ticket_text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
			return
		}

		event := models.OutcomeEvent{
			TicketID:         req.TicketID,
			ActualDepartment: req.ActualDepartment,
			ResolutionTime:   time.Duration(req.ResolutionSeconds * float64(time.Second)),
			Satisfaction:     req.Satisfaction,
		}
		if err := svc.SubmitOutcome(r.Context(), event, req.TicketText); err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST", verr.Error())
				return
			}
			if errors.Is(err, audit.ErrNotFound) {
				writeError(w, http.StatusNotFound, "UNKNOWN_TICKET", "no decision recorded for ticket")
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "recording outcome failed")
			return
		}
		writeData(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	}
}

func handleAccuracy(svc RoutingFacade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, svc.AccuracySnapshot())
	}
}

func handleReload(logger *slog.Logger, reloader ConfigReloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reloader == nil {
			writeError(w, http.StatusNotImplemented, "NOT_CONFIGURED", "layered configuration is not enabled")
			return
		}
		if err := reloader.Reload(); err != nil {
			metrics.ObserveConfigReload(false)
			logger.Warn("config reload rejected", slog.Any("error", err))
			writeError(w, http.StatusUnprocessableEntity, "RELOAD_REJECTED", err.Error())
			return
		}
		metrics.ObserveConfigReload(true)
		logger.Info("config reloaded")
		writeData(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("remote_addr", r.RemoteAddr))
		})
	}
}

func recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						slog.Any("error", err),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
