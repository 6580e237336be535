// Package api exposes the question gateway over HTTP. The surface is
// deliberately small: a health probe, a readiness probe, Prometheus metrics
// and one POST endpoint that answers a question with a single number.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metricsgate/metricsgate/internal/config"
	"github.com/metricsgate/metricsgate/internal/gateway"
	"github.com/metricsgate/metricsgate/internal/observability"
)

const maxQuestionBytes = 16 << 10

type ReadinessCheck func(ctx context.Context) error

// QuestionAnswerer resolves a question to one number. *gateway.Gateway is
// the production implementation.
type QuestionAnswerer interface {
	Answer(ctx context.Context, question string, askedAt time.Time) (int64, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Gateway           QuestionAnswerer
}

type askRequest struct {
	Question string    `json:"question"`
	AskedAt  time.Time `json:"asked_at,omitempty"`
}

type askResponse struct {
	Value int64 `json:"value"`
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "GATEWAY_MISSING", "question gateway is not configured", false)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxQuestionBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object with a question field", false)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_QUESTION", "question must not be empty", false)
		return
	}

	value, err := deps.Gateway.Answer(r.Context(), req.Question, req.AskedAt)
	if err != nil {
		status, code, message, retryable := mapGatewayError(err)
		writeError(r.Context(), w, status, code, message, retryable)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Value: value})
}

// mapGatewayError translates the gateway taxonomy into responses. Messages
// stay generic: validation details and database errors never leak to
// clients.
func mapGatewayError(err error) (status int, code, message string, retryable bool) {
	switch {
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "the answer service is temporarily unavailable, try again later", true
	case errors.Is(err, gateway.ErrMalformedCandidate):
		return http.StatusServiceUnavailable, "MALFORMED_CANDIDATE", "the answer service is temporarily unavailable, try again later", true
	case errors.Is(err, gateway.ErrValidationRejected):
		return http.StatusUnprocessableEntity, "QUESTION_NOT_UNDERSTOOD", "could not translate the question into a supported metric query", false
	case errors.Is(err, gateway.ErrExecutionFailure):
		return http.StatusInternalServerError, "EXECUTION_FAILURE", "failed to compute the answer", false
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "the question took too long to answer", true
	default:
		return http.StatusInternalServerError, "INTERNAL", "failed to compute the answer", false
	}
}

func CheckDatabase(ping func(ctx context.Context) error) ReadinessCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return errors.New("database ping is not configured")
		}
		return ping(ctx)
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
