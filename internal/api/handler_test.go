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

	"github.com/metricsgate/metricsgate/internal/config"
	"github.com/metricsgate/metricsgate/internal/gateway"
)

type fakeGateway struct {
	value    int64
	err      error
	question string
	askedAt  time.Time
}

func (f *fakeGateway) Answer(ctx context.Context, question string, askedAt time.Time) (int64, error) {
	f.question = question
	f.askedAt = askedAt
	if f.err != nil {
		return 0, f.err
	}
	return f.value, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("metricsgate-api", func(key string) (string, bool) {
		if key == "METRICSGATE_PROFILE" {
			return "test", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func testHandler(t *testing.T, gw QuestionAnswerer) http.Handler {
	t.Helper()
	return NewHandler(testConfig(t), Dependencies{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Gateway: gw,
	})
}

func postAsk(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAskReturnsValue(t *testing.T) {
	gw := &fakeGateway{value: 1234}
	h := testHandler(t, gw)

	rr := postAsk(t, h, `{"question": "сколько всего видео?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Value != 1234 {
		t.Fatalf("value = %d, want 1234", resp.Value)
	}
	if gw.question != "сколько всего видео?" {
		t.Fatalf("gateway received question %q", gw.question)
	}
}

func TestAskPassesAskedAt(t *testing.T) {
	gw := &fakeGateway{}
	h := testHandler(t, gw)

	rr := postAsk(t, h, `{"question": "сколько видео вышло вчера?", "asked_at": "2025-11-10T12:00:00Z"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	want := time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)
	if !gw.askedAt.Equal(want) {
		t.Fatalf("askedAt = %s, want %s", gw.askedAt, want)
	}
}

func TestAskRejectsBadRequests(t *testing.T) {
	h := testHandler(t, &fakeGateway{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"question": `},
		{"empty question", `{"question": "   "}`},
		{"missing question", `{}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := postAsk(t, h, tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestAskMapsGatewayErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"upstream unavailable", gateway.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"malformed candidate", gateway.ErrMalformedCandidate, http.StatusServiceUnavailable, "MALFORMED_CANDIDATE"},
		{"validation rejected", gateway.ErrValidationRejected, http.StatusUnprocessableEntity, "QUESTION_NOT_UNDERSTOOD"},
		{"execution failure", gateway.ErrExecutionFailure, http.StatusInternalServerError, "EXECUTION_FAILURE"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := testHandler(t, &fakeGateway{err: tc.err})
			rr := postAsk(t, h, `{"question": "сколько видео?"}`)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			var payload map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if payload["error_code"] != tc.wantCode {
				t.Fatalf("error_code = %v, want %s", payload["error_code"], tc.wantCode)
			}
		})
	}
}

func TestErrorBodyNeverLeaksDetails(t *testing.T) {
	detail := errors.New("pq: column \"secret_col\" does not exist")
	h := testHandler(t, &fakeGateway{err: errors.Join(gateway.ErrExecutionFailure, detail)})

	rr := postAsk(t, h, `{"question": "сколько видео?"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret_col") {
		t.Fatalf("error body leaks execution detail: %s", rr.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	h := testHandler(t, &fakeGateway{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rr.Code)
	}
}

func TestReadyReportsFailingCheck(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{
		Gateway:   &fakeGateway{},
		Readiness: func(ctx context.Context) error { return errors.New("db down") },
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", rr.Code)
	}
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	h := testHandler(t, &fakeGateway{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatal("expected Prometheus exposition output")
	}
}
