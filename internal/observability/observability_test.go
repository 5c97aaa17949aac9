package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLoggerTo(buf, "info")

	logger.Debug("hidden", nil)
	logger.Info("contact_created", map[string]any{"contact_id": 5})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "contact_created", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(5), entry["contact_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestLoggerFallsBackToInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLoggerTo(buf, "chatty")

	logger.Debug("hidden", nil)
	assert.Zero(t, buf.Len())
	logger.Warn("visible", nil)
	assert.Contains(t, buf.String(), "visible")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRecoverMiddleware(t *testing.T) {
	logs := &bytes.Buffer{}
	handler := RecoverMiddleware(NewLoggerTo(logs, "info"), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contacts", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"internal server error"}`, rec.Body.String())
	assert.Contains(t, logs.String(), "panic_recovered")
}

func TestRequestLoggingMiddlewareRecordsRoute(t *testing.T) {
	logs := &bytes.Buffer{}
	logger := NewLoggerTo(logs, "info")
	metrics := NewMetrics()

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return RequestLoggingMiddleware(logger, metrics, next)
	})
	router.Get("/api/contacts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/contacts/42", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	router.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "http_request", entry["message"])
	assert.Equal(t, "/api/contacts/{id}", entry["route"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status"])
	assert.Equal(t, "192.0.2.1", entry["ip"])

	body := scrape(t, metrics)
	assert.Contains(t, body, `contacts_http_requests_total{method="GET",route="/api/contacts/{id}",status="404"} 1`)
}

func TestMetricsObservers(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveSessionCache(true)
	metrics.ObserveSessionCache(false)
	metrics.ObserveSessionCache(false)
	metrics.ObserveEmail("confirm_email.html", nil)
	metrics.ObserveEmail("reset_password.html", errors.New("smtp down"))
	metrics.ObserveRefreshTokensCleared(3)

	body := scrape(t, metrics)
	assert.Contains(t, body, `contacts_session_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `contacts_session_cache_lookups_total{result="miss"} 2`)
	assert.Contains(t, body, `contacts_emails_total{outcome="sent",template="confirm_email.html"} 1`)
	assert.Contains(t, body, `contacts_emails_total{outcome="failed",template="reset_password.html"} 1`)
	assert.Contains(t, body, `contacts_refresh_tokens_cleared_total 3`)
}

func TestCaptureErrorIgnoresNil(t *testing.T) {
	assert.NotPanics(t, func() {
		CaptureError(nil, nil)
		CaptureError(errors.New("x"), map[string]string{"component": "test"})
	})
}

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
