package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mise-platform/mise/internal/observability"
	"github.com/mise-platform/mise/internal/rbac"
	"github.com/mise-platform/mise/jobs"
)

func testRouter(ready func(context.Context) error) http.Handler {
	return NewRouter(RouterParams{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:         &Config{AppEnv: "test", HTTPRateLimit: 1000},
		RBACMiddleware: rbac.Middleware{Gate: rbac.NewHeaderGate()},
		Metrics:        observability.NewMetrics(),
		Ready:          ready,
		JobHandler:     jobs.NewHandler(nil, nil),
	})
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestHealthzReportsUnready(t *testing.T) {
	rr := httptest.NewRecorder()
	router := testRouter(func(context.Context) error { return errors.New("pool closed") })
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsAndJobsMounted(t *testing.T) {
	router := testRouter(nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "mise_http_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
