package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/p2p/internal/observability"
	"github.com/odyssey-erp/p2p/internal/shared"
	_ "github.com/odyssey-erp/p2p/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestLoadConfigDefaultsAndValidation(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://p2p@localhost/p2p")
	t.Setenv("NOTIFY_RECIPIENTS", "ap@odyssey.example,buyer@odyssey.example")
	t.Setenv("REFERENCE_CACHE_TTL", "5m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5*time.Minute, cfg.ReferenceCacheTTL)
	require.Equal(t, []string{"ap@odyssey.example", "buyer@odyssey.example"}, cfg.NotifyRecipients)
	require.Equal(t, 5, cfg.NotifyMaxRetry)
	require.Equal(t, 720*time.Hour, cfg.IdempotencyRetention)
	require.False(t, cfg.IsProduction())

	t.Setenv("APP_ENV", "production")
	t.Setenv("SMTP_FROM", "nobody")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "SMTP_FROM")
	require.ErrorContains(t, err, "CORS_ALLOWED_ORIGINS")
}

func TestLoadConfigDocumentBackend(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://p2p@localhost/p2p")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "fs", cfg.DocumentBackend)

	t.Setenv("DOCUMENT_BACKEND", "minio")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "MINIO_ENDPOINT")

	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "p2p-documents", cfg.MinioBucket)

	t.Setenv("DOCUMENT_BACKEND", "s3")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "DOCUMENT_BACKEND")
}

func TestLoadConfigPoolSizing(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://p2p@localhost/p2p")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	opts := cfg.PoolOptions("p2p-api")
	require.EqualValues(t, 10, opts.MaxConns)
	require.EqualValues(t, 1, opts.MinConns)
	require.Equal(t, 30*time.Minute, opts.MaxConnLifetime)
	require.Equal(t, "p2p-api", opts.ApplicationName)

	t.Setenv("PG_MAX_CONNS", "4")
	t.Setenv("PG_MIN_CONNS", "6")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "PG_MIN_CONNS")

	t.Setenv("PG_MAX_CONNS", "0")
	t.Setenv("PG_MIN_CONNS", "0")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "PG_MAX_CONNS")
}

func TestActorMiddlewareStoresValidHeader(t *testing.T) {
	var got int64
	var ok bool
	h := actorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(shared.ActorHeader, "42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, ok)
	require.EqualValues(t, 42, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(shared.ActorHeader, "x")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, ok)
}

func newTestRouter(checks map[string]Pinger) http.Handler {
	return NewRouter(RouterParams{
		Config:  &Config{AppEnv: "development", RateLimitPerMinute: 100, AppRequestTimeout: time.Second},
		Metrics: observability.NewMetrics(),
		Checks:  checks,
	})
}

func TestRouterHealthzReportsDependencies(t *testing.T) {
	r := newTestRouter(map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","postgres":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	r = newTestRouter(map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return errors.New("refused") }),
	})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"degraded","redis":"down"}`, rec.Body.String())
}

func TestRouterUnknownRouteUsesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"success":false,"message":"route not found"}`, rec.Body.String())
}

func TestRouterCORSPreflightAllowsActorHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/Finance/Invoice/Invoices/BulkPost", nil)
	req.Header.Set("Origin", "https://erp.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", shared.ActorHeader)
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, req)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), strings.ToLower(shared.ActorHeader))
}

func TestRouterExposesMetrics(t *testing.T) {
	r := newTestRouter(nil)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `p2p_http_requests_total{code="200",route="/healthz"} 1`)
}
