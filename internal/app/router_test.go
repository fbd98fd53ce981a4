package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shbotirov227/nutva-sub000/internal/app"
	"github.com/shbotirov227/nutva-sub000/internal/config"
	"github.com/shbotirov227/nutva-sub000/internal/pricing"
)

type recordingTasks struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (r *recordingTasks) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t1"}, nil
}

func (r *recordingTasks) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:            "test",
		MaxBodyBytes:      16 * 1024,
		MetricsNamespace:  "nutva_test",
		MetricsEnabled:    true,
		RateLimitStrategy: "sliding",
		RateLimitWindow:   time.Minute,
		RateLimitMax:      100,
		IdempotencyTTL:    time.Hour,
		QueueName:         "crm",
		QueueMaxRetry:     3,
		CRMTimeout:        time.Second,
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) (http.Handler, *recordingTasks, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := pricing.LoadEngine("")
	require.NoError(t, err)
	limiter, err := app.NewLimiter(cfg.RateLimitStrategy, rdb)
	require.NoError(t, err)

	tasks := &recordingTasks{}
	router := app.NewRouter(app.Dependencies{
		Config:          cfg,
		Logger:          zerolog.Nop(),
		Redis:           rdb,
		Limiter:         limiter,
		Pricing:         pricing.NewProvider(engine),
		Tasks:           tasks,
		MetricsRegistry: prometheus.NewRegistry(),
	})
	return router, tasks, mr
}

func do(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

const orderBody = `{"customer":{"name":"Aziza","phone":"+998901234567"},"lines":[{"productKey":"COMPLEX","quantity":3}]}`

func TestRouterQuoteAndHealth(t *testing.T) {
	router, _, _ := newTestRouter(t, testConfig())

	rr := do(router, http.MethodPost, "/api/v1/cart/quote", `{"lines":[{"productKey":"COMPLEX","quantity":3}]}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":1500000`)
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.NotEmpty(t, rr.Header().Get("X-RateLimit-Remaining"))

	rr = do(router, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "nutva_test_pricing_quote_total")
	require.Contains(t, rr.Body.String(), "nutva_test_http_requests_total")
}

func TestRouterOrderIdempotency(t *testing.T) {
	router, tasks, _ := newTestRouter(t, testConfig())
	headers := map[string]string{"Idempotency-Key": "abc-123"}

	rr := do(router, http.MethodPost, "/api/v1/orders", orderBody, headers)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Contains(t, rr.Body.String(), `"bonus"`)

	rr = do(router, http.MethodPost, "/api/v1/orders", orderBody, headers)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, 1, tasks.count())
}

func TestRouterFailedOrderReleasesIdempotencyKey(t *testing.T) {
	router, tasks, _ := newTestRouter(t, testConfig())
	headers := map[string]string{"Idempotency-Key": "retry-me"}

	bad := `{"customer":{"name":"Aziza","phone":"+998901234567"},"lines":[{"productKey":"NOPE","quantity":1}]}`
	rr := do(router, http.MethodPost, "/api/v1/orders", bad, headers)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(router, http.MethodPost, "/api/v1/orders", orderBody, headers)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, 1, tasks.count())
}

func TestRouterRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 2
	router, _, _ := newTestRouter(t, cfg)

	for i := 0; i < 2; i++ {
		rr := do(router, http.MethodGet, "/api/v1/pricing/products", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := do(router, http.MethodGet, "/api/v1/pricing/products", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	// health endpoints sit outside the limited group
	rr = do(router, http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 64
	router, _, _ := newTestRouter(t, cfg)

	rr := do(router, http.MethodPost, "/api/v1/cart/quote", `{"lines":[`+strings.Repeat(`{"productKey":"COMPLEX","quantity":1},`, 10)+`{"productKey":"COMPLEX","quantity":1}]}`, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestRouterReadyFailsWhenRedisDown(t *testing.T) {
	router, _, mr := newTestRouter(t, testConfig())
	mr.Close()

	rr := do(router, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestReloadPricing(t *testing.T) {
	engine, err := pricing.LoadEngine("")
	require.NoError(t, err)
	provider := pricing.NewProvider(engine)

	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "2025-01"
products:
  COMPLEX:
    tiers:
      - {quantity: 1, unitPrice: 1000000}
`), 0o600))
	require.NoError(t, app.ReloadPricing(provider, path, zerolog.Nop()))
	require.Equal(t, "2025-01", provider.Engine().Version())

	require.NoError(t, os.WriteFile(path, []byte("version: broken\nproducts: {COMPLEX: {tiers: []}}\n"), 0o600))
	require.Error(t, app.ReloadPricing(provider, path, zerolog.Nop()))
	require.Equal(t, "2025-01", provider.Engine().Version())
}

func TestNewLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := app.NewLimiter("off", rdb)
	require.NoError(t, err)
	require.Nil(t, l)

	l, err = app.NewLimiter("fixed", rdb)
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = app.NewLimiter("leaky", rdb)
	require.Error(t, err)
}
