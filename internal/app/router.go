package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shbotirov227/nutva-sub000/internal/cart"
	"github.com/shbotirov227/nutva-sub000/internal/common"
	"github.com/shbotirov227/nutva-sub000/internal/crm"
	"github.com/shbotirov227/nutva-sub000/internal/health"
	"github.com/shbotirov227/nutva-sub000/internal/obs"
	"github.com/shbotirov227/nutva-sub000/internal/order"
	"github.com/shbotirov227/nutva-sub000/internal/ratelimit"
	"github.com/shbotirov227/nutva-sub000/internal/security"
)

// NewRouter assembles the public HTTP API.
func NewRouter(d Dependencies) http.Handler {
	cfg := d.Config
	logger := d.Logger
	metrics := newDomainMetrics(d)
	validate := d.validator()

	cartSvc := &cart.Service{Pricing: d.Pricing, Metrics: metrics}
	cartHandler := &cart.Handler{Svc: cartSvc, Validate: validate}
	orderHandler := &order.Handler{
		Svc: &order.Service{
			Quotes: cartSvc,
			Forwarder: crm.Enqueuer{
				Client:   d.Tasks,
				Queue:    cfg.QueueName,
				MaxRetry: cfg.QueueMaxRetry,
				Timeout:  cfg.CRMTimeout * 4,
			},
			Metrics: metrics,
		},
		Validate: validate,
	}
	healthHandler := health.Handler{
		Checker: RedisChecker{Client: d.Redis},
		Pricing: d.Pricing,
	}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	limit := ratelimit.Handler{
		Limiter: d.Limiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("api"),
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.MetricsEnabled {
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, d.registerer())}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.MetricsEnabled {
		if d.MetricsRegistry != nil {
			r.Handle("/metrics", promhttp.HandlerFor(d.MetricsRegistry, promhttp.HandlerOpts{}))
		} else {
			r.Handle("/metrics", promhttp.Handler())
		}
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(limit.Middleware)
		v.Get("/pricing/products", cartHandler.ListProducts)
		v.Get("/pricing/products/{key}", cartHandler.GetProduct)

		v.Group(func(w chi.Router) {
			w.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
			w.Post("/cart/quote", cartHandler.Quote)
			w.With(idem.Middleware).Post("/orders", orderHandler.Submit)
		})
	})

	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
