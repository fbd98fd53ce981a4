package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shbotirov227/nutva-sub000/internal/common"
	"github.com/shbotirov227/nutva-sub000/internal/config"
	"github.com/shbotirov227/nutva-sub000/internal/crm"
	"github.com/shbotirov227/nutva-sub000/internal/obs"
	"github.com/shbotirov227/nutva-sub000/internal/pricing"
	"github.com/shbotirov227/nutva-sub000/internal/ratelimit"
)

// Dependencies enumerates the shared services the HTTP router is built from.
type Dependencies struct {
	Config          *config.Config
	Logger          zerolog.Logger
	Redis           *redis.Client
	Validator       *validator.Validate
	Limiter         ratelimit.Limiter
	Pricing         *pricing.Provider
	Tasks           crm.TaskClient
	MetricsRegistry *prometheus.Registry
	Tracing         bool
}

func (d Dependencies) registerer() prometheus.Registerer {
	if d.MetricsRegistry != nil {
		return d.MetricsRegistry
	}
	return prometheus.DefaultRegisterer
}

func (d Dependencies) validator() *validator.Validate {
	if d.Validator != nil {
		return d.Validator
	}
	return common.NewValidator()
}

// NewLimiter builds the request limiter selected by strategy. "off" yields nil.
func NewLimiter(strategy string, rdb *redis.Client) (ratelimit.Limiter, error) {
	switch strategy {
	case "sliding", "":
		return ratelimit.SlidingWindow{Client: rdb, Prefix: "rl:"}, nil
	case "fixed":
		return ratelimit.NewRedisFixedWindow(rdb, "rlf")
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", strategy)
	}
}

// ReloadPricing loads the pricing file at path and swaps it into provider.
// On failure the previous table stays active.
func ReloadPricing(provider *pricing.Provider, path string, logger zerolog.Logger) error {
	engine, err := pricing.LoadEngine(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("pricing_reload_failed")
		return err
	}
	prev := provider.Swap(engine)
	evt := logger.Info().Str("pricing_version", engine.Version()).Str("path", path)
	if prev != nil {
		evt = evt.Str("previous_version", prev.Version())
	}
	evt.Msg("pricing_reloaded")
	return nil
}

// RedisChecker probes Redis for readiness.
type RedisChecker struct {
	Client *redis.Client
}

// PingRedis issues PING bounded by timeout.
func (c RedisChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.Client == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Client.Ping(ctx).Err()
}

func newDomainMetrics(d Dependencies) *obs.DomainMetrics {
	return obs.NewDomainMetrics(d.Config.MetricsNamespace, d.registerer())
}
