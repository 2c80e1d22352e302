package fetcher

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/resilience"
	"github.com/ruslano69/datasync/pkg/retry"
)

// RateLimitConfig - ограничение частоты обращений к источнику
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// GuardConfig - защита источника
type GuardConfig struct {
	CircuitBreaker resilience.Config `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
	Retry          retry.Config      `yaml:"retry"`
}

// Guard оборачивает источник: ограничитель частоты, circuit breaker на
// каждый интерфейс и повтор неудачных обращений. Ошибки конфигурации
// и отмена контекста не повторяются и не открывают circuit.
type Guard struct {
	inner    Fetcher
	breakers *resilience.Group
	limiter  *rate.Limiter
	retryer  *retry.Retryer
	logger   zerolog.Logger
}

// NewGuard создает защищенный источник
func NewGuard(inner Fetcher, cfg GuardConfig, logger zerolog.Logger) (*Guard, error) {
	cbCfg := cfg.CircuitBreaker
	if cbCfg.IsFailure == nil {
		cbCfg.IsFailure = isSourceFailure
	}
	if err := cbCfg.Validate(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, "fetcher.guard", err)
	}

	retryCfg := cfg.Retry
	retryCfg.IsRetryable = isRetryableFetch
	retryCfg.DLQ.Enabled = false
	retryer, err := retry.NewRetryer(retryCfg)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, "fetcher.guard", err)
	}

	g := &Guard{
		inner:    inner,
		breakers: resilience.NewGroup(cbCfg),
		retryer:  retryer,
		logger:   logger.With().Str("component", "fetcher.guard").Str("fetcher", inner.Name()).Logger(),
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			return nil, syncerr.Configf("fetcher.guard", "rate_limit.requests_per_second must be > 0")
		}
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}
	return g, nil
}

func isSourceFailure(err error) bool {
	return syncerr.KindOf(err) != syncerr.KindConfiguration
}

func isRetryableFetch(err error) bool {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, context.Canceled):
		return false
	case syncerr.KindOf(err) == syncerr.KindConfiguration:
		return false
	}
	return true
}

func (g *Guard) Name() string { return g.inner.Name() }

func (g *Guard) Interfaces() []string { return g.inner.Interfaces() }

// Breakers возвращает группу circuit breakers (для статистики)
func (g *Guard) Breakers() *resilience.Group { return g.breakers }

// Fetch получает набор через защиту
func (g *Guard) Fetch(ctx context.Context, iface string, params map[string]any) (*Result, error) {
	var res *Result
	attempt := 0
	err := g.retryer.Do(ctx, func(ctx context.Context) error {
		attempt++
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return syncerr.Wrap(syncerr.KindFetcher, "fetcher.guard", err)
			}
		}
		return g.breakers.Execute(ctx, g.inner.Name()+"/"+iface, func(ctx context.Context) error {
			r, err := g.inner.Fetch(ctx, iface, params)
			if err != nil {
				g.logger.Warn().Err(err).Str("interface", iface).Int("attempt", attempt).Msg("fetch failed")
				return err
			}
			res = r
			return nil
		})
	})
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindUnknown {
			err = syncerr.Wrap(syncerr.KindFetcher, "fetcher.guard", err)
		}
		return nil, err
	}
	return res, nil
}

// Close закрывает обернутый источник
func (g *Guard) Close(ctx context.Context) error {
	return Close(ctx, g.inner)
}
