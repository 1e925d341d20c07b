package processors

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"freebooter/internal/config"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/types"
)

func init() {
	registry.Stages.Register(names.Limiter, func(ctx context.Context, env registry.Env) (types.Stage, error) {
		var cfg LimiterConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		return NewLimiter(env.Name, cfg, env.Logger), nil
	})
}

type LimiterConfig struct {
	Amount   int             `toml:"amount" validate:"required,min=1"`
	Per      config.Duration `toml:"per" validate:"gt=0"`
	Variance config.Duration `toml:"variance" validate:"gte=0"`
}

// Limiter lets at most Amount items through per period, blocking the caller
// until a slot frees up. The period is redrawn from Per ± Variance after
// every admission.
type Limiter struct {
	name     string
	amount   int
	period   time.Duration
	variance time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewLimiter(name string, cfg LimiterConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		name:     name,
		amount:   max(cfg.Amount, 1),
		period:   cfg.Per.Std(),
		variance: cfg.Variance.Std(),
		logger:   logger,
	}
	l.limiter = rate.NewLimiter(l.randomLimit(), l.amount)
	return l
}

func (l *Limiter) Name() string {
	return l.name
}

func (l *Limiter) randomLimit() rate.Limit {
	period := l.period
	if l.variance > 0 {
		period += time.Duration((rand.Float64()*2 - 1) * float64(l.variance))
	}
	if period <= 0 {
		period = time.Millisecond
	}
	return rate.Every(period / time.Duration(l.amount))
}

func (l *Limiter) Process(ctx context.Context, item *types.MediaItem) ([]*types.MediaItem, error) {
	// one waiter at a time keeps admissions in arrival order
	l.mu.Lock()
	defer l.mu.Unlock()

	if r := l.limiter.Reserve(); r.OK() {
		if delay := r.Delay(); delay > 0 {
			l.logger.Debug("Rate limit reached, waiting", "item", item.Key(), "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				r.Cancel()
				l.logger.Warn("Limiter wait cancelled, dropping item", "item", item.Key())
				item.Release()
				return nil, nil
			}
		}
	}

	l.limiter.SetLimit(l.randomLimit())
	return []*types.MediaItem{item}, nil
}
