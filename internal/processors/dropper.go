package processors

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/types"
)

func init() {
	registry.Stages.Register(names.Dropper, func(ctx context.Context, env registry.Env) (types.Stage, error) {
		var cfg ChanceConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		return NewDropper(env.Name, cfg.Chance, env.Logger), nil
	})
	registry.Stages.Register(names.Ignorer, func(ctx context.Context, env registry.Env) (types.Stage, error) {
		var cfg ChanceConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		return NewIgnorer(env.Name, cfg.Chance, env.Logger), nil
	})
}

type ChanceConfig struct {
	Chance float64 `toml:"chance" validate:"gte=0,lte=1"`
}

// Dropper discards each item with probability chance and releases its payload.
type Dropper struct {
	name   string
	chance float64
	roll   func() float64
	logger *slog.Logger
}

func NewDropper(name string, chance float64, logger *slog.Logger) *Dropper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dropper{name: name, chance: chance, roll: rand.Float64, logger: logger}
}

func (d *Dropper) Name() string {
	return d.name
}

func (d *Dropper) Process(ctx context.Context, item *types.MediaItem) ([]*types.MediaItem, error) {
	if d.roll() >= d.chance {
		return []*types.MediaItem{item}, nil
	}

	d.logger.Debug("Dropping item", "item", item.Key())
	if err := item.Release(); err != nil {
		d.logger.Warn("Failed to release dropped item", "item", item.Key(), "error", err)
	}
	return nil, nil
}

// Ignorer suppresses each item with probability chance for the current
// branch only. The payload is left for the branch owner.
type Ignorer struct {
	name   string
	chance float64
	roll   func() float64
	logger *slog.Logger
}

func NewIgnorer(name string, chance float64, logger *slog.Logger) *Ignorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ignorer{name: name, chance: chance, roll: rand.Float64, logger: logger}
}

func (i *Ignorer) Name() string {
	return i.name
}

func (i *Ignorer) Process(ctx context.Context, item *types.MediaItem) ([]*types.MediaItem, error) {
	if i.roll() >= i.chance {
		return []*types.MediaItem{item}, nil
	}
	return nil, types.NewFilteredError(i.name, item.ItemID, "ignored by chance").WithDetail("chance", i.chance)
}
