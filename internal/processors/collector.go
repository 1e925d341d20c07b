package processors

import (
	"context"
	"log/slog"
	"sync"

	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/types"
)

func init() {
	registry.Stages.Register(names.Collector, func(ctx context.Context, env registry.Env) (types.Stage, error) {
		var cfg CollectorConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		return NewCollector(env.Name, cfg, env.Logger), nil
	})
}

type CollectorConfig struct {
	Count       int  `toml:"count" validate:"required,min=1"`
	FlushOnTick bool `toml:"flush_on_tick"`
}

// Collector holds items until Count of them have arrived and then emits them
// together in arrival order. Held items stay owned by the collector.
type Collector struct {
	name        string
	count       int
	flushOnTick bool
	logger      *slog.Logger

	mu     sync.Mutex
	buffer []*types.MediaItem
}

func NewCollector(name string, cfg CollectorConfig, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		name:        name,
		count:       max(cfg.Count, 1),
		flushOnTick: cfg.FlushOnTick,
		logger:      logger,
	}
}

func (c *Collector) Name() string {
	return c.name
}

func (c *Collector) HandlesSentinels() bool {
	return true
}

func (c *Collector) Process(ctx context.Context, item *types.MediaItem) ([]*types.MediaItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item.IsSentinel() {
		if !c.flushOnTick || len(c.buffer) == 0 {
			return []*types.MediaItem{item}, nil
		}
		out := append(c.buffer, item)
		c.buffer = nil
		c.logger.Debug("Flushing collector on tick", "released", len(out)-1)
		return out, nil
	}

	c.buffer = append(c.buffer, item)
	if len(c.buffer) < c.count {
		c.logger.Debug("Collected item", "item", item.Key(), "buffered", len(c.buffer), "count", c.count)
		return nil, nil
	}

	out := c.buffer
	c.buffer = nil
	c.logger.Debug("Releasing collected batch", "size", len(out))
	return out, nil
}

// Flush returns every held item and empties the buffer.
func (c *Collector) Flush(ctx context.Context) []*types.MediaItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.buffer
	c.buffer = nil
	return out
}

func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}
