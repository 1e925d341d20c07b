package core

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"freebooter/internal/media"
	"freebooter/internal/middleware"
	"freebooter/internal/types"
)

type PusherOptions struct {
	Name     string
	Interval time.Duration
	Chain    *middleware.Chain
	Logger   *slog.Logger
}

// Pusher injects an empty sentinel item on every tick so buffering stages
// downstream get a chance to flush.
type Pusher struct {
	name     string
	interval time.Duration
	chain    *middleware.Chain
	logger   *slog.Logger
	deliver  func(context.Context, *types.MediaItem)
}

func NewPusher(opts PusherOptions) *Pusher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Chain == nil {
		opts.Chain = middleware.New(opts.Name, opts.Logger)
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Pusher{
		name:     opts.Name,
		interval: opts.Interval,
		chain:    opts.Chain,
		logger:   opts.Logger,
		deliver: func(ctx context.Context, item *types.MediaItem) {
			item.Release()
		},
	}
}

func (p *Pusher) Name() string {
	return p.name
}

func (p *Pusher) String() string {
	return "pusher " + p.name
}

func (p *Pusher) Chain() *middleware.Chain {
	return p.chain
}

// Tick builds one sentinel and sends it down the flow.
func (p *Pusher) Tick(ctx context.Context) {
	now := time.Now()
	sentinel := &types.MediaItem{
		SourceName: p.name,
		ItemID:     "tick-" + strconv.FormatInt(now.UnixNano(), 10),
		Payload:    media.Empty(),
		CreatedAt:  now,
		Sentinel:   true,
	}

	passed, filtered, err := p.chain.Execute(ctx, sentinel)
	for _, f := range filtered {
		f.Release()
	}
	if err != nil {
		p.logger.Warn("Pusher preprocessing failed", "error", err)
	}

	p.logger.Debug("Pushing tick", "items", len(passed))
	for _, out := range passed {
		p.deliver(ctx, out)
	}
}

func (p *Pusher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}
