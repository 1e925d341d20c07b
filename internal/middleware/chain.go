package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"freebooter/internal/types"
)

// Chain runs items through an ordered list of stages, left to right, on the
// caller's goroutine.
type Chain struct {
	name   string
	stages []types.Stage
	logger *slog.Logger
}

func New(name string, logger *slog.Logger, stages ...types.Stage) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		name:   name,
		stages: stages,
		logger: logger.With("chain", name),
	}
}

func (c *Chain) Name() string {
	return c.name
}

func (c *Chain) Stages() []types.Stage {
	return c.stages
}

func (c *Chain) Len() int {
	return len(c.stages)
}

// Execute feeds item through every stage. Items that survive come back in
// passed. Items a stage suppressed for this branch (a FilteredError or a stage
// failure) come back in filtered; their payloads are still live and belong to
// the caller. Stage failures are also joined into err.
func (c *Chain) Execute(ctx context.Context, item *types.MediaItem) (passed, filtered []*types.MediaItem, err error) {
	current := []*types.MediaItem{item}
	var errs []error

	for _, stage := range c.stages {
		if len(current) == 0 {
			break
		}

		next := make([]*types.MediaItem, 0, len(current))
		for _, in := range current {
			if in.IsSentinel() && !handlesSentinels(stage) {
				next = append(next, in)
				continue
			}

			out, stageErr := stage.Process(ctx, in)
			switch {
			case stageErr == nil:
				next = append(next, out...)
			case types.IsFiltered(stageErr):
				c.logger.Debug("Item filtered", "stage", stage.Name(), "item", in.Key(), "reason", stageErr)
				filtered = append(filtered, in)
				next = append(next, out...)
			default:
				c.logger.Warn("Stage failed", "stage", stage.Name(), "item", in.Key(), "error", stageErr)
				errs = append(errs, fmt.Errorf("stage %s failed on %s: %w", stage.Name(), in.Key(), stageErr))
				filtered = append(filtered, in)
				next = append(next, out...)
			}
		}
		current = next
	}

	return current, filtered, errors.Join(errs...)
}

// Flush drains every stage that buffers items and returns what they held.
func (c *Chain) Flush(ctx context.Context) []*types.MediaItem {
	var leftovers []*types.MediaItem
	for _, stage := range c.stages {
		if f, ok := stage.(types.Flusher); ok {
			leftovers = append(leftovers, f.Flush(ctx)...)
		}
	}
	return leftovers
}

func (c *Chain) Close() error {
	var errs []error
	for _, stage := range c.stages {
		if closer, ok := stage.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close stage %s: %w", stage.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func handlesSentinels(stage types.Stage) bool {
	h, ok := stage.(types.SentinelHandler)
	return ok && h.HandlesSentinels()
}
