package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"freebooter/internal/middleware"
	"freebooter/internal/types"
)

type Options struct {
	Watchers  []*WatcherRuntime
	Pushers   []*Pusher
	Shared    *middleware.Chain
	Uploaders []*UploaderRuntime

	Logger          *slog.Logger
	Metrics         *Metrics
	ShutdownTimeout time.Duration
	Supervisor      SupervisorConfig
}

// Engine routes every item a watcher emits through the shared chain and
// offers each survivor to every uploader.
type Engine struct {
	watchers        []*WatcherRuntime
	pushers         []*Pusher
	shared          *middleware.Chain
	uploaders       []*UploaderRuntime
	logger          *slog.Logger
	metrics         *Metrics
	shutdownTimeout time.Duration
	supervisor      SupervisorConfig

	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Shared == nil {
		opts.Shared = middleware.New("shared", opts.Logger)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Supervisor.ShutdownTimeout == 0 {
		opts.Supervisor.ShutdownTimeout = opts.ShutdownTimeout
	}

	e := &Engine{
		watchers:        opts.Watchers,
		pushers:         opts.Pushers,
		shared:          opts.Shared,
		uploaders:       opts.Uploaders,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		shutdownTimeout: opts.ShutdownTimeout,
		supervisor:      opts.Supervisor,
	}

	for _, w := range e.watchers {
		w.deliver = e.Deliver
	}
	for _, p := range e.pushers {
		p.deliver = e.Deliver
	}

	for _, chain := range e.chains() {
		for _, stage := range chain.Stages() {
			if b, ok := stage.(Buffered); ok {
				if err := e.metrics.TrackBuffered(b); err != nil {
					e.logger.Warn("Failed to register buffer metric", "stage", stage.Name(), "error", err)
				}
			}
		}
	}

	return e
}

func (e *Engine) Watchers() []*WatcherRuntime {
	return e.watchers
}

func (e *Engine) Pushers() []*Pusher {
	return e.pushers
}

func (e *Engine) Uploaders() []*UploaderRuntime {
	return e.uploaders
}

func (e *Engine) Shared() *middleware.Chain {
	return e.shared
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Deliver takes ownership of item, runs the shared chain and fans every
// survivor out to all uploaders. It runs on the calling watcher's goroutine.
func (e *Engine) Deliver(ctx context.Context, item *types.MediaItem) {
	passed, filtered, err := e.shared.Execute(ctx, item)
	for _, f := range filtered {
		f.Release()
	}
	if err != nil {
		e.logger.Warn("Shared middleware failed", "item", item.Key(), "error", err)
	}

	for _, out := range passed {
		e.fanOut(ctx, out)
	}
}

// fanOut gives every uploader its own copy of item. All but the last branch
// get duplicated payload handles; the last branch takes the original.
func (e *Engine) fanOut(ctx context.Context, item *types.MediaItem) {
	if len(e.uploaders) == 0 {
		item.Release()
		return
	}

	branches := make([]*types.MediaItem, len(e.uploaders))
	last := len(e.uploaders) - 1
	for i := 0; i < last; i++ {
		branch := item.Clone()
		if item.Payload != nil {
			payload, err := item.Payload.Duplicate(ctx)
			if err != nil {
				e.logger.Error("Failed to duplicate payload for uploader", "item", item.Key(), "uploader", e.uploaders[i].Name(), "error", err)
				continue
			}
			branch.Payload = payload
		}
		branches[i] = branch
	}
	branches[last] = item

	for i, u := range e.uploaders {
		if branches[i] == nil {
			continue
		}
		if err := u.Accept(ctx, branches[i]); err != nil {
			e.logger.Warn("Uploader did not accept item", "item", item.Key(), "uploader", u.Name(), "error", err)
		}
	}
}

// Start initializes every source and sink and launches the upload workers.
// It runs once; later calls return the first result.
func (e *Engine) Start(ctx context.Context) error {
	e.startOnce.Do(func() {
		e.startErr = e.start(ctx)
	})
	return e.startErr
}

func (e *Engine) start(ctx context.Context) error {
	for _, u := range e.uploaders {
		if err := u.Sink().Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize uploader %s: %w", u.Name(), err)
		}
	}
	for _, w := range e.watchers {
		if err := w.Source().Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize watcher %s: %w", w.Name(), err)
		}
	}
	for _, u := range e.uploaders {
		if err := u.Start(ctx); err != nil {
			return fmt.Errorf("failed to start uploader %s: %w", u.Name(), err)
		}
	}

	e.logger.Info("Engine started", "watchers", len(e.watchers), "pushers", len(e.pushers), "uploaders", len(e.uploaders), "shared_middlewares", e.shared.Len())
	return nil
}

// RunOnce runs one cycle of every watcher concurrently, ticks every pusher
// and waits for the resulting uploads. The engine stays usable afterwards;
// call Close when done.
func (e *Engine) RunOnce(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(e.watchers))
	for i, w := range e.watchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = w.Cycle(ctx)
		}()
	}
	wg.Wait()

	for _, p := range e.pushers {
		p.Tick(ctx)
	}

	for _, u := range e.uploaders {
		if err := u.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run serves every watcher and pusher under a supervisor until ctx is
// cancelled, then shuts the engine down.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	tree := newSupervisorTree(e.logger, e.supervisor)
	for _, w := range e.watchers {
		tree.AddWatcher(w)
	}
	for _, p := range e.pushers {
		tree.AddPusher(p)
	}

	serveErr := tree.Serve(ctx)
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		e.logger.Warn("Some services did not stop in time", "count", len(report))
	}

	e.logger.Info("Shutting down engine", "timeout", e.shutdownTimeout)
	return errors.Join(serveErr, e.Close(context.WithoutCancel(ctx)))
}

// Close drains the upload queues, drops whatever buffering stages still hold
// and shuts down stages, sources and sinks. Only the first call does work.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.closeErr = e.close(ctx)
	})
	return e.closeErr
}

func (e *Engine) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()

	var errs []error
	deadline, _ := ctx.Deadline()

	// buffered items are dropped before the queues drain
	for _, chain := range e.chains() {
		leftovers := chain.Flush(ctx)
		if len(leftovers) == 0 {
			continue
		}
		keys := make([]string, 0, len(leftovers))
		for _, item := range leftovers {
			if !item.IsSentinel() {
				keys = append(keys, item.Key())
			}
			item.Release()
		}
		if len(keys) > 0 {
			e.logger.Warn("Dropping buffered items at shutdown", "chain", chain.Name(), "count", len(keys), "items", keys)
		}
	}

	for _, u := range e.uploaders {
		if err := u.Drain(time.Until(deadline)); err != nil {
			errs = append(errs, fmt.Errorf("uploader %s: %w", u.Name(), err))
		}
	}

	for _, chain := range e.chains() {
		if err := chain.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	for _, w := range e.watchers {
		w.setState(StateStopped)
		if err := w.Source().Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("watcher %s: %w", w.Name(), err))
		}
	}
	for _, u := range e.uploaders {
		if err := u.Sink().Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("uploader %s: %w", u.Name(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("Engine shutdown finished with errors", "error", err)
		return err
	}
	e.logger.Info("Engine stopped")
	return nil
}

// chains lists every chain in flow order: watcher and pusher chains, the
// shared chain, then uploader chains.
func (e *Engine) chains() []*middleware.Chain {
	chains := make([]*middleware.Chain, 0, len(e.watchers)+len(e.pushers)+len(e.uploaders)+1)
	for _, w := range e.watchers {
		chains = append(chains, w.Chain())
	}
	for _, p := range e.pushers {
		chains = append(chains, p.Chain())
	}
	chains = append(chains, e.shared)
	for _, u := range e.uploaders {
		chains = append(chains, u.Chain())
	}
	return chains
}
