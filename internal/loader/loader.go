package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"freebooter/internal/components"
	"freebooter/internal/config"
	"freebooter/internal/core"
	"freebooter/internal/logging"
	"freebooter/internal/middleware"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/state"
	"freebooter/internal/types"

	_ "freebooter/internal/processors"
	_ "freebooter/internal/sources"
	_ "freebooter/internal/storage/redis"
	_ "freebooter/internal/storage/sqlite"
	_ "freebooter/internal/targets/bluesky"
	_ "freebooter/internal/targets/discord"
	_ "freebooter/internal/targets/feed"
	_ "freebooter/internal/targets/local"
)

// feedSink is implemented by uploaders whose output the HTTP server serves.
type feedSink interface {
	Feed() string
	MediaDir() string
	OnInsert(fn func(feed string))
}

type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
}

type Loader struct {
	config     *config.Config
	logger     *slog.Logger
	httpClient *http.Client
}

func NewLoader(cfg *config.Config, opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Loader{
		config:     cfg,
		logger:     opts.Logger,
		httpClient: opts.HTTPClient,
	}
}

// Initialize brings up the shared components and builds the engine from the
// configured middlewares, watchers and uploaders. Nothing is polled or
// published until the engine is started. Every configuration problem found
// is reported together as types.ConfigErrors.
func (l *Loader) Initialize(ctx context.Context) (*state.State, error) {
	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg := components.NewRegistry(l.logger)
	storageComp := components.NewStorageComponent(l.config.Storage)
	scratchComp := components.NewScratchComponent(l.config.Engine.ScratchDir)
	platformComp := components.NewPlatformComponent(l.config.Platforms, l.config.Engine.StateDir)
	serverComp := components.NewServerComponent(l.config.Server, storageComp, metricsRegistry, logging.Component(l.logger, "server", "feeds"))
	for _, c := range []components.IComponent{storageComp, scratchComp, platformComp, serverComp} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	l.logger.Info("Initializing components")
	if err := reg.InitializeAll(ctx); err != nil {
		return nil, fmt.Errorf("component initialization failed: %w", err)
	}

	b := &builder{
		config:  l.config,
		logger:  l.logger,
		metrics: core.NewMetrics(metricsRegistry),
		server:  serverComp,
		deps: registry.Deps{
			Scratch:    scratchComp.Scratch(),
			Storage:    storageComp.Store(),
			Platforms:  platformComp,
			HTTPClient: l.httpClient,
			BaseURL:    l.config.Server.BaseURL,
		},
	}

	engine, err := b.build(ctx)
	if err != nil {
		reg.CloseAll(ctx)
		return nil, err
	}

	return state.NewState(l.config, reg, engine), nil
}

// builder turns config entries into runtimes, collecting every error.
type builder struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *core.Metrics
	server  *components.ServerComponent
	deps    registry.Deps
	errs    types.ConfigErrors
}

func (b *builder) fail(section, name string, err error) {
	if err == nil {
		return
	}
	var cerrs types.ConfigErrors
	switch e := config.AsConfigError(section, name, err).(type) {
	case types.ConfigErrors:
		cerrs = e
	case *types.ConfigError:
		cerrs = types.ConfigErrors{e}
	default:
		cerrs = types.ConfigErrors{types.NewConfigError(section, name, "%v", err)}
	}
	b.errs = append(b.errs, cerrs...)
}

func (b *builder) env(section, name, typeName, kind string, prim toml.Primitive) registry.Env {
	return registry.Env{
		Name:   name,
		Type:   typeName,
		Logger: logging.Component(b.logger, kind, name),
		Deps:   b.deps,
		Decode: func(v any) error {
			return b.config.Decode(prim, v)
		},
	}
}

func (b *builder) build(ctx context.Context) (*core.Engine, error) {
	middlewares := make(map[string]config.MiddlewareEntry, len(b.config.Middlewares))
	for _, m := range b.config.Middlewares {
		middlewares[m.Name] = m
	}

	var shared []types.Stage
	for _, m := range b.config.Middlewares {
		if m.Shared != nil && !*m.Shared {
			continue
		}
		if stage := b.stage(ctx, m, m.Name); stage != nil {
			shared = append(shared, stage)
		}
	}

	// each reference gets its own stage so private state is never shared
	privateChain := func(owner string, refs []string) *middleware.Chain {
		stages := make([]types.Stage, 0, len(refs))
		for _, ref := range refs {
			m, ok := middlewares[ref]
			if !ok {
				continue
			}
			if stage := b.stage(ctx, m, owner+"-"+ref); stage != nil {
				stages = append(stages, stage)
			}
		}
		return middleware.New(owner, logging.Component(b.logger, "chain", owner), stages...)
	}

	var (
		watchers  []*core.WatcherRuntime
		pushers   []*core.Pusher
		uploaders []*core.UploaderRuntime
	)

	for _, w := range b.config.Watchers {
		logger := logging.Component(b.logger, "watcher", w.Name)
		chain := privateChain(w.Name, w.Preprocessors)

		if w.Type == names.Pusher {
			pushers = append(pushers, core.NewPusher(core.PusherOptions{
				Name:     w.Name,
				Interval: w.Interval.Std(),
				Chain:    chain,
				Logger:   logger,
			}))
			continue
		}

		factory, err := registry.Sources.Get(w.Type)
		if err != nil {
			b.fail("watchers", w.Name, err)
			continue
		}
		source, err := factory(ctx, b.env("watchers", w.Name, w.Type, "watcher", w.Config))
		if err != nil {
			b.fail("watchers", w.Name, err)
			continue
		}

		watchers = append(watchers, core.NewWatcherRuntime(core.WatcherOptions{
			Source:       source,
			Chain:        chain,
			Ledger:       b.deps.Storage.Ledger(),
			Cursors:      b.deps.Storage.Cursors(),
			Interval:     w.Interval.Std(),
			Copy:         w.Copy,
			Backtrack:    w.Backtrack,
			RetryCount:   deref(w.RetryCount),
			RetryBackoff: w.RetryBackoff.Std(),
			Logger:       logger,
			Metrics:      b.metrics,
		}))
	}

	for _, u := range b.config.Uploaders {
		factory, err := registry.Sinks.Get(u.Type)
		if err != nil {
			b.fail("uploaders", u.Name, err)
			continue
		}
		sink, err := factory(ctx, b.env("uploaders", u.Name, u.Type, "uploader", u.Config))
		if err != nil {
			b.fail("uploaders", u.Name, err)
			continue
		}

		if fs, ok := sink.(feedSink); ok {
			server := b.server.Server()
			server.RegisterMedia(fs.Feed(), fs.MediaDir())
			fs.OnInsert(server.Invalidate)
		}

		uploaders = append(uploaders, core.NewUploaderRuntime(core.UploaderOptions{
			Sink:         sink,
			Chain:        privateChain(u.Name, u.Preprocessors),
			RetryCount:   deref(u.RetryCount),
			RetryBackoff: u.RetryBackoff.Std(),
			Workers:      u.Workers,
			QueueSize:    u.QueueSize,
			Logger:       logging.Component(b.logger, "uploader", u.Name),
			Metrics:      b.metrics,
		}))
	}

	b.fail("config", "", b.config.CheckUndecoded())

	if err := b.errs.Err(); err != nil {
		return nil, err
	}

	b.logger.Info("Built flow graph",
		"watchers", len(watchers),
		"pushers", len(pushers),
		"uploaders", len(uploaders),
		"shared_middlewares", len(shared))

	return core.New(core.Options{
		Watchers:        watchers,
		Pushers:         pushers,
		Shared:          middleware.New("shared", logging.Component(b.logger, "chain", "shared"), shared...),
		Uploaders:       uploaders,
		Logger:          b.logger,
		Metrics:         b.metrics,
		ShutdownTimeout: b.config.Engine.ShutdownTimeout.Std(),
		Supervisor:      core.DefaultSupervisorConfig(),
	}), nil
}

func (b *builder) stage(ctx context.Context, m config.MiddlewareEntry, name string) types.Stage {
	factory, err := registry.Stages.Get(m.Type)
	if err != nil {
		b.fail("middlewares", m.Name, err)
		return nil
	}
	stage, err := factory(ctx, b.env("middlewares", name, m.Type, "middleware", m.Config))
	if err != nil {
		b.fail("middlewares", m.Name, err)
		return nil
	}
	return stage
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// LoadAndBuild reads the configuration at configPath and builds it.
func LoadAndBuild(ctx context.Context, configPath string, opts Options) (*state.State, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return NewLoader(cfg, opts).Initialize(ctx)
}
