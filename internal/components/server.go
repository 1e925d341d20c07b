package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"freebooter/internal/config"
	"freebooter/internal/server/feed"
)

// ServerComponent builds the HTTP server on initialization. It only listens
// once Start is called, so building the graph never binds a port.
type ServerComponent struct {
	config   config.ServerConfig
	storage  *StorageComponent
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	server   *feed.Server
	started  bool
}

func NewServerComponent(cfg config.ServerConfig, storage *StorageComponent, gatherer prometheus.Gatherer, logger *slog.Logger) *ServerComponent {
	return &ServerComponent{
		config:   cfg,
		storage:  storage,
		gatherer: gatherer,
		logger:   logger,
	}
}

func (c *ServerComponent) Name() string {
	return ServerComponentName
}

func (c *ServerComponent) Dependencies() []string {
	return []string{StorageComponentName}
}

func (c *ServerComponent) Validate() error {
	if c.config.Enabled && c.config.Listen == "" {
		return fmt.Errorf("server: listen address is required")
	}
	return nil
}

func (c *ServerComponent) Initialize(ctx context.Context) error {
	c.server = feed.New(feed.Config{
		Listen:   c.config.Listen,
		FeedSize: c.config.FeedSize,
		Title:    c.config.Title,
		BaseURL:  c.config.BaseURL,
	}, c.storage.Store().Feed(), c.gatherer, c.logger)
	return nil
}

// Start listens when the server is enabled and does nothing otherwise.
func (c *ServerComponent) Start(ctx context.Context) error {
	if !c.config.Enabled || c.started {
		return nil
	}
	if err := c.server.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	c.started = true
	return nil
}

func (c *ServerComponent) Close(ctx context.Context) error {
	if c.server == nil || !c.started {
		return nil
	}
	c.started = false
	return c.server.Shutdown(ctx)
}

func (c *ServerComponent) Server() *feed.Server {
	return c.server
}
