// Package registry maps config type names to the factories that build stages,
// sources and sinks.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"freebooter/internal/media"
	"freebooter/internal/platforms"
	"freebooter/internal/storage"
	"freebooter/internal/types"
)

// Platforms hands out shared platform clients, connecting them on first use.
type Platforms interface {
	Discord(ctx context.Context) (*platforms.DiscordPlatform, error)
	Bluesky(ctx context.Context) (*platforms.BlueskyPlatform, error)
	Ollama() (*platforms.OllamaPlatform, error)
}

// Deps are the shared services a factory may use. Any of them may be nil in
// tests; factories that need one report a config error when it is missing.
type Deps struct {
	Scratch    *media.Scratch
	Storage    storage.StorageInterface
	Platforms  Platforms
	HTTPClient *http.Client
	// BaseURL is where the HTTP server is reachable from outside.
	BaseURL string
}

// Env is handed to a factory for one config entry.
type Env struct {
	Name   string
	Type   string
	Logger *slog.Logger
	Deps   Deps
	// Decode decodes the entry's config table into a typed struct and
	// validates it.
	Decode func(v any) error
}

type Factory[T any] func(ctx context.Context, env Env) (T, error)

type Registry[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

func New[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, factories: make(map[string]Factory[T])}
}

func (r *Registry[T]) Register(typeName string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; exists {
		panic(fmt.Sprintf("%s type %q registered twice", r.kind, typeName))
	}
	r.factories[typeName] = factory
}

func (r *Registry[T]) Get(typeName string) (Factory[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[typeName]
	if !exists {
		return nil, fmt.Errorf("unknown %s type %q (registered: %v)", r.kind, typeName, r.typesLocked())
	}
	return factory, nil
}

func (r *Registry[T]) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[typeName]
	return exists
}

func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.typesLocked()
}

func (r *Registry[T]) typesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	Stages  = New[types.Stage]("middleware")
	Sources = New[types.Source]("watcher")
	Sinks   = New[types.Sink]("uploader")
)
