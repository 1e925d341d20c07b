package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"freebooter/internal/graph"
)

const (
	StorageComponentName  = "storage"
	ScratchComponentName  = "scratch"
	PlatformComponentName = "platforms"
	ServerComponentName   = "server"
)

type IComponent interface {
	Name() string
	Dependencies() []string
	Validate() error
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}

type Registry struct {
	components map[string]IComponent
	order      []string
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		components: make(map[string]IComponent),
		order:      make([]string, 0),
		logger:     logger,
	}
}

func (r *Registry) Register(component IComponent) error {
	name := component.Name()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	r.components[name] = component
	return nil
}

func (r *Registry) Get(name string) (IComponent, bool) {
	comp, exists := r.components[name]
	return comp, exists
}

// Lookup returns the component registered under name as a T.
func Lookup[T IComponent](r *Registry, name string) (T, error) {
	var zero T
	comp, exists := r.Get(name)
	if !exists {
		return zero, fmt.Errorf("component %s not registered", name)
	}
	typed, ok := comp.(T)
	if !ok {
		return zero, fmt.Errorf("component %s has type %T", name, comp)
	}
	return typed, nil
}

// InitializeAll validates every component, then initializes them so that
// each one starts after its dependencies. Components initialized before a
// failure are closed again.
func (r *Registry) InitializeAll(ctx context.Context) error {
	nodes := make(map[string]graph.Node, len(r.components))
	for name, comp := range r.components {
		nodes[name] = &componentNode{comp: comp}
	}

	order, err := graph.TopologicalSort(nodes)
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range order {
		if err := r.components[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("component %s validation failed: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, name := range order {
		r.logger.Debug("Initializing component", "component", name)
		if err := r.components[name].Initialize(ctx); err != nil {
			r.CloseAll(ctx)
			return fmt.Errorf("component %s initialization failed: %w", name, err)
		}
		r.order = append(r.order, name)
	}

	return nil
}

type componentNode struct {
	comp IComponent
}

func (cn *componentNode) GetName() string {
	return cn.comp.Name()
}

func (cn *componentNode) GetDependencies() []string {
	return cn.comp.Dependencies()
}

// CloseAll closes initialized components in reverse order.
func (r *Registry) CloseAll(ctx context.Context) error {
	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if err := r.components[name].Close(ctx); err != nil {
			r.logger.Error("Failed to close component", "component", name, "error", err)
			errs = append(errs, fmt.Errorf("component %s: %w", name, err))
		}
	}
	r.order = r.order[:0]
	return errors.Join(errs...)
}
