package state

import (
	"context"
	"errors"

	"freebooter/internal/components"
	"freebooter/internal/config"
	"freebooter/internal/core"
)

// State is everything the loader built from one configuration.
type State struct {
	Config   *config.Config
	Registry *components.Registry
	Engine   *core.Engine
}

func NewState(cfg *config.Config, registry *components.Registry, engine *core.Engine) *State {
	return &State{
		Config:   cfg,
		Registry: registry,
		Engine:   engine,
	}
}

func (s *State) Storage() *components.StorageComponent {
	c, _ := components.Lookup[*components.StorageComponent](s.Registry, components.StorageComponentName)
	return c
}

func (s *State) Server() *components.ServerComponent {
	c, _ := components.Lookup[*components.ServerComponent](s.Registry, components.ServerComponentName)
	return c
}

func (s *State) Platforms() *components.PlatformComponent {
	c, _ := components.Lookup[*components.PlatformComponent](s.Registry, components.PlatformComponentName)
	return c
}

// Close shuts the engine down before the components it depends on.
func (s *State) Close(ctx context.Context) error {
	var errs []error
	if s.Engine != nil {
		errs = append(errs, s.Engine.Close(ctx))
	}
	if s.Registry != nil {
		errs = append(errs, s.Registry.CloseAll(ctx))
	}
	return errors.Join(errs...)
}
