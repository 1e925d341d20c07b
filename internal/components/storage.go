package components

import (
	"context"
	"fmt"

	"freebooter/internal/config"
	"freebooter/internal/media"
	"freebooter/internal/storage"
)

type StorageComponent struct {
	config config.StorageConfig
	store  storage.StorageInterface
}

func NewStorageComponent(cfg config.StorageConfig) *StorageComponent {
	return &StorageComponent{
		config: cfg,
	}
}

func (c *StorageComponent) Name() string {
	return StorageComponentName
}

func (c *StorageComponent) Dependencies() []string {
	return []string{}
}

func (c *StorageComponent) Validate() error {
	if (c.config.Type == "" || c.config.Type == "sqlite") && c.config.Path == "" {
		return fmt.Errorf("storage: database path is required")
	}
	return nil
}

func (c *StorageComponent) Initialize(ctx context.Context) error {
	store, err := storage.New(ctx, c.config)
	if err != nil {
		return fmt.Errorf("storage: failed to initialize store: %w", err)
	}

	c.store = store
	return nil
}

func (c *StorageComponent) Close(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close(ctx)
	c.store = nil
	return err
}

func (c *StorageComponent) Store() storage.StorageInterface {
	return c.store
}

// ScratchComponent owns the directory that remote downloads are written to.
// Anything left there is removed on close.
type ScratchComponent struct {
	dir     string
	scratch *media.Scratch
}

func NewScratchComponent(dir string) *ScratchComponent {
	return &ScratchComponent{dir: dir}
}

func (c *ScratchComponent) Name() string {
	return ScratchComponentName
}

func (c *ScratchComponent) Dependencies() []string {
	return []string{}
}

func (c *ScratchComponent) Validate() error {
	if c.dir == "" {
		return fmt.Errorf("scratch: directory is required")
	}
	return nil
}

func (c *ScratchComponent) Initialize(ctx context.Context) error {
	scratch, err := media.NewScratch(c.dir)
	if err != nil {
		return fmt.Errorf("scratch: %w", err)
	}
	c.scratch = scratch
	return nil
}

func (c *ScratchComponent) Close(ctx context.Context) error {
	if c.scratch == nil {
		return nil
	}
	return c.scratch.Clean()
}

func (c *ScratchComponent) Scratch() *media.Scratch {
	return c.scratch
}
