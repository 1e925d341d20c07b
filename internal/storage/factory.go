package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"freebooter/internal/config"
)

type Factory func(ctx context.Context, cfg config.StorageConfig) (StorageInterface, error)

var (
	factoryMu    sync.RWMutex
	factoryFuncs = map[string]Factory{}
)

func RegisterFactory(storageType string, fn Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factoryFuncs[storageType] = fn
}

func New(ctx context.Context, cfg config.StorageConfig) (StorageInterface, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "sqlite"
	}

	factoryMu.RLock()
	fn, exists := factoryFuncs[storageType]
	factoryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported storage type: %s (registered: %v)", storageType, Types())
	}

	return fn(ctx, cfg)
}

func Types() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factoryFuncs))
	for name := range factoryFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
