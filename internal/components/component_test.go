package components

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freebooter/internal/config"
	"freebooter/internal/registry"
	_ "freebooter/internal/storage/sqlite"
)

type recorder struct {
	name    string
	deps    []string
	log     *[]string
	initErr error
}

func (r *recorder) Name() string           { return r.name }
func (r *recorder) Dependencies() []string { return r.deps }
func (r *recorder) Validate() error        { return nil }

func (r *recorder) Initialize(ctx context.Context) error {
	*r.log = append(*r.log, "init "+r.name)
	return r.initErr
}

func (r *recorder) Close(ctx context.Context) error {
	*r.log = append(*r.log, "close "+r.name)
	return nil
}

func TestRegistryInitializesInDependencyOrder(t *testing.T) {
	var log []string
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&recorder{name: "server", deps: []string{"storage"}, log: &log}))
	require.NoError(t, r.Register(&recorder{name: "storage", log: &log}))
	require.Error(t, r.Register(&recorder{name: "storage", log: &log}))

	require.NoError(t, r.InitializeAll(context.Background()))
	require.NoError(t, r.CloseAll(context.Background()))

	assert.Equal(t, []string{"init storage", "init server", "close server", "close storage"}, log)
}

func TestRegistryClosesInitializedComponentsOnFailure(t *testing.T) {
	var log []string
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&recorder{name: "a", log: &log}))
	require.NoError(t, r.Register(&recorder{name: "b", deps: []string{"a"}, log: &log, initErr: errors.New("boom")}))

	err := r.InitializeAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "component b initialization failed")
	assert.Equal(t, []string{"init a", "init b", "close a"}, log)
}

func TestLookup(t *testing.T) {
	r := NewRegistry(nil)
	scratch := NewScratchComponent(t.TempDir())
	require.NoError(t, r.Register(scratch))

	got, err := Lookup[*ScratchComponent](r, ScratchComponentName)
	require.NoError(t, err)
	assert.Same(t, scratch, got)

	_, err = Lookup[*StorageComponent](r, ScratchComponentName)
	assert.Error(t, err)
	_, err = Lookup[*StorageComponent](r, StorageComponentName)
	assert.Error(t, err)
}

func TestStorageScratchAndServer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := NewStorageComponent(config.StorageConfig{Type: "sqlite", Path: filepath.Join(dir, "state.db")})
	scratch := NewScratchComponent(filepath.Join(dir, "scratch"))
	server := NewServerComponent(config.ServerConfig{Listen: "127.0.0.1:0"}, store, nil, nil)

	r := NewRegistry(nil)
	for _, c := range []IComponent{server, store, scratch} {
		require.NoError(t, r.Register(c))
	}
	require.NoError(t, r.InitializeAll(ctx))

	require.NotNil(t, store.Store())
	require.NotNil(t, server.Server())
	require.NoError(t, server.Start(ctx))
	assert.Empty(t, server.Server().Addr(), "disabled server must not listen")

	f, err := scratch.Scratch().Create(".tmp")
	require.NoError(t, err)
	f.Close()

	require.NoError(t, r.CloseAll(ctx))
	_, err = os.Stat(f.Name())
	assert.True(t, os.IsNotExist(err))
}

func TestPlatformsAreLazy(t *testing.T) {
	var _ registry.Platforms = (*PlatformComponent)(nil)

	p := NewPlatformComponent(config.PlatformsConfig{}, t.TempDir())
	require.NoError(t, p.Validate())
	require.NoError(t, p.Initialize(context.Background()))

	_, err := p.Discord(context.Background())
	assert.ErrorContains(t, err, "not configured")
	_, err = p.Bluesky(context.Background())
	assert.ErrorContains(t, err, "not configured")

	p = NewPlatformComponent(config.PlatformsConfig{Bluesky: &config.BlueskyPlatformConfig{}}, "")
	assert.Error(t, p.Validate())
}
