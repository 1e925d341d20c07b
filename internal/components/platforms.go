package components

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"freebooter/internal/config"
	"freebooter/internal/platforms"
)

// BlueskySessionFile is where the Bluesky session is kept inside the state directory.
const BlueskySessionFile = "bluesky-session.json"

// PlatformComponent connects shared platform clients on first use, so only
// platforms that some watcher or uploader asks for are ever contacted.
type PlatformComponent struct {
	config   config.PlatformsConfig
	stateDir string

	mu      sync.Mutex
	discord *platforms.DiscordPlatform
	bluesky *platforms.BlueskyPlatform
	ollama  *platforms.OllamaPlatform
}

func NewPlatformComponent(cfg config.PlatformsConfig, stateDir string) *PlatformComponent {
	return &PlatformComponent{
		config:   cfg,
		stateDir: stateDir,
	}
}

func (c *PlatformComponent) Name() string {
	return PlatformComponentName
}

func (c *PlatformComponent) Dependencies() []string {
	return []string{}
}

func (c *PlatformComponent) Validate() error {
	if c.config.Discord != nil {
		if _, err := platforms.NewDiscordPlatform(c.config.Discord); err != nil {
			return err
		}
	}
	if c.config.Bluesky != nil {
		if _, err := platforms.NewBlueskyPlatform(c.config.Bluesky, ""); err != nil {
			return err
		}
	}
	return nil
}

func (c *PlatformComponent) Initialize(ctx context.Context) error {
	return nil
}

func (c *PlatformComponent) Discord(ctx context.Context) (*platforms.DiscordPlatform, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.discord != nil {
		return c.discord, nil
	}
	if c.config.Discord == nil {
		return nil, fmt.Errorf("discord platform is not configured ([platforms.discord])")
	}

	discord, err := platforms.NewDiscordPlatform(c.config.Discord)
	if err != nil {
		return nil, err
	}
	if err := discord.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("discord platform initialization failed: %w", err)
	}
	c.discord = discord
	return discord, nil
}

func (c *PlatformComponent) Bluesky(ctx context.Context) (*platforms.BlueskyPlatform, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bluesky != nil {
		return c.bluesky, nil
	}
	if c.config.Bluesky == nil {
		return nil, fmt.Errorf("bluesky platform is not configured ([platforms.bluesky])")
	}

	bluesky, err := c.newBluesky()
	if err != nil {
		return nil, err
	}
	if err := bluesky.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("bluesky platform initialization failed: %w", err)
	}
	c.bluesky = bluesky
	return bluesky, nil
}

// NewBluesky builds an unconnected Bluesky client sharing the session file
// of the platform, for commands that manage the session themselves.
func (c *PlatformComponent) NewBluesky() (*platforms.BlueskyPlatform, error) {
	if c.config.Bluesky == nil {
		return nil, fmt.Errorf("bluesky platform is not configured ([platforms.bluesky])")
	}
	return c.newBluesky()
}

func (c *PlatformComponent) newBluesky() (*platforms.BlueskyPlatform, error) {
	var sessionPath string
	if c.stateDir != "" {
		sessionPath = filepath.Join(c.stateDir, BlueskySessionFile)
	}
	return platforms.NewBlueskyPlatform(c.config.Bluesky, sessionPath)
}

// Ollama works without configuration, falling back to OLLAMA_HOST.
func (c *PlatformComponent) Ollama() (*platforms.OllamaPlatform, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ollama != nil {
		return c.ollama, nil
	}
	ollama, err := platforms.NewOllamaPlatform(c.config.Ollama)
	if err != nil {
		return nil, err
	}
	c.ollama = ollama
	return ollama, nil
}

func (c *PlatformComponent) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.discord != nil {
		err = c.discord.Close(ctx)
		c.discord = nil
	}
	if c.bluesky != nil {
		c.bluesky.Close(ctx)
		c.bluesky = nil
	}
	c.ollama = nil
	return err
}
