package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/storage"
	"freebooter/internal/targets"
	"freebooter/internal/types"
)

func init() {
	registry.Sinks.Register(names.FeedTarget, func(ctx context.Context, env registry.Env) (types.Sink, error) {
		var cfg Config
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		if env.Deps.Storage == nil {
			return nil, types.NewConfigError("uploaders", env.Name, "feed uploader needs storage")
		}
		if cfg.Feed == "" {
			cfg.Feed = env.Name
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = env.Deps.BaseURL
		}
		return New(env.Name, cfg, env.Deps.Storage.Feed(), env.Logger), nil
	})
}

type Config struct {
	Feed     string `toml:"feed" validate:"omitempty,excludesall=/?#"`
	MediaDir string `toml:"media_dir" validate:"required"`
	BaseURL  string `toml:"base_url" validate:"omitempty,url"`
	Platform string `toml:"platform"`
}

// Target publishes items into a served feed. Media is copied into MediaDir
// and referenced by URL from the entry.
type Target struct {
	name     string
	feed     string
	mediaDir string
	baseURL  string
	platform string
	store    storage.FeedStore
	logger   *slog.Logger
	inserted func(feed string)
}

func New(name string, cfg Config, store storage.FeedStore, logger *slog.Logger) *Target {
	if logger == nil {
		logger = slog.Default()
	}
	feed := cfg.Feed
	if feed == "" {
		feed = name
	}
	platform := cfg.Platform
	if platform == "" {
		platform = names.FeedTarget
	}
	return &Target{
		name:     name,
		feed:     feed,
		mediaDir: cfg.MediaDir,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		platform: platform,
		store:    store,
		logger:   logger,
	}
}

func (t *Target) Name() string {
	return t.name
}

// Feed is the name the feed is served under.
func (t *Target) Feed() string {
	return t.feed
}

// MediaDir is where the media of this feed is stored.
func (t *Target) MediaDir() string {
	return t.mediaDir
}

// OnInsert registers fn to be called after every stored entry.
func (t *Target) OnInsert(fn func(feed string)) {
	t.inserted = fn
}

// MediaURL is the public URL of a stored media file.
func (t *Target) MediaURL(filename string) string {
	return t.baseURL + "/media/" + url.PathEscape(t.feed) + "/" + url.PathEscape(filename)
}

func (t *Target) Initialize(ctx context.Context) error {
	abs, err := filepath.Abs(t.mediaDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", t.mediaDir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("failed to create media directory %s: %w", abs, err)
	}
	t.mediaDir = abs
	t.logger.Info("Feed target ready", "feed", t.feed, "media_dir", t.mediaDir)
	return nil
}

func (t *Target) Publish(ctx context.Context, item *types.MediaItem) (*types.PublishResult, error) {
	path, err := item.Payload.Path(ctx)
	if err != nil {
		return nil, targets.OpenError(t.name, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(item.Filename))
	}

	src, err := item.Payload.Open(ctx)
	if err != nil {
		return nil, targets.OpenError(t.name, err)
	}
	defer src.Close()

	filename := uuid.NewString() + ext
	dst := filepath.Join(t.mediaDir, filename)
	size, err := copyFile(dst, src)
	if err != nil {
		return nil, types.NewRetryable(t.name, err)
	}

	fields := item.Metadata.Resolve(t.platform)
	entry := storage.FeedEntry{
		ID:          item.Key(),
		Feed:        t.feed,
		Title:       fields.TitleOr(item.Filename),
		Link:        item.Link,
		Description: fields.DescriptionOr(""),
		Source:      item.SourceName,
		MediaURL:    t.MediaURL(filename),
		MediaType:   mime.TypeByExtension(ext),
		MediaLength: size,
		PublishedAt: item.CreatedAt,
		CreatedAt:   time.Now(),
	}

	if err := t.store.InsertEntry(ctx, entry); err != nil {
		os.Remove(dst)
		return nil, types.NewRetryable(t.name, fmt.Errorf("failed to insert feed entry: %w", err))
	}

	if t.inserted != nil {
		t.inserted(t.feed)
	}

	t.logger.Debug("Feed target inserted entry", "feed", t.feed, "item", item.Key(), "media", filename)
	return &types.PublishResult{
		RemoteID:  entry.ID,
		URL:       entry.MediaURL,
		Timestamp: entry.CreatedAt,
	}, nil
}

func copyFile(dst string, src io.Reader) (int64, error) {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		os.Remove(dst)
		return 0, fmt.Errorf("failed to copy media: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return n, nil
}

func (t *Target) Shutdown(ctx context.Context) error {
	return nil
}
