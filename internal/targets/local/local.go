package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/targets"
	"freebooter/internal/types"
)

func init() {
	registry.Sinks.Register(names.LocalTarget, func(ctx context.Context, env registry.Env) (types.Sink, error) {
		var cfg Config
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		return New(env.Name, cfg, env.Logger), nil
	})
}

type Config struct {
	Path     string `toml:"path" validate:"required"`
	Sidecar  *bool  `toml:"sidecar"`
	Platform string `toml:"platform"`
}

// Sidecar is the JSON document written next to every copied file.
type Sidecar struct {
	Source      string    `json:"source"`
	ItemID      string    `json:"item_id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	Link        string    `json:"link,omitempty"`
	MediaType   string    `json:"media_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Target copies media into a directory. Existing files are never overwritten;
// a numeric suffix is added before the extension instead.
type Target struct {
	name     string
	dir      string
	sidecar  bool
	platform string
	logger   *slog.Logger
}

func New(name string, cfg Config, logger *slog.Logger) *Target {
	if logger == nil {
		logger = slog.Default()
	}
	sidecar := true
	if cfg.Sidecar != nil {
		sidecar = *cfg.Sidecar
	}
	platform := cfg.Platform
	if platform == "" {
		platform = names.LocalTarget
	}
	return &Target{
		name:     name,
		dir:      cfg.Path,
		sidecar:  sidecar,
		platform: platform,
		logger:   logger,
	}
}

func (t *Target) Name() string {
	return t.name
}

func (t *Target) Initialize(ctx context.Context) error {
	abs, err := filepath.Abs(t.dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", t.dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", abs, err)
	}
	t.dir = abs
	return nil
}

func (t *Target) Publish(ctx context.Context, item *types.MediaItem) (*types.PublishResult, error) {
	var ext string
	if src, err := item.Payload.Path(ctx); err == nil {
		ext = filepath.Ext(src)
	}

	src, err := item.Payload.Open(ctx)
	if err != nil {
		return nil, targets.OpenError(t.name, err)
	}
	defer src.Close()

	dst, err := t.create(targets.Filename(item, ext))
	if err != nil {
		return nil, types.NewRetryable(t.name, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return nil, types.NewRetryable(t.name, fmt.Errorf("failed to copy payload: %w", err))
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return nil, types.NewRetryable(t.name, fmt.Errorf("failed to close %s: %w", dst.Name(), err))
	}

	if t.sidecar {
		if err := t.writeSidecar(dst.Name()+".json", item); err != nil {
			t.logger.Warn("Failed to write sidecar", "path", dst.Name(), "error", err)
		}
	}

	t.logger.Debug("Copied item", "item", item.Key(), "path", dst.Name())
	return &types.PublishResult{
		RemoteID:  filepath.Base(dst.Name()),
		URL:       "file://" + filepath.ToSlash(dst.Name()),
		Timestamp: time.Now(),
	}, nil
}

// create opens name in the output directory, trying name_1, name_2, ... until
// one does not exist yet.
func (t *Target) create(name string) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 1; ; i++ {
		path := filepath.Join(t.dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
		candidate = stem + "_" + strconv.Itoa(i) + ext
	}
}

func (t *Target) writeSidecar(path string, item *types.MediaItem) error {
	fields := item.Metadata.Resolve(t.platform)
	data, err := json.MarshalIndent(Sidecar{
		Source:      item.SourceName,
		ItemID:      item.ItemID,
		Title:       fields.TitleOr(""),
		Description: fields.DescriptionOr(""),
		Tags:        fields.TagList(),
		Categories:  fields.CategoryList(),
		Link:        item.Link,
		MediaType:   item.MediaType.String(),
		CreatedAt:   item.CreatedAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (t *Target) Shutdown(ctx context.Context) error {
	return nil
}
