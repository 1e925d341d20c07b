package sources

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"freebooter/internal/media"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/types"
)

func init() {
	registry.Sources.Register(names.LocalSource, func(ctx context.Context, env registry.Env) (types.Source, error) {
		var cfg LocalConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		return NewLocalSource(env.Name, cfg, env.Logger), nil
	})
}

type LocalConfig struct {
	Path       string   `toml:"path" validate:"required"`
	Recursive  *bool    `toml:"recursive"`
	Extensions []string `toml:"extensions"`
}

// LocalSource picks up media files dropped into a directory. Files are
// borrowed: releasing a payload never deletes the original.
type LocalSource struct {
	name       string
	root       string
	recursive  bool
	extensions []string
	logger     *slog.Logger
}

func NewLocalSource(name string, cfg LocalConfig, logger *slog.Logger) *LocalSource {
	if logger == nil {
		logger = slog.Default()
	}

	recursive := true
	if cfg.Recursive != nil {
		recursive = *cfg.Recursive
	}

	var exts []string
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}

	return &LocalSource{
		name:       name,
		root:       cfg.Path,
		recursive:  recursive,
		extensions: exts,
		logger:     logger,
	}
}

func (s *LocalSource) Name() string {
	return s.name
}

func (s *LocalSource) Root() string {
	return s.root
}

func (s *LocalSource) Initialize(ctx context.Context) error {
	abs, err := filepath.Abs(s.root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", s.root, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("failed to create watched directory %s: %w", abs, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	s.root = abs
	s.logger.Info("Local source initializing", "path", s.root, "recursive", s.recursive, "extensions", s.extensions)
	return nil
}

func (s *LocalSource) Candidates(ctx context.Context, cursor *types.Cursor) (<-chan types.Candidate, <-chan error) {
	out := make(chan types.Candidate)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == s.root {
					return err
				}
				s.logger.Warn("Skipping unreadable path", "path", path, "error", err)
				return nil
			}
			if d.IsDir() {
				if path != s.root && !s.recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || s.ignored(d.Name()) {
				return nil
			}

			c := s.candidate(path, d)
			select {
			case out <- c:
				return nil
			case <-ctx.Done():
				if c.Payload != nil {
					c.Payload.Release()
				}
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			errc <- fmt.Errorf("failed to scan %s: %w", s.root, err)
		}
	}()

	return out, errc
}

func (s *LocalSource) candidate(path string, d fs.DirEntry) types.Candidate {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = d.Name()
	}
	id := filepath.ToSlash(rel)

	info, err := d.Info()
	if err != nil {
		return types.Candidate{ItemID: id, Err: fmt.Errorf("failed to stat file: %w", err)}
	}

	name := d.Name()
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	return types.Candidate{
		ItemID:    id,
		Filename:  name,
		MediaType: types.MediaTypeFromPath(name),
		Metadata:  types.Metadata{types.DefaultPlatform: {Title: types.Some(stem)}},
		Payload:   media.NewBorrowedFile(path, nil),
		CreatedAt: info.ModTime(),
	}
}

func (s *LocalSource) ignored(name string) bool {
	if name == ".DS_Store" {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".json" {
		return true
	}
	return len(s.extensions) > 0 && !slices.Contains(s.extensions, ext)
}

func (s *LocalSource) Shutdown(ctx context.Context) error {
	s.logger.Debug("Local source shutting down")
	return nil
}
