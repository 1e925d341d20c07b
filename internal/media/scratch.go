package media

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Scratch hands out uniquely named temporary files inside one directory.
type Scratch struct {
	dir string
}

func NewScratch(dir string) (*Scratch, error) {
	if dir == "" {
		return nil, fmt.Errorf("scratch directory is required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scratch directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory %s: %w", abs, err)
	}

	return &Scratch{dir: abs}, nil
}

func (s *Scratch) Dir() string {
	return s.dir
}

// Create opens a new empty file with the given extension.
func (s *Scratch) Create(ext string) (*os.File, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := filepath.Join(s.dir, uuid.NewString()+ext)

	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	return f, nil
}

// CopyFrom writes r into a new scratch file and returns an owned payload for it.
func (s *Scratch) CopyFrom(r io.Reader, ext string) (*FilePayload, error) {
	f, err := s.Create(ext)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write scratch file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to close scratch file: %w", err)
	}

	return NewOwnedFile(f.Name(), s), nil
}

// Clean removes every file left in the scratch directory.
func (s *Scratch) Clean() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read scratch directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}

	if removed > 0 {
		slog.Debug("Cleaned scratch directory", "path", s.dir, "removed", removed)
	}
	return nil
}
