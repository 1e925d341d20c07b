package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"freebooter/internal/types"
)

var (
	ErrReleased  = errors.New("payload already released")
	ErrNoContent = errors.New("payload has no content")
)

// FilePayload points at a local file. Owned files live in scratch space and
// are deleted on release; borrowed files belong to someone else and are left alone.
type FilePayload struct {
	path     string
	owned    bool
	scratch  *Scratch
	released atomic.Bool
}

func NewOwnedFile(path string, scratch *Scratch) *FilePayload {
	return &FilePayload{path: path, owned: true, scratch: scratch}
}

func NewBorrowedFile(path string, scratch *Scratch) *FilePayload {
	return &FilePayload{path: path, scratch: scratch}
}

func (p *FilePayload) Open(ctx context.Context) (io.ReadCloser, error) {
	if p.released.Load() {
		return nil, ErrReleased
	}
	return os.Open(p.path)
}

func (p *FilePayload) Path(ctx context.Context) (string, error) {
	if p.released.Load() {
		return "", ErrReleased
	}
	return p.path, nil
}

func (p *FilePayload) Duplicate(ctx context.Context) (types.Payload, error) {
	if p.released.Load() {
		return nil, ErrReleased
	}

	if !p.owned {
		return NewBorrowedFile(p.path, p.scratch), nil
	}

	if p.scratch == nil {
		return nil, fmt.Errorf("cannot duplicate %s without scratch space", p.path)
	}

	src, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload for duplication: %w", err)
	}
	defer src.Close()

	return p.scratch.CopyFrom(src, filepath.Ext(p.path))
}

func (p *FilePayload) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}
	if !p.owned {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove scratch file: %w", err)
	}
	return nil
}

func (p *FilePayload) Released() bool {
	return p.released.Load()
}

func (p *FilePayload) Size() int64 {
	info, err := os.Stat(p.path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// RemotePayload downloads a URL into scratch space the first time its bytes are needed.
type RemotePayload struct {
	url     string
	client  *http.Client
	scratch *Scratch

	mu       sync.Mutex
	local    *FilePayload
	released atomic.Bool
}

func NewRemote(url string, client *http.Client, scratch *Scratch) *RemotePayload {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &RemotePayload{url: url, client: client, scratch: scratch}
}

func (p *RemotePayload) URL() string {
	return p.url
}

func (p *RemotePayload) fetch(ctx context.Context) (*FilePayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released.Load() {
		return nil, ErrReleased
	}
	if p.local != nil {
		return p.local, nil
	}
	if p.scratch == nil {
		return nil, fmt.Errorf("cannot download %s without scratch space", p.url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %d", p.url, resp.StatusCode)
	}

	local, err := p.scratch.CopyFrom(resp.Body, remoteExt(p.url, resp.Header.Get("Content-Type")))
	if err != nil {
		return nil, err
	}

	p.local = local
	return local, nil
}

func (p *RemotePayload) Open(ctx context.Context) (io.ReadCloser, error) {
	local, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return local.Open(ctx)
}

func (p *RemotePayload) Path(ctx context.Context) (string, error) {
	local, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	return local.Path(ctx)
}

func (p *RemotePayload) Duplicate(ctx context.Context) (types.Payload, error) {
	if p.released.Load() {
		return nil, ErrReleased
	}

	p.mu.Lock()
	local := p.local
	p.mu.Unlock()

	dup := NewRemote(p.url, p.client, p.scratch)
	if local != nil {
		copied, err := local.Duplicate(ctx)
		if err != nil {
			return nil, err
		}
		dup.local = copied.(*FilePayload)
	}
	return dup, nil
}

func (p *RemotePayload) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local != nil {
		return p.local.Release()
	}
	return nil
}

func (p *RemotePayload) Released() bool {
	return p.released.Load()
}

func (p *RemotePayload) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return -1
	}
	return p.local.Size()
}

func remoteExt(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
				return exts[0]
			}
		}
	}
	return ""
}

// EmptyPayload carries no bytes. Pusher sentinels use it.
type EmptyPayload struct {
	released atomic.Bool
}

func Empty() *EmptyPayload {
	return &EmptyPayload{}
}

func (p *EmptyPayload) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (p *EmptyPayload) Path(ctx context.Context) (string, error) {
	return "", ErrNoContent
}

func (p *EmptyPayload) Duplicate(ctx context.Context) (types.Payload, error) {
	return Empty(), nil
}

func (p *EmptyPayload) Release() error {
	p.released.Store(true)
	return nil
}

func (p *EmptyPayload) Released() bool {
	return p.released.Load()
}

func (p *EmptyPayload) Size() int64 {
	return 0
}
