package types

import (
	"context"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaOther
	MediaPhoto
	MediaVideo
)

func (m MediaType) String() string {
	switch m {
	case MediaOther:
		return "other"
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	default:
		return "unknown"
	}
}

func MediaTypeFromMime(mimeType string) MediaType {
	switch {
	case mimeType == "":
		return MediaUnknown
	case strings.HasPrefix(mimeType, "image/"):
		return MediaPhoto
	case strings.HasPrefix(mimeType, "video/"):
		return MediaVideo
	default:
		return MediaOther
	}
}

func MediaTypeFromPath(path string) MediaType {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return MediaUnknown
	}
	return MediaTypeFromMime(mime.TypeByExtension(ext))
}

// Payload is a handle to the bytes of one media item. A handle has exactly one
// owner; Duplicate hands out an independent handle for another owner.
type Payload interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Path returns a local file holding the bytes, downloading remote content
	// into scratch space on first use.
	Path(ctx context.Context) (string, error)
	Duplicate(ctx context.Context) (Payload, error)
	// Release is idempotent.
	Release() error
	Released() bool
	Size() int64
}

type MediaItem struct {
	SourceName string
	ItemID     string
	Filename   string
	Link       string
	MediaType  MediaType
	Payload    Payload
	Metadata   Metadata
	CreatedAt  time.Time
	Handled    bool
	Sentinel   bool
}

func (i *MediaItem) Key() string {
	return i.SourceName + "/" + i.ItemID
}

func (i *MediaItem) IsSentinel() bool {
	return i.Sentinel
}

// Clone copies the item and its metadata. The payload handle is shared; callers
// that need an independent handle must Duplicate it.
func (i *MediaItem) Clone() *MediaItem {
	c := *i
	c.Metadata = i.Metadata.Clone()
	return &c
}

// Release releases the item's payload if it has one.
func (i *MediaItem) Release() error {
	if i.Payload == nil {
		return nil
	}
	return i.Payload.Release()
}

// Candidate is one entry yielded by a Source during a poll.
type Candidate struct {
	ItemID    string
	Filename  string
	Link      string
	MediaType MediaType
	Metadata  Metadata
	Payload   Payload
	CreatedAt time.Time
	Err       error
}

type Cursor struct {
	ItemID string
	SeenAt time.Time
}

type PublishResult struct {
	RemoteID  string
	URL       string
	Timestamp time.Time
}

type Stage interface {
	Name() string
	Process(ctx context.Context, item *MediaItem) ([]*MediaItem, error)
}

// Flusher is implemented by stages that hold items between calls.
type Flusher interface {
	Flush(ctx context.Context) []*MediaItem
}

type Source interface {
	Name() string
	Initialize(ctx context.Context) error
	Candidates(ctx context.Context, cursor *Cursor) (<-chan Candidate, <-chan error)
	Shutdown(ctx context.Context) error
}

type Sink interface {
	Name() string
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, item *MediaItem) (*PublishResult, error)
	Shutdown(ctx context.Context) error
}

// SentinelHandler is implemented by stages that want to see pusher sentinels.
// The chain passes sentinels straight through every other stage.
type SentinelHandler interface {
	HandlesSentinels() bool
}
