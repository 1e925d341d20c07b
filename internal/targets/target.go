// Package targets holds what the uploader adapters share. The adapters
// themselves live in subpackages and register with registry.Sinks.
package targets

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rivo/uniseg"

	"freebooter/internal/media"
	"freebooter/internal/types"
)

// FromStatus classifies a failed HTTP call: 429, 408 and 5xx are retryable,
// every other status is permanent.
func FromStatus(uploader string, status int, retryAfter time.Duration, err error) *types.PublishError {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	err = fmt.Errorf("status %d: %w", status, err)

	switch {
	case status == http.StatusTooManyRequests:
		return types.NewRetryable(uploader, err).WithRetryAfter(retryAfter)
	case status == http.StatusRequestTimeout, status >= 500:
		return types.NewRetryable(uploader, err)
	default:
		return types.NewPermanent(uploader, err)
	}
}

// OpenError classifies a failure to read the item's payload. A released
// payload can never be read again; anything else may be a transient download
// failure.
func OpenError(uploader string, err error) *types.PublishError {
	err = fmt.Errorf("failed to open payload: %w", err)
	if errors.Is(err, media.ErrReleased) || errors.Is(err, media.ErrNoContent) {
		return types.NewPermanent(uploader, err)
	}
	return types.NewRetryable(uploader, err)
}

// Truncate shortens s to at most limit grapheme clusters, ending with an
// ellipsis when anything was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if uniseg.GraphemeClusterCount(s) <= limit {
		return s
	}

	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for n := 0; n < limit-1 && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	return strings.TrimRight(b.String(), " \n") + "…"
}

// Filename picks a file name for the item: its own, else the base of its
// item id, with ext appended when the name has none.
func Filename(item *types.MediaItem, ext string) string {
	name := item.Filename
	if name == "" {
		name = item.ItemID
		if i := strings.LastIndexAny(name, `/\`); i >= 0 {
			name = name[i+1:]
		}
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "media"
	}
	if ext != "" && !strings.Contains(name, ".") {
		name += ext
	}
	return name
}
