package sources

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"freebooter/internal/media"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/types"
)

func init() {
	registry.Sources.Register(names.RSSSource, func(ctx context.Context, env registry.Env) (types.Source, error) {
		var cfg RSSConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		if env.Deps.Scratch == nil {
			return nil, types.NewConfigError("watchers", env.Name, "rss watcher needs scratch space")
		}
		return NewRSSSource(env.Name, cfg, env.Deps.HTTPClient, env.Deps.Scratch, env.Logger), nil
	})
}

const defaultUserAgent = "freebooter/1.0"

type RSSConfig struct {
	URL       string `toml:"url" validate:"omitempty,url"`
	OPML      string `toml:"opml" validate:"required_without=URL"`
	UserAgent string `toml:"user_agent"`
}

// RSSSource turns the media attached to feed entries into candidates. Entries
// without any media are skipped.
type RSSSource struct {
	name     string
	opml     string
	feedURLs []string
	client   *http.Client
	parser   *gofeed.Parser
	scratch  *media.Scratch
	logger   *slog.Logger
}

func NewRSSSource(name string, cfg RSSConfig, client *http.Client, scratch *media.Scratch, logger *slog.Logger) *RSSSource {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = cfg.UserAgent
	if parser.UserAgent == "" {
		parser.UserAgent = defaultUserAgent
	}

	var feedURLs []string
	if cfg.URL != "" {
		feedURLs = append(feedURLs, cfg.URL)
	}

	return &RSSSource{
		name:     name,
		opml:     cfg.OPML,
		feedURLs: feedURLs,
		client:   client,
		parser:   parser,
		scratch:  scratch,
		logger:   logger,
	}
}

func (r *RSSSource) Name() string {
	return r.name
}

func (r *RSSSource) FeedURLs() []string {
	return r.feedURLs
}

func (r *RSSSource) Initialize(ctx context.Context) error {
	if r.opml != "" {
		urls, err := LoadOPML(ctx, r.client, r.opml)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			return fmt.Errorf("OPML %s lists no feeds", r.opml)
		}
		r.feedURLs = append(r.feedURLs, urls...)
	}

	r.logger.Info("RSS source initializing", "feeds", len(r.feedURLs))
	return nil
}

func (r *RSSSource) Candidates(ctx context.Context, cursor *types.Cursor) (<-chan types.Candidate, <-chan error) {
	out := make(chan types.Candidate)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		var errs []error
		parsed := 0
		for _, feedURL := range r.feedURLs {
			r.logger.Debug("RSS source fetching feed", "feed_url", feedURL)
			feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("Failed to fetch feed", "feed_url", feedURL, "error", err)
				errs = append(errs, fmt.Errorf("failed to parse feed %s: %w", feedURL, err))
				continue
			}
			parsed++

			r.logger.Debug("RSS source retrieved items", "feed_url", feedURL, "count", len(feed.Items))
			for _, entry := range feed.Items {
				c, ok := r.convert(entry)
				if !ok {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					if c.Payload != nil {
						c.Payload.Release()
					}
					return
				}
			}
		}

		// a poll only fails when no feed could be read at all
		if parsed == 0 && len(errs) > 0 {
			errc <- errors.Join(errs...)
		}
	}()

	return out, errc
}

func (r *RSSSource) convert(entry *gofeed.Item) (types.Candidate, bool) {
	id := entry.GUID
	if id == "" {
		id = entry.Link
	}
	if id == "" {
		return types.Candidate{ItemID: entry.Title, Err: errors.New("entry has neither guid nor link")}, true
	}

	mediaURL, mimeType := entryMedia(entry)
	if mediaURL == "" {
		r.logger.Debug("Entry has no media, skipping", "item_id", id)
		return types.Candidate{}, false
	}
	if base, err := url.Parse(entry.Link); err == nil && entry.Link != "" {
		if ref, err := url.Parse(mediaURL); err == nil {
			mediaURL = base.ResolveReference(ref).String()
		}
	}

	filename := ""
	if u, err := url.Parse(mediaURL); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			filename = base
		}
	}

	mediaType := types.MediaTypeFromMime(mimeType)
	if mediaType == types.MediaUnknown || mediaType == types.MediaOther {
		if byPath := types.MediaTypeFromPath(filename); byPath != types.MediaUnknown {
			mediaType = byPath
		}
	}

	description := entry.Description
	if description == "" {
		description = entry.Content
	}

	fields := types.Fields{Title: types.Some(entry.Title)}
	if text := stripHTML(description); text != "" {
		fields.Description = types.Some(text)
	}
	if len(entry.Categories) > 0 {
		fields.Tags = types.Some(append([]string(nil), entry.Categories...))
	}

	var createdAt time.Time
	if entry.PublishedParsed != nil {
		createdAt = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		createdAt = *entry.UpdatedParsed
	}

	return types.Candidate{
		ItemID:    id,
		Filename:  filename,
		Link:      entry.Link,
		MediaType: mediaType,
		Metadata:  types.Metadata{types.DefaultPlatform: fields},
		Payload:   media.NewRemote(mediaURL, r.client, r.scratch),
		CreatedAt: createdAt,
	}, true
}

// entryMedia picks the entry's media URL: media:thumbnail, then media:content,
// then an enclosure, then the feed image, then the first image or [link]
// anchor in the entry HTML.
func entryMedia(entry *gofeed.Item) (string, string) {
	if mediaExt, ok := entry.Extensions["media"]; ok {
		for _, thumb := range mediaExt["thumbnail"] {
			if u := thumb.Attrs["url"]; u != "" {
				return u, ""
			}
		}
		for _, content := range mediaExt["content"] {
			if u := content.Attrs["url"]; u != "" {
				mimeType := content.Attrs["type"]
				if mimeType == "" && content.Attrs["medium"] != "" {
					mimeType = content.Attrs["medium"] + "/*"
				}
				return u, mimeType
			}
		}
	}

	for _, enclosure := range entry.Enclosures {
		if enclosure.URL != "" {
			return enclosure.URL, enclosure.Type
		}
	}

	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL, ""
	}

	return htmlMedia(entry.Description + entry.Content), ""
}

func htmlMedia(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}

	if src, ok := doc.Find("img[src]").First().Attr("src"); ok && src != "" {
		return src
	}

	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) == "[link]" {
			link, _ = a.Attr("href")
			return false
		}
		return true
	})
	return link
}

func (r *RSSSource) Shutdown(ctx context.Context) error {
	r.logger.Debug("RSS source shutting down")
	return nil
}

var htmlStripper = bluemonday.StrictPolicy()

// stripHTML removes tags and decodes entities.
func stripHTML(s string) string {
	s = htmlStripper.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}
