package bluesky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"freebooter/internal/platforms"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/targets"
	"freebooter/internal/types"
)

func init() {
	registry.Sinks.Register(names.BlueskyTarget, func(ctx context.Context, env registry.Env) (types.Sink, error) {
		var cfg Config
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		if env.Deps.Platforms == nil {
			return nil, types.NewConfigError("uploaders", env.Name, "bluesky uploader needs [platforms.bluesky]")
		}
		return New(env.Name, cfg, env.Deps.Platforms, env.Logger), nil
	})
}

const (
	postCollection = "app.bsky.feed.post"
	maxGraphemes   = 300
	maxImageBytes  = 1_000_000
)

type Config struct {
	Languages []string `toml:"languages"`
	Platform  string   `toml:"platform"`
}

// Target posts photos to a Bluesky account.
type Target struct {
	name      string
	languages []string
	platform  string
	platforms registry.Platforms
	client    *platforms.BlueskyPlatform
	logger    *slog.Logger
}

func New(name string, cfg Config, p registry.Platforms, logger *slog.Logger) *Target {
	if logger == nil {
		logger = slog.Default()
	}
	platform := cfg.Platform
	if platform == "" {
		platform = names.BlueskyTarget
	}
	return &Target{
		name:      name,
		languages: cfg.Languages,
		platform:  platform,
		platforms: p,
		logger:    logger,
	}
}

func (t *Target) Name() string {
	return t.name
}

func (t *Target) Initialize(ctx context.Context) error {
	client, err := t.platforms.Bluesky(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to bluesky: %w", err)
	}
	t.client = client
	return nil
}

func (t *Target) Publish(ctx context.Context, item *types.MediaItem) (*types.PublishResult, error) {
	if t.client == nil {
		return nil, types.NewPermanent(t.name, errors.New("bluesky uploader is not initialized"))
	}

	mediaType := item.MediaType
	if mediaType == types.MediaUnknown {
		if path, err := item.Payload.Path(ctx); err == nil {
			mediaType = types.MediaTypeFromPath(path)
		}
	}
	if mediaType != types.MediaPhoto {
		return nil, types.NewPermanent(t.name, fmt.Errorf("only photos can be posted, got %s", mediaType))
	}

	if _, err := item.Payload.Path(ctx); err != nil {
		return nil, targets.OpenError(t.name, err)
	}
	if size := item.Payload.Size(); size > maxImageBytes {
		return nil, types.NewPermanent(t.name, fmt.Errorf("image is %d bytes, limit is %d", size, maxImageBytes))
	}

	fields := item.Metadata.Resolve(t.platform)
	post := BuildPost(fields, t.languages, time.Now())

	var out *atproto.RepoCreateRecord_Output
	err := t.client.Do(ctx, func(c *xrpc.Client) error {
		body, err := item.Payload.Open(ctx)
		if err != nil {
			return err
		}
		defer body.Close()

		blob, err := atproto.RepoUploadBlob(ctx, c, body)
		if err != nil {
			return fmt.Errorf("failed to upload image: %w", err)
		}
		AttachImage(post, blob.Blob, fields.TitleOr(""))

		out, err = atproto.RepoCreateRecord(ctx, c, &atproto.RepoCreateRecord_Input{
			Collection: postCollection,
			Repo:       c.Auth.Did,
			Record:     &util.LexiconTypeDecoder{Val: post},
		})
		if err != nil {
			return fmt.Errorf("failed to create post: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, t.classify(err)
	}

	t.logger.Debug("Posted to bluesky", "item", item.Key(), "uri", out.Uri)
	return &types.PublishResult{
		RemoteID:  out.Uri,
		URL:       PostURL(out.Uri),
		Timestamp: time.Now(),
	}, nil
}

func (t *Target) classify(err error) error {
	var xerr *xrpc.Error
	if errors.As(err, &xerr) {
		var retryAfter time.Duration
		if xerr.Ratelimit != nil && !xerr.Ratelimit.Reset.IsZero() {
			retryAfter = time.Until(xerr.Ratelimit.Reset)
		}
		return targets.FromStatus(t.name, xerr.StatusCode, retryAfter, err)
	}
	return types.NewRetryable(t.name, err)
}

func (t *Target) Shutdown(ctx context.Context) error {
	return nil
}

// BuildPost creates the post record. Its text is the title and description,
// cut to Bluesky's grapheme limit.
func BuildPost(fields types.Fields, languages []string, now time.Time) *bsky.FeedPost {
	return &bsky.FeedPost{
		LexiconTypeID: postCollection,
		CreatedAt:     now.UTC().Format(time.RFC3339),
		Langs:         languages,
		Text:          targets.Truncate(fields.Text(), maxGraphemes),
	}
}

func AttachImage(post *bsky.FeedPost, blob *util.LexBlob, alt string) {
	post.Embed = &bsky.FeedPost_Embed{
		EmbedImages: &bsky.EmbedImages{
			LexiconTypeID: "app.bsky.embed.images",
			Images: []*bsky.EmbedImages_Image{{
				Alt:   alt,
				Image: blob,
			}},
		},
	}
}

// PostURL turns at://did/app.bsky.feed.post/rkey into the web URL of the post.
func PostURL(uri string) string {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ""
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[1] != postCollection {
		return ""
	}
	return "https://bsky.app/profile/" + parts[0] + "/post/" + parts[2]
}
