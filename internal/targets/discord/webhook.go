package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"

	"freebooter/internal/config"
	"freebooter/internal/platforms"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/targets"
	"freebooter/internal/types"
)

func init() {
	registry.Sinks.Register(names.DiscordTarget, func(ctx context.Context, env registry.Env) (types.Sink, error) {
		var cfg Config
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		return New(env.Name, cfg, env.Deps.HTTPClient, env.Logger)
	})
}

const (
	embedColor          = 3447003
	maxTitle            = 256
	maxDescription      = 4096
	defaultMaxFileBytes = 10 << 20
)

type Config struct {
	Webhook   config.Secret `toml:"webhook" validate:"required"`
	Username  string        `toml:"username"`
	AvatarURL string        `toml:"avatar_url" validate:"omitempty,url"`
	Platform  string        `toml:"platform"`
	MaxBytes  int64         `toml:"max_bytes" validate:"gte=0"`
}

// Target posts each item as a file attachment through a channel webhook.
type Target struct {
	name      string
	webhookID string
	token     string
	username  string
	avatarURL string
	platform  string
	maxBytes  int64
	session   *discordgo.Session
	logger    *slog.Logger
}

func New(name string, cfg Config, client *http.Client, logger *slog.Logger) (*Target, error) {
	if logger == nil {
		logger = slog.Default()
	}

	webhook, err := platforms.NewWebhook(cfg.Webhook.Value(), client)
	if err != nil {
		return nil, types.NewConfigError("uploaders", name, "%v", err)
	}

	platform := cfg.Platform
	if platform == "" {
		platform = names.DiscordTarget
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxFileBytes
	}

	return &Target{
		name:      name,
		webhookID: webhook.ID,
		token:     webhook.Token,
		username:  cfg.Username,
		avatarURL: cfg.AvatarURL,
		platform:  platform,
		maxBytes:  maxBytes,
		session:   webhook.Session,
		logger:    logger,
	}, nil
}


func (t *Target) Name() string {
	return t.name
}

func (t *Target) Initialize(ctx context.Context) error {
	t.logger.Info("Discord webhook target ready", "webhook_id", t.webhookID)
	return nil
}

func (t *Target) Publish(ctx context.Context, item *types.MediaItem) (*types.PublishResult, error) {
	path, err := item.Payload.Path(ctx)
	if err != nil {
		return nil, targets.OpenError(t.name, err)
	}
	// remote payloads only know their size once fetched
	if size := item.Payload.Size(); size > t.maxBytes {
		return nil, types.NewPermanent(t.name, fmt.Errorf("file is %d bytes, limit is %d", size, t.maxBytes))
	}

	body, err := item.Payload.Open(ctx)
	if err != nil {
		return nil, targets.OpenError(t.name, err)
	}
	defer body.Close()

	ext := filepath.Ext(path)
	filename := targets.Filename(item, ext)
	fields := item.Metadata.Resolve(t.platform)

	params := &discordgo.WebhookParams{
		Username:  t.username,
		AvatarURL: t.avatarURL,
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: mime.TypeByExtension(filepath.Ext(filename)),
			Reader:      body,
		}},
	}
	if embed := t.embed(item, fields); embed != nil {
		params.Embeds = []*discordgo.MessageEmbed{embed}
	}

	msg, err := t.session.WebhookExecute(t.webhookID, t.token, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return nil, t.classify(err)
	}

	result := &types.PublishResult{Timestamp: time.Now()}
	if msg != nil {
		result.RemoteID = msg.ID
		if msg.GuildID != "" {
			result.URL = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", msg.GuildID, msg.ChannelID, msg.ID)
		}
	}
	return result, nil
}

func (t *Target) embed(item *types.MediaItem, fields types.Fields) *discordgo.MessageEmbed {
	title := fields.TitleOr("")
	description := fields.DescriptionOr("")
	if title == "" && description == "" {
		return nil
	}
	return &discordgo.MessageEmbed{
		Title:       targets.Truncate(title, maxTitle),
		Description: targets.Truncate(description, maxDescription),
		URL:         item.Link,
		Color:       embedColor,
	}
}

func (t *Target) classify(err error) error {
	var rateLimited *discordgo.RateLimitError
	if errors.As(err, &rateLimited) {
		var retryAfter time.Duration
		if rateLimited.RateLimit != nil && rateLimited.TooManyRequests != nil {
			retryAfter = rateLimited.RetryAfter
		}
		return targets.FromStatus(t.name, http.StatusTooManyRequests, retryAfter, err)
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return targets.FromStatus(t.name, rest.Response.StatusCode, 0, err)
	}

	// transport failures
	return types.NewRetryable(t.name, err)
}

func (t *Target) Shutdown(ctx context.Context) error {
	return nil
}
