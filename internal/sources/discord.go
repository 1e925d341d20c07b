package sources

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"freebooter/internal/media"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/types"
)

func init() {
	registry.Sources.Register(names.DiscordSource, func(ctx context.Context, env registry.Env) (types.Source, error) {
		var cfg DiscordConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		if env.Deps.Platforms == nil {
			return nil, types.NewConfigError("watchers", env.Name, "discord watcher needs [platforms.discord]")
		}
		if env.Deps.Scratch == nil {
			return nil, types.NewConfigError("watchers", env.Name, "discord watcher needs scratch space")
		}
		return NewDiscordSource(env.Name, cfg, env.Deps.Platforms, env.Deps.Scratch, env.Logger), nil
	})
}

type DiscordConfig struct {
	ChannelID string `toml:"channel_id" validate:"required,numeric"`
	// History is how many past messages to read on the first poll.
	History int `toml:"history" validate:"gte=0,lte=100"`
}

// DiscordSource buffers attachments posted to one channel; every poll drains
// the buffer.
type DiscordSource struct {
	name      string
	channelID string
	history   int
	platforms registry.Platforms
	scratch   *media.Scratch
	logger    *slog.Logger

	session *discordgo.Session
	remove  func()

	mu       sync.Mutex
	buffered []types.Candidate
	seen     map[string]bool
}

func NewDiscordSource(name string, cfg DiscordConfig, platforms registry.Platforms, scratch *media.Scratch, logger *slog.Logger) *DiscordSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordSource{
		name:      name,
		channelID: cfg.ChannelID,
		history:   cfg.History,
		platforms: platforms,
		scratch:   scratch,
		logger:    logger,
		seen:      make(map[string]bool),
	}
}

func (d *DiscordSource) Name() string {
	return d.name
}

func (d *DiscordSource) Initialize(ctx context.Context) error {
	platform, err := d.platforms.Discord(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to discord: %w", err)
	}

	d.session = platform.Session()
	d.remove = platform.OnMessage(func(m *discordgo.MessageCreate) {
		d.OnMessage(m.Message)
	})

	if d.history > 0 {
		d.backfill()
	}

	d.logger.Info("Discord source listening", "channel_id", d.channelID, "history", d.history)
	return nil
}

// backfill buffers attachments from the channel's most recent messages,
// oldest first.
func (d *DiscordSource) backfill() {
	messages, err := d.session.ChannelMessages(d.channelID, d.history, "", "", "")
	if err != nil {
		d.logger.Warn("Failed to read channel history", "error", err)
		return
	}
	slices.Reverse(messages)
	for _, m := range messages {
		d.OnMessage(m)
	}
}

// OnMessage buffers every attachment of a message posted to the watched channel.
func (d *DiscordSource) OnMessage(m *discordgo.Message) {
	if m == nil || m.ChannelID != d.channelID || len(m.Attachments) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range m.Attachments {
		if d.seen[a.ID] {
			continue
		}
		d.seen[a.ID] = true
		d.buffered = append(d.buffered, d.candidate(m, a))
	}
	d.logger.Debug("Buffered attachments", "message_id", m.ID, "attachments", len(m.Attachments))
}

func (d *DiscordSource) candidate(m *discordgo.Message, a *discordgo.MessageAttachment) types.Candidate {
	mediaType := types.MediaTypeFromMime(a.ContentType)
	if mediaType == types.MediaUnknown {
		mediaType = types.MediaTypeFromPath(a.Filename)
	}

	fields := types.Fields{Title: types.Some(a.Filename)}
	if m.Content != "" {
		fields.Description = types.Some(m.Content)
	}

	createdAt := m.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return types.Candidate{
		ItemID:    a.ID,
		Filename:  a.Filename,
		Link:      messageLink(m),
		MediaType: mediaType,
		Metadata:  types.Metadata{types.DefaultPlatform: fields},
		Payload:   media.NewRemote(a.URL, nil, d.scratch),
		CreatedAt: createdAt,
	}
}

func messageLink(m *discordgo.Message) string {
	guild := m.GuildID
	if guild == "" {
		guild = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guild, m.ChannelID, m.ID)
}

// Buffered reports how many attachments wait for the next poll.
func (d *DiscordSource) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffered)
}

func (d *DiscordSource) Candidates(ctx context.Context, cursor *types.Cursor) (<-chan types.Candidate, <-chan error) {
	d.mu.Lock()
	batch := d.buffered
	d.buffered = nil
	d.mu.Unlock()

	out := make(chan types.Candidate)
	errc := make(chan error)

	go func() {
		defer close(out)
		defer close(errc)
		for i, c := range batch {
			select {
			case out <- c:
			case <-ctx.Done():
				// put the rest back for the next poll
				d.mu.Lock()
				d.buffered = append(batch[i:], d.buffered...)
				d.mu.Unlock()
				return
			}
		}
	}()

	return out, errc
}

func (d *DiscordSource) Shutdown(ctx context.Context) error {
	if d.remove != nil {
		d.remove()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.buffered {
		if c.Payload != nil {
			c.Payload.Release()
		}
	}
	d.buffered = nil
	return nil
}
