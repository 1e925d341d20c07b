package platforms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"

	"freebooter/internal/config"
)

type DiscordPlatform struct {
	token   config.Secret
	session *discordgo.Session
}

func NewDiscordPlatform(settings *config.DiscordPlatformConfig) (*DiscordPlatform, error) {
	if settings.Token.Value() == "" {
		return nil, fmt.Errorf("discord platform: token is required")
	}

	return &DiscordPlatform{
		token: settings.Token,
	}, nil
}

func (p *DiscordPlatform) Initialize(ctx context.Context) error {
	session, err := discordgo.New("Bot " + p.token.Value())
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	if session.State != nil && session.State.User != nil {
		slog.Info("Connected to discord", "user", session.State.User.Username)
	}

	p.session = session
	return nil
}

func (p *DiscordPlatform) Close(ctx context.Context) error {
	if p.session != nil {
		return p.session.Close()
	}
	return nil
}

func (p *DiscordPlatform) Session() *discordgo.Session {
	return p.session
}

// OnMessage registers a MessageCreate handler and returns a function that
// removes it.
func (p *DiscordPlatform) OnMessage(fn func(*discordgo.MessageCreate)) func() {
	return p.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		fn(m)
	})
}

// Webhook posts to one channel webhook. It needs no bot session: the token
// in the URL authenticates every call.
type Webhook struct {
	ID      string
	Token   string
	Session *discordgo.Session
}

// NewWebhook parses raw and prepares a REST-only session. Rate limits are
// returned to the caller instead of being retried inside discordgo.
func NewWebhook(raw string, client *http.Client) (*Webhook, error) {
	id, token, err := ParseWebhook(raw)
	if err != nil {
		return nil, err
	}

	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if client != nil {
		session.Client = client
	}
	session.ShouldRetryOnRateLimit = false
	session.MaxRestRetries = 0

	return &Webhook{ID: id, Token: token, Session: session}, nil
}

// ParseWebhook extracts the id and token from a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhook(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook url: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "webhooks" && i+2 < len(parts) && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("webhook url must look like https://discord.com/api/webhooks/<id>/<token>")
}
