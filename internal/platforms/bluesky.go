package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"

	"freebooter/internal/config"
)

const DefaultBlueskyHost = "https://bsky.social"

// BlueskySession is the token pair persisted by `freebooter authorize bluesky`.
type BlueskySession struct {
	Host       string `json:"host"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
	AccessJwt  string `json:"access_jwt"`
	RefreshJwt string `json:"refresh_jwt"`
}

type BlueskyPlatform struct {
	host        string
	identifier  string
	password    config.Secret
	sessionPath string

	mu     sync.Mutex
	client *xrpc.Client
}

func NewBlueskyPlatform(settings *config.BlueskyPlatformConfig, sessionPath string) (*BlueskyPlatform, error) {
	if settings.Identifier == "" {
		return nil, fmt.Errorf("bluesky platform: identifier is required")
	}

	host := settings.Host
	if host == "" {
		host = DefaultBlueskyHost
	}

	return &BlueskyPlatform{
		host:        strings.TrimSuffix(host, "/"),
		identifier:  settings.Identifier,
		password:    settings.Password,
		sessionPath: sessionPath,
	}, nil
}

// Initialize resumes a stored session when one exists and falls back to a
// password login.
func (p *BlueskyPlatform) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sess, err := p.loadSession(); err == nil && sess != nil {
		err := p.refreshLocked(ctx, sess)
		if err == nil {
			slog.Info("Resumed bluesky session", "handle", sess.Handle)
			return nil
		}
		slog.Warn("Stored bluesky session could not be refreshed", "error", err)
	}

	return p.loginLocked(ctx)
}

// Login always performs a password login and stores the new session.
func (p *BlueskyPlatform) Login(ctx context.Context) (*BlueskySession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loginLocked(ctx); err != nil {
		return nil, err
	}
	return p.sessionLocked(), nil
}

func (p *BlueskyPlatform) loginLocked(ctx context.Context) error {
	if p.password.Value() == "" {
		return fmt.Errorf("bluesky platform: password is required to log in")
	}

	client := &xrpc.Client{Host: p.host}
	auth, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: p.identifier,
		Password:   p.password.Value(),
	})
	if err != nil {
		return fmt.Errorf("failed to authenticate with bluesky: %w", err)
	}

	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  auth.AccessJwt,
		RefreshJwt: auth.RefreshJwt,
		Handle:     auth.Handle,
		Did:        auth.Did,
	}
	p.client = client

	return p.saveSessionLocked()
}

func (p *BlueskyPlatform) refreshLocked(ctx context.Context, sess *BlueskySession) error {
	host := sess.Host
	if host == "" {
		host = p.host
	}

	// refreshSession authenticates with the refresh token
	client := &xrpc.Client{
		Host: host,
		Auth: &xrpc.AuthInfo{
			AccessJwt:  sess.RefreshJwt,
			RefreshJwt: sess.RefreshJwt,
			Handle:     sess.Handle,
			Did:        sess.Did,
		},
	}

	out, err := atproto.ServerRefreshSession(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to refresh bluesky session: %w", err)
	}

	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	}
	p.client = client

	return p.saveSessionLocked()
}

// Do runs fn with the authenticated client, refreshing the session once when
// the access token has expired.
func (p *BlueskyPlatform) Do(ctx context.Context, fn func(*xrpc.Client) error) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil {
		return fmt.Errorf("bluesky platform is not initialized")
	}

	err := fn(client)
	if err == nil || !isExpiredToken(err) {
		return err
	}

	p.mu.Lock()
	sess := p.sessionLocked()
	refreshErr := p.refreshLocked(ctx, sess)
	if refreshErr != nil {
		refreshErr = p.loginLocked(ctx)
	}
	client = p.client
	p.mu.Unlock()

	if refreshErr != nil {
		return errors.Join(err, refreshErr)
	}
	return fn(client)
}

func (p *BlueskyPlatform) Client() *xrpc.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *BlueskyPlatform) Close(ctx context.Context) error {
	return nil
}

func (p *BlueskyPlatform) sessionLocked() *BlueskySession {
	if p.client == nil || p.client.Auth == nil {
		return nil
	}
	return &BlueskySession{
		Host:       p.client.Host,
		Handle:     p.client.Auth.Handle,
		Did:        p.client.Auth.Did,
		AccessJwt:  p.client.Auth.AccessJwt,
		RefreshJwt: p.client.Auth.RefreshJwt,
	}
}

func (p *BlueskyPlatform) loadSession() (*BlueskySession, error) {
	if p.sessionPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(p.sessionPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bluesky session: %w", err)
	}

	var sess BlueskySession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode bluesky session: %w", err)
	}
	if sess.RefreshJwt == "" {
		return nil, nil
	}
	return &sess, nil
}

func (p *BlueskyPlatform) saveSessionLocked() error {
	if p.sessionPath == "" {
		return nil
	}

	sess := p.sessionLocked()
	if sess == nil {
		return nil
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode bluesky session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.sessionPath), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(p.sessionPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write bluesky session: %w", err)
	}
	return nil
}

func isExpiredToken(err error) bool {
	return strings.Contains(err.Error(), "ExpiredToken")
}
