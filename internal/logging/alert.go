package logging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"freebooter/internal/platforms"
)

const (
	alertQueueSize   = 32
	alertTimeout     = 10 * time.Second
	maxAlertContents = 2000
)

// alertSink delivers alerts on its own goroutine. Delivery failures go to the
// fallback logger, which never includes the alert handler.
type alertSink struct {
	webhook  *platforms.Webhook
	fallback *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan string
	done   chan struct{}
}

type alertHandler struct {
	sink   *alertSink
	attrs  []slog.Attr
	prefix string
}

func newAlertHandler(webhook string, client *http.Client, fallback *slog.Logger) (*alertHandler, error) {
	hook, err := platforms.NewWebhook(webhook, client)
	if err != nil {
		return nil, err
	}

	sink := &alertSink{
		webhook:  hook,
		fallback: fallback,
		queue:    make(chan string, alertQueueSize),
		done:     make(chan struct{}),
	}
	go sink.run()

	return &alertHandler{sink: sink}, nil
}

func (s *alertSink) run() {
	defer close(s.done)
	for content := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		_, err := s.webhook.Session.WebhookExecute(s.webhook.ID, s.webhook.Token, false, &discordgo.WebhookParams{
			Content: content,
		}, discordgo.WithContext(ctx))
		cancel()
		if err != nil {
			s.fallback.Warn("Failed to deliver alert", "error", err)
		}
	}
}

// offer queues content unless the queue is full or closed; the caller is
// never blocked on delivery.
func (s *alertSink) offer(content string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- content:
	default:
		s.fallback.Warn("Alert queue full, dropping alert")
	}
}

func (s *alertSink) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (h *alertHandler) Close() {
	h.sink.close()
}

func (h *alertHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *alertHandler) Handle(ctx context.Context, record slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** %s", record.Level, record.Message)

	writeAttr := func(prefix string, a slog.Attr) {
		fmt.Fprintf(&b, "\n`%s%s=%s`", prefix, a.Key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		writeAttr("", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(h.prefix, a)
		return true
	})

	content := b.String()
	if len(content) > maxAlertContents {
		content = strings.ToValidUTF8(content[:maxAlertContents-3], "") + "…"
	}
	h.sink.offer(content)
	return nil
}

func (h *alertHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &alertHandler{sink: h.sink, prefix: h.prefix}
	next.attrs = append(append(next.attrs, h.attrs...), prefixed(h.prefix, attrs)...)
	return next
}

func (h *alertHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &alertHandler{sink: h.sink, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func prefixed(prefix string, attrs []slog.Attr) []slog.Attr {
	if prefix == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}
