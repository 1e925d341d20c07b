// Package logging builds the process logger: a text handler on terminals, JSON
// elsewhere, optionally teed into a Discord alert webhook for errors.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Options struct {
	Level  string
	Format string
	// AlertWebhook receives records at error level and above when set.
	AlertWebhook string
	Output       io.Writer
	HTTPClient   *http.Client
}

// Logger is the root logger plus whatever background delivery it owns.
type Logger struct {
	*slog.Logger
	alerts *alertHandler
}

func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	base := newHandler(out, opts.Format, level)
	logger := &Logger{Logger: slog.New(base)}

	if opts.AlertWebhook != "" {
		alerts, err := newAlertHandler(opts.AlertWebhook, opts.HTTPClient, slog.New(base))
		if err != nil {
			return nil, fmt.Errorf("invalid alert webhook: %w", err)
		}
		logger.alerts = alerts
		logger.Logger = slog.New(TeeHandler(base, alerts))
	}

	return logger, nil
}

// Close waits for queued alerts to be delivered.
func (l *Logger) Close() {
	if l.alerts != nil {
		l.alerts.Close()
	}
}

func newHandler(out io.Writer, format string, level slog.Level) slog.Handler {
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		return slog.NewJSONHandler(out, handlerOpts)
	case "text":
		return slog.NewTextHandler(out, handlerOpts)
	}

	if f, ok := out.(interface{ Fd() uintptr }); ok && isatty.IsTerminal(f.Fd()) {
		return slog.NewTextHandler(out, handlerOpts)
	}
	return slog.NewJSONHandler(out, handlerOpts)
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

var title = cases.Title(language.English)

// DisplayName renders a component kind and config name as e.g.
// "Watcher-Local-Photos" for ("watcher", "local_photos").
func DisplayName(kind, name string) string {
	words := strings.FieldsFunc(kind+" "+name, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	})
	for i, w := range words {
		words[i] = title.String(w)
	}
	return strings.Join(words, "-")
}

// Component derives the logger a watcher, uploader or middleware logs with.
func Component(logger *slog.Logger, kind, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", DisplayName(kind, name))
}
