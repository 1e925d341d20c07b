package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/feeds"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freebooter/internal/cache"
	"freebooter/internal/storage"
)

type Config struct {
	Listen   string
	FeedSize int
	Title    string
	BaseURL  string
	CacheTTL time.Duration
}

// Server exposes the feeds written by feed uploaders, the media they
// reference, the engine's metrics and a health check.
type Server struct {
	config   Config
	store    storage.FeedStore
	gatherer prometheus.Gatherer
	cache    *cache.Cache[CacheKey, string]
	logger   *slog.Logger
	started  time.Time

	mu       sync.RWMutex
	media    map[string]string
	server   *http.Server
	listener net.Listener
}

func New(config Config, store storage.FeedStore, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Listen == "" {
		config.Listen = ":8080"
	}
	if config.FeedSize <= 0 {
		config.FeedSize = 100
	}
	if config.Title == "" {
		config.Title = "freebooter"
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Second
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	return &Server{
		config:   config,
		store:    store,
		gatherer: gatherer,
		cache:    newCache(config.CacheTTL, logger),
		logger:   logger,
		started:  time.Now(),
		media:    make(map[string]string),
	}
}

// RegisterMedia serves the files in dir under /media/{feed}/.
func (s *Server) RegisterMedia(feed, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[feed] = dir
}

// Invalidate drops the rendered copies of a feed.
func (s *Server) Invalidate(feed string) {
	s.cache.InvalidatePrefix(CacheKey{Feed: feed}.String())
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /feeds/{file}", s.handleFeed)
	mux.HandleFunc("GET /media/{feed}/{file}", s.handleMedia)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Feed server stopped", "error", err)
		}
	}()

	s.logger.Info("Feed server listening", "addr", listener.Addr().String())
	return nil
}

// Addr is the address the server is bound to, or empty before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down feed server: %w", err)
	}
	s.cache.Clear()
	return nil
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	ext := filepath.Ext(file)
	name := strings.TrimSuffix(file, ext)
	format := strings.TrimPrefix(ext, ".")

	var contentType string
	switch format {
	case TypeRSS:
		contentType = "application/rss+xml; charset=utf-8"
	case TypeAtom:
		contentType = "application/atom+xml; charset=utf-8"
	case TypeJSON:
		contentType = "application/feed+json; charset=utf-8"
	default:
		http.NotFound(w, r)
		return
	}
	if name == "" || s.store == nil {
		http.NotFound(w, r)
		return
	}

	key := CacheKey{Feed: name, Type: format}
	body, ok := s.cache.Get(key)
	if !ok {
		var err error
		body, err = s.render(r.Context(), name, format)
		if err != nil {
			s.logger.Error("Failed to render feed", "feed", name, "format", format, "error", err)
			http.Error(w, "failed to render feed", http.StatusInternalServerError)
			return
		}
		s.cache.Set(key, body)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=60")
	fmt.Fprint(w, body)
}

func (s *Server) render(ctx context.Context, name, format string) (string, error) {
	entries, err := s.store.ListRecentEntries(ctx, name, s.config.FeedSize)
	if err != nil {
		return "", err
	}

	feed := s.BuildFeed(name, entries)
	switch format {
	case TypeAtom:
		return feed.ToAtom()
	case TypeJSON:
		return feed.ToJSON()
	default:
		return feed.ToRss()
	}
}

// BuildFeed turns stored entries, newest first, into a feed document.
func (s *Server) BuildFeed(name string, entries []storage.FeedEntry) *feeds.Feed {
	items := make([]*feeds.Item, 0, len(entries))
	for _, entry := range entries {
		item := &feeds.Item{
			Id:          entry.ID,
			Title:       entry.Title,
			Description: entry.Description,
			Author:      &feeds.Author{Name: entry.Source},
			Created:     entry.PublishedAt,
		}
		if entry.Link != "" {
			item.Link = &feeds.Link{Href: entry.Link}
		} else {
			item.Link = &feeds.Link{Href: entry.MediaURL}
		}
		if entry.MediaURL != "" {
			item.Enclosure = &feeds.Enclosure{
				Url:    entry.MediaURL,
				Type:   entry.MediaType,
				Length: fmt.Sprint(entry.MediaLength),
			}
		}
		items = append(items, item)
	}

	updated := s.started
	if len(entries) > 0 {
		updated = entries[0].CreatedAt
	}

	return &feeds.Feed{
		Title:       s.config.Title + " - " + name,
		Link:        &feeds.Link{Href: s.config.BaseURL + "/feeds/" + name + ".rss"},
		Description: fmt.Sprintf("Media published by %s to %s", s.config.Title, name),
		Id:          s.config.BaseURL + "/feeds/" + name,
		Updated:     updated,
		Created:     s.started,
		Items:       items,
	}
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	dir, ok := s.media[r.PathValue("feed")]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	file := r.PathValue("file")
	if file == "" || file != filepath.Base(file) || strings.HasPrefix(file, ".") {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(dir, file)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime":"%s","time":"%s"}`,
		time.Since(s.started).Truncate(time.Second), time.Now().UTC().Format(time.RFC3339))
}
