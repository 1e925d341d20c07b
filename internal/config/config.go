package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"freebooter/internal/types"
)

const (
	EnvConfig         = "FREEBOOTER_CONFIG"
	EnvConfigFile     = "FREEBOOTER_CONFIG_FILE"
	EnvScratch        = "FREEBOOTER_SCRATCH"
	EnvDiscordWebhook = "FREEBOOTER_DISCORD_WEBHOOK"

	DefaultConfigFile = "freebooter.toml"
)

type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Server      ServerConfig      `toml:"server"`
	Platforms   PlatformsConfig   `toml:"platforms"`
	Middlewares []MiddlewareEntry `toml:"middlewares" validate:"dive"`
	Watchers    []WatcherEntry    `toml:"watchers" validate:"dive"`
	Uploaders   []UploaderEntry   `toml:"uploaders" validate:"dive"`

	meta toml.MetaData
}

type EngineConfig struct {
	StateDir        string   `toml:"state_dir"`
	ScratchDir      string   `toml:"scratch_dir"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" validate:"gte=0"`
}

type StorageConfig struct {
	Type  string      `toml:"type" validate:"omitempty,oneof=sqlite redis"`
	Path  string      `toml:"path"`
	Redis RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password Secret `toml:"password"`
	DB       int    `toml:"db" validate:"gte=0"`
	Prefix   string `toml:"prefix"`
}

type LoggingConfig struct {
	Level        string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format       string `toml:"format" validate:"omitempty,oneof=auto text json"`
	AlertWebhook Secret `toml:"alert_webhook"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Listen   string `toml:"listen"`
	FeedSize int    `toml:"feed_size" validate:"gte=0"`
	Title    string `toml:"title"`
	BaseURL  string `toml:"base_url" validate:"omitempty,url"`
}

type PlatformsConfig struct {
	Discord *DiscordPlatformConfig `toml:"discord"`
	Bluesky *BlueskyPlatformConfig `toml:"bluesky"`
	Ollama  *OllamaPlatformConfig  `toml:"ollama"`
}

type DiscordPlatformConfig struct {
	Token Secret `toml:"token" validate:"required"`
}

type BlueskyPlatformConfig struct {
	Host       string `toml:"host" validate:"omitempty,url"`
	Identifier string `toml:"identifier" validate:"required"`
	Password   Secret `toml:"password" validate:"required"`
}

type OllamaPlatformConfig struct {
	Host string `toml:"host" validate:"omitempty,url"`
}

// MiddlewareEntry declares a middleware. Shared (default true) puts it on the
// chain every item passes through; each preprocessors reference gets its own
// instance either way.
type MiddlewareEntry struct {
	Name   string         `toml:"name" validate:"required"`
	Type   string         `toml:"type" validate:"required"`
	Shared *bool          `toml:"shared"`
	Config toml.Primitive `toml:"config"`
}

type WatcherEntry struct {
	Name          string         `toml:"name" validate:"required"`
	Type          string         `toml:"type" validate:"required"`
	Preprocessors []string       `toml:"preprocessors"`
	Interval      Duration       `toml:"interval" validate:"gte=0"`
	Copy          bool           `toml:"copy"`
	Backtrack     bool           `toml:"backtrack"`
	RetryCount    *int           `toml:"retry_count" validate:"omitempty,gte=0"`
	RetryBackoff  Duration       `toml:"retry_backoff" validate:"gte=0"`
	Config        toml.Primitive `toml:"config"`
}

type UploaderEntry struct {
	Name          string         `toml:"name" validate:"required"`
	Type          string         `toml:"type" validate:"required"`
	Preprocessors []string       `toml:"preprocessors"`
	RetryCount    *int           `toml:"retry_count" validate:"omitempty,gte=0"`
	RetryBackoff  Duration       `toml:"retry_backoff" validate:"gte=0"`
	Workers       int            `toml:"workers" validate:"gte=0"`
	QueueSize     int            `toml:"queue_size" validate:"gte=0"`
	Config        toml.Primitive `toml:"config"`
}

// Load reads the configuration from FREEBOOTER_CONFIG when set, otherwise from path.
func Load(path string) (*Config, error) {
	if inline := os.Getenv(EnvConfig); inline != "" {
		return Parse(inline)
	}

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(string(data))
}

func Parse(data string) (*Config, error) {
	var config Config
	meta, err := toml.Decode(data, &config)
	if err != nil {
		return nil, &types.ConfigError{Reason: fmt.Sprintf("failed to parse config: %v", err)}
	}
	config.meta = meta

	if err := unknownKeys(meta.Undecoded(), false); err != nil {
		return nil, err
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Decode decodes an entry's config table into v.
func (c *Config) Decode(prim toml.Primitive, v any) error {
	if err := c.meta.PrimitiveDecode(prim, v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// CheckUndecoded reports keys that no typed config struct consumed. Call it
// after every entry's config table has been decoded.
func (c *Config) CheckUndecoded() error {
	return unknownKeys(c.meta.Undecoded(), true)
}

func unknownKeys(keys []toml.Key, includeEntryConfig bool) error {
	var errs types.ConfigErrors
	for _, key := range keys {
		if !includeEntryConfig && isEntryConfig(key) {
			continue
		}
		errs = append(errs, &types.ConfigError{
			Section: key[0],
			Field:   key.String(),
			Reason:  "unknown key",
		})
	}
	return errs.Err()
}

// isEntryConfig reports whether key lives under the config table of a
// middleware, watcher or uploader entry; those are decoded later by type.
func isEntryConfig(key toml.Key) bool {
	if len(key) < 3 {
		return false
	}
	switch key[0] {
	case "middlewares", "watchers", "uploaders":
		return key[1] == "config"
	}
	return false
}

func applyEnv(config *Config) {
	if dir := os.Getenv(EnvScratch); dir != "" {
		config.Engine.ScratchDir = dir
	}
	if hook := os.Getenv(EnvDiscordWebhook); hook != "" {
		config.Logging.AlertWebhook = Secret(hook)
	}
}

func validateConfig(config *Config) error {
	if config.Engine.StateDir == "" {
		config.Engine.StateDir = "./state"
	}
	if config.Engine.ScratchDir == "" {
		config.Engine.ScratchDir = filepath.Join(config.Engine.StateDir, "scratch")
	}
	if config.Engine.ShutdownTimeout == 0 {
		config.Engine.ShutdownTimeout = Duration(30 * time.Second)
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}
	if config.Storage.Path == "" {
		config.Storage.Path = filepath.Join(config.Engine.StateDir, "freebooter.db")
	}
	if config.Storage.Redis.Addr == "" {
		config.Storage.Redis.Addr = "localhost:6379"
	}
	if config.Storage.Redis.Prefix == "" {
		config.Storage.Redis.Prefix = "freebooter"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "auto"
	}

	if config.Server.Listen == "" {
		config.Server.Listen = ":8080"
	}
	if config.Server.FeedSize == 0 {
		config.Server.FeedSize = 100
	}
	if config.Server.Title == "" {
		config.Server.Title = "freebooter"
	}

	for i := range config.Middlewares {
		if config.Middlewares[i].Shared == nil {
			config.Middlewares[i].Shared = boolPtr(true)
		}
	}

	for i := range config.Watchers {
		w := &config.Watchers[i]
		if w.Interval == 0 {
			w.Interval = Duration(time.Minute)
		}
		if w.RetryCount == nil {
			w.RetryCount = intPtr(3)
		}
		if w.RetryBackoff == 0 {
			w.RetryBackoff = Duration(2 * time.Second)
		}
	}

	for i := range config.Uploaders {
		u := &config.Uploaders[i]
		if u.RetryCount == nil {
			u.RetryCount = intPtr(3)
		}
		if u.RetryBackoff == 0 {
			u.RetryBackoff = Duration(2 * time.Second)
		}
		if u.Workers == 0 {
			u.Workers = 2
		}
		if u.QueueSize == 0 {
			u.QueueSize = 64
		}
	}

	var errs types.ConfigErrors
	if err := validate.Struct(config); err != nil {
		errs = append(errs, validationErrors("config", "", err)...)
	}
	errs = append(errs, validateGraph(config)...)

	return errs.Err()
}

// reservedSourceChars cannot appear in watcher names: the name is a segment
// of ledger keys and key patterns.
const reservedSourceChars = ":*?[]"

func validateGraph(config *Config) types.ConfigErrors {
	var errs types.ConfigErrors

	middlewares := make(map[string]bool, len(config.Middlewares))
	for _, m := range config.Middlewares {
		if middlewares[m.Name] {
			errs = append(errs, types.NewConfigError("middlewares", m.Name, "duplicate name"))
		}
		middlewares[m.Name] = true
	}

	checkRefs := func(section, owner string, refs []string) {
		for _, ref := range refs {
			if !middlewares[ref] {
				errs = append(errs, types.NewConfigError(section, owner, "preprocessor %q is not a declared middleware", ref))
			}
		}
	}

	watchers := make(map[string]bool, len(config.Watchers))
	for _, w := range config.Watchers {
		if watchers[w.Name] {
			errs = append(errs, types.NewConfigError("watchers", w.Name, "duplicate name"))
		}
		watchers[w.Name] = true
		if strings.ContainsAny(w.Name, reservedSourceChars) {
			errs = append(errs, types.NewConfigError("watchers", w.Name, "name must not contain any of %q", reservedSourceChars))
		}
		checkRefs("watchers", w.Name, w.Preprocessors)
	}

	uploaders := make(map[string]bool, len(config.Uploaders))
	for _, u := range config.Uploaders {
		if uploaders[u.Name] {
			errs = append(errs, types.NewConfigError("uploaders", u.Name, "duplicate name"))
		}
		uploaders[u.Name] = true
		checkRefs("uploaders", u.Name, u.Preprocessors)
	}

	if len(config.Watchers) == 0 {
		errs = append(errs, types.NewConfigError("watchers", "", "at least one watcher is required"))
	}
	if len(config.Uploaders) == 0 {
		errs = append(errs, types.NewConfigError("uploaders", "", "at least one uploader is required"))
	}

	return errs
}

// Names returns the watcher, uploader and middleware names in declaration order.
func (c *Config) Names() (watchers, uploaders, middlewares []string) {
	for _, w := range c.Watchers {
		watchers = append(watchers, w.Name)
	}
	for _, u := range c.Uploaders {
		uploaders = append(uploaders, u.Name)
	}
	for _, m := range c.Middlewares {
		middlewares = append(middlewares, m.Name)
	}
	return
}

func intPtr(v int) *int {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}

// Duration is a time.Duration written as a string ("90s", "15m") in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
