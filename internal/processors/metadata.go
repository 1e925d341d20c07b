package processors

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/template"
	"freebooter/internal/types"
)

func init() {
	registry.Stages.Register(names.Metadata, newMetadataStage)
}

// Text is a TOML string, or a list of strings joined with newlines.
type Text struct {
	Value string
	Set   bool
}

func (t *Text) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case string:
		t.Value = value
	case []any:
		lines := make([]string, 0, len(value))
		for _, line := range value {
			s, ok := line.(string)
			if !ok {
				return fmt.Errorf("expected a list of strings, found %T", line)
			}
			lines = append(lines, s)
		}
		t.Value = strings.Join(lines, "\n")
	default:
		return fmt.Errorf("expected a string or a list of strings, got %T", v)
	}
	t.Set = true
	return nil
}

type MetadataConfig struct {
	Platform    string    `toml:"platform"`
	Title       Text      `toml:"title"`
	Description Text      `toml:"description"`
	Tags        *[]string `toml:"tags"`
	Categories  *[]string `toml:"categories"`
	Strip       []string  `toml:"strip" validate:"dive,oneof=title description tags categories"`
}

// MetadataStage overwrites or strips metadata fields. Fields it is not
// configured for are left alone.
type MetadataStage struct {
	name        string
	platform    string
	title       *template.Template
	description *template.Template
	tags        *[]string
	categories  *[]string
	strip       map[string]bool
	logger      *slog.Logger
}

func newMetadataStage(ctx context.Context, env registry.Env) (types.Stage, error) {
	var cfg MetadataConfig
	if err := env.Decode(&cfg); err != nil {
		return nil, err
	}
	return NewMetadataStage(env.Name, cfg, env.Logger)
}

func NewMetadataStage(name string, cfg MetadataConfig, logger *slog.Logger) (*MetadataStage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MetadataStage{
		name:       name,
		platform:   types.NormalizePlatform(cfg.Platform),
		tags:       cfg.Tags,
		categories: cfg.Categories,
		strip:      make(map[string]bool, len(cfg.Strip)),
		logger:     logger,
	}

	for _, field := range cfg.Strip {
		m.strip[field] = true
	}

	var err error
	if cfg.Title.Set {
		if m.strip["title"] {
			return nil, fmt.Errorf("title is both set and stripped")
		}
		if m.title, err = template.Parse(name+".title", cfg.Title.Value); err != nil {
			return nil, err
		}
	}
	if cfg.Description.Set {
		if m.strip["description"] {
			return nil, fmt.Errorf("description is both set and stripped")
		}
		if m.description, err = template.Parse(name+".description", cfg.Description.Value); err != nil {
			return nil, err
		}
	}
	if cfg.Tags != nil && m.strip["tags"] {
		return nil, fmt.Errorf("tags are both set and stripped")
	}
	if cfg.Categories != nil && m.strip["categories"] {
		return nil, fmt.Errorf("categories are both set and stripped")
	}

	if m.title == nil && m.description == nil && m.tags == nil && m.categories == nil && len(m.strip) == 0 {
		return nil, fmt.Errorf("no metadata to modify")
	}

	return m, nil
}

func (m *MetadataStage) Name() string {
	return m.name
}

func (m *MetadataStage) Process(ctx context.Context, item *types.MediaItem) ([]*types.MediaItem, error) {
	current := item.Metadata.Resolve(m.platform)

	tags := current.TagList()
	if m.tags != nil {
		tags = slices.Clone(*m.tags)
	}
	categories := current.CategoryList()
	if m.categories != nil {
		categories = slices.Clone(*m.categories)
	}

	data := template.Data{
		Title:       current.TitleOr(""),
		Description: current.DescriptionOr(""),
		Tags:        tags,
		Categories:  categories,
		Platform:    m.platform,
		Source:      item.SourceName,
		Filename:    item.Filename,
		Link:        item.Link,
	}

	var edit types.Fields
	if m.title != nil {
		title, err := m.title.Render(data)
		if err != nil {
			return nil, err
		}
		edit.Title = types.Some(title)
	}
	if m.description != nil {
		description, err := m.description.Render(data)
		if err != nil {
			return nil, err
		}
		edit.Description = types.Some(description)
	}
	if m.tags != nil {
		edit.Tags = types.Some(tags)
	}
	if m.categories != nil {
		edit.Categories = types.Some(categories)
	}
	if m.strip["title"] {
		edit.Title = types.Null[string]()
	}
	if m.strip["description"] {
		edit.Description = types.Null[string]()
	}
	if m.strip["tags"] {
		edit.Tags = types.Null[[]string]()
	}
	if m.strip["categories"] {
		edit.Categories = types.Null[[]string]()
	}

	item.EditMetadata(m.platform, func(f *types.Fields) {
		*f = edit.Over(*f)
	})

	if m.platform == types.DefaultPlatform {
		m.clearOverrides(item, edit)
	}

	m.logger.Debug("Edited metadata", "item", item.Key(), "platform", m.platform)
	return []*types.MediaItem{item}, nil
}

// clearOverrides drops per-platform values for every field an unscoped edit
// touched, so the edit reaches every platform.
func (m *MetadataStage) clearOverrides(item *types.MediaItem, edit types.Fields) {
	for platform := range item.Metadata {
		if platform == types.DefaultPlatform {
			continue
		}
		item.EditMetadata(platform, func(f *types.Fields) {
			if !edit.Title.IsAbsent() {
				f.Title = types.Opt[string]{}
			}
			if !edit.Description.IsAbsent() {
				f.Description = types.Opt[string]{}
			}
			if !edit.Tags.IsAbsent() {
				f.Tags = types.Opt[[]string]{}
			}
			if !edit.Categories.IsAbsent() {
				f.Categories = types.Opt[[]string]{}
			}
		})
	}
}
