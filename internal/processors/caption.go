package processors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ollama/ollama/api"

	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/template"
	"freebooter/internal/types"
)

func init() {
	registry.Stages.Register(names.Caption, func(ctx context.Context, env registry.Env) (types.Stage, error) {
		var cfg CaptionConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		if env.Deps.Platforms == nil {
			return nil, fmt.Errorf("caption stage needs the ollama platform")
		}
		ollama, err := env.Deps.Platforms.Ollama()
		if err != nil {
			return nil, err
		}
		return NewCaptionStage(env.Name, cfg, ollama, env.Logger)
	})
}

const defaultCaptionPrompt = `Write a short, engaging social media caption for a {{.Platform}} post.
Title: {{.Title}}
Existing description: {{.Description}}
Tags: {{join .Tags ", "}}
Reply with the caption only.`

type CaptionConfig struct {
	Model     string `toml:"model" validate:"required"`
	Prompt    string `toml:"prompt"`
	Platform  string `toml:"platform"`
	Vision    bool   `toml:"vision"` // send photo bytes to multimodal models
	MaxLength int    `toml:"max_length" validate:"gte=0"`
	Overwrite *bool  `toml:"overwrite"`
}

// Generator is the part of the ollama platform the caption stage uses.
type Generator interface {
	Complete(ctx context.Context, request *api.GenerateRequest) (string, error)
}

// CaptionStage asks a language model for a description. A model failure
// leaves the item unchanged.
type CaptionStage struct {
	name      string
	model     string
	platform  string
	vision    bool
	maxLength int
	overwrite bool
	prompt    *template.Template
	generator Generator
	logger    *slog.Logger
}

func NewCaptionStage(name string, cfg CaptionConfig, generator Generator, logger *slog.Logger) (*CaptionStage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	promptText := cfg.Prompt
	if promptText == "" {
		promptText = defaultCaptionPrompt
	}
	prompt, err := template.Parse(name+".prompt", promptText)
	if err != nil {
		return nil, err
	}

	overwrite := true
	if cfg.Overwrite != nil {
		overwrite = *cfg.Overwrite
	}

	return &CaptionStage{
		name:      name,
		model:     cfg.Model,
		platform:  types.NormalizePlatform(cfg.Platform),
		vision:    cfg.Vision,
		maxLength: cfg.MaxLength,
		overwrite: overwrite,
		prompt:    prompt,
		generator: generator,
		logger:    logger,
	}, nil
}

func (c *CaptionStage) Name() string {
	return c.name
}

func (c *CaptionStage) Process(ctx context.Context, item *types.MediaItem) ([]*types.MediaItem, error) {
	fields := item.Metadata.Resolve(c.platform)
	if !c.overwrite && fields.DescriptionOr("") != "" {
		return []*types.MediaItem{item}, nil
	}

	prompt, err := c.prompt.Render(template.Data{
		Title:       fields.TitleOr(""),
		Description: fields.DescriptionOr(""),
		Tags:        fields.TagList(),
		Categories:  fields.CategoryList(),
		Platform:    c.platform,
		Source:      item.SourceName,
		Filename:    item.Filename,
		Link:        item.Link,
	})
	if err != nil {
		return nil, err
	}

	request := &api.GenerateRequest{Model: c.model, Prompt: prompt}
	if c.vision && item.MediaType == types.MediaPhoto && item.Payload != nil {
		image, err := readPayload(ctx, item.Payload)
		if err != nil {
			c.logger.Warn("Could not read image for caption", "item", item.Key(), "error", err)
		} else {
			request.Images = []api.ImageData{image}
		}
	}

	caption, err := c.generator.Complete(ctx, request)
	if err != nil {
		c.logger.Warn("Caption generation failed, keeping item unchanged", "item", item.Key(), "error", err)
		return []*types.MediaItem{item}, nil
	}

	caption = strings.TrimSpace(caption)
	if c.maxLength > 0 {
		if runes := []rune(caption); len(runes) > c.maxLength {
			caption = strings.TrimSpace(string(runes[:c.maxLength]))
		}
	}
	if caption == "" {
		return []*types.MediaItem{item}, nil
	}

	item.EditMetadata(c.platform, func(f *types.Fields) {
		f.Description = types.Some(caption)
	})
	c.logger.Debug("Generated caption", "item", item.Key(), "length", len(caption))
	return []*types.MediaItem{item}, nil
}

func readPayload(ctx context.Context, payload types.Payload) ([]byte, error) {
	rc, err := payload.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
