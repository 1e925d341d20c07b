package processors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"freebooter/internal/lua"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/types"
)

func init() {
	registry.Stages.Register(names.Script, func(ctx context.Context, env registry.Env) (types.Stage, error) {
		var cfg ScriptConfig
		if err := env.Decode(&cfg); err != nil {
			return nil, err
		}
		return NewScriptStage(env.Name, cfg, lua.ModuleDeps{HTTPClient: env.Deps.HTTPClient, Logger: env.Logger})
	})
}

type ScriptConfig struct {
	Path     string `toml:"path" validate:"required_without=Source,excluded_with=Source"`
	Source   string `toml:"source"`
	Function string `toml:"function"`
	Platform string `toml:"platform"`
}

// ScriptStage hands each item to a Lua function. The function returns a
// table of metadata to apply, true to pass the item unchanged, or nil/false
// to filter it out of the branch.
type ScriptStage struct {
	name     string
	function string
	platform string
	runtime  *lua.Runtime
	logger   *slog.Logger
}

func NewScriptStage(name string, cfg ScriptConfig, deps lua.ModuleDeps) (*ScriptStage, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	source := cfg.Source
	baseDir := "."
	if cfg.Path != "" {
		data, err := os.ReadFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read script: %w", err)
		}
		source = string(data)
		baseDir = filepath.Dir(cfg.Path)
	}

	function := cfg.Function
	if function == "" {
		function = "process"
	}

	runtime, err := lua.NewRuntime(
		lua.WithLoader(lua.NewDirLoader(baseDir)),
		lua.WithModules(lua.DefaultModules(deps)...),
	)
	if err != nil {
		return nil, err
	}

	if err := runtime.LoadScript(source); err != nil {
		runtime.Close()
		return nil, err
	}
	if !runtime.HasFunction(function) {
		runtime.Close()
		return nil, fmt.Errorf("script does not define function %q", function)
	}

	return &ScriptStage{
		name:     name,
		function: function,
		platform: types.NormalizePlatform(cfg.Platform),
		runtime:  runtime,
		logger:   deps.Logger,
	}, nil
}

func (s *ScriptStage) Name() string {
	return s.name
}

func (s *ScriptStage) Process(ctx context.Context, item *types.MediaItem) ([]*types.MediaItem, error) {
	results, err := s.runtime.Execute(ctx, s.function, itemTable(item, s.platform))
	if err != nil {
		return nil, err
	}

	var result any
	if len(results) > 0 {
		result = results[0]
	}

	switch r := result.(type) {
	case nil:
		return nil, types.NewFilteredError(s.name, item.ItemID, "script returned nil")
	case bool:
		if !r {
			return nil, types.NewFilteredError(s.name, item.ItemID, "script returned false")
		}
		return []*types.MediaItem{item}, nil
	case map[string]any:
		if err := s.apply(item, r); err != nil {
			return nil, err
		}
		return []*types.MediaItem{item}, nil
	default:
		return nil, fmt.Errorf("script returned unsupported %T", result)
	}
}

// apply copies title, description, tags and categories from the script's
// table. A field set to false is stripped.
func (s *ScriptStage) apply(item *types.MediaItem, result map[string]any) error {
	platform := s.platform
	if p, ok := result["platform"].(string); ok {
		platform = types.NormalizePlatform(p)
	}

	var edit types.Fields
	var err error
	if edit.Title, err = stringField(result, "title"); err != nil {
		return err
	}
	if edit.Description, err = stringField(result, "description"); err != nil {
		return err
	}
	if edit.Tags, err = listField(result, "tags"); err != nil {
		return err
	}
	if edit.Categories, err = listField(result, "categories"); err != nil {
		return err
	}

	item.EditMetadata(platform, func(f *types.Fields) {
		*f = edit.Over(*f)
	})
	return nil
}

func (s *ScriptStage) Close() error {
	return s.runtime.Close()
}

func itemTable(item *types.MediaItem, platform string) map[string]any {
	fields := item.Metadata.Resolve(platform)
	return map[string]any{
		"source":      item.SourceName,
		"id":          item.ItemID,
		"filename":    item.Filename,
		"link":        item.Link,
		"media_type":  item.MediaType.String(),
		"created_at":  item.CreatedAt,
		"platform":    platform,
		"title":       fields.TitleOr(""),
		"description": fields.DescriptionOr(""),
		"tags":        fields.TagList(),
		"categories":  fields.CategoryList(),
	}
}

func stringField(result map[string]any, key string) (types.Opt[string], error) {
	v, ok := result[key]
	if !ok {
		return types.Opt[string]{}, nil
	}
	switch value := v.(type) {
	case string:
		return types.Some(value), nil
	case bool:
		if !value {
			return types.Null[string](), nil
		}
	}
	return types.Opt[string]{}, fmt.Errorf("script field %s must be a string or false, got %T", key, v)
}

func listField(result map[string]any, key string) (types.Opt[[]string], error) {
	v, ok := result[key]
	if !ok {
		return types.Opt[[]string]{}, nil
	}
	if b, isBool := v.(bool); isBool && !b {
		return types.Null[[]string](), nil
	}
	list, err := lua.ToStringSlice(v)
	if err != nil {
		return types.Opt[[]string]{}, fmt.Errorf("script field %s: %w", key, err)
	}
	return types.Some(list), nil
}
