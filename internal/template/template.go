// Package template renders the text templates used in metadata titles,
// descriptions and caption prompts.
package template

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	texttemplate "text/template"
)

// randLimit caps how many tags randtags and randhtags emit.
const randLimit = 10

type Template struct {
	tmpl   *texttemplate.Template
	source string
}

// Data is what metadata templates can reference.
type Data struct {
	Title       string
	Description string
	Tags        []string
	Categories  []string
	Platform    string
	Source      string
	Filename    string
	Link        string
}

func Parse(name, source string) (*Template, error) {
	tmpl, err := texttemplate.New(name).Funcs(funcs()).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return &Template{tmpl: tmpl, source: source}, nil
}

func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", path, err)
	}
	return Parse(path, string(data))
}

func (t *Template) Render(data any) (string, error) {
	if !strings.Contains(t.source, "{{") {
		return t.source, nil
	}

	var b strings.Builder
	if err := t.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", t.tmpl.Name(), err)
	}
	return b.String(), nil
}

func (t *Template) Source() string {
	return t.source
}

func funcs() texttemplate.FuncMap {
	return texttemplate.FuncMap{
		"json":         toJSON,
		"join":         strings.Join,
		"randtags":     randTags,
		"randhtags":    randHashTags,
		"randcategory": randCategory,
	}
}

func randTags(tags []string) string {
	return strings.Join(shuffled(tags, ""), " ")
}

func randHashTags(tags []string) string {
	return strings.Join(shuffled(tags, "#"), " ")
}

func randCategory(categories []string) string {
	if len(categories) == 0 {
		return ""
	}
	return categories[rand.IntN(len(categories))]
}

func shuffled(values []string, prefix string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = prefix + v
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > randLimit {
		out = out[:randLimit]
	}
	return out
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
