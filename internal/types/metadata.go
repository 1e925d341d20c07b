package types

import (
	"slices"
	"strings"
)

type optState uint8

const (
	optAbsent optState = iota
	optNull
	optPresent
)

// Opt is a metadata field that is either absent (inherit), explicitly null
// (strip) or set to a value.
type Opt[T any] struct {
	state optState
	value T
}

func Some[T any](v T) Opt[T] {
	return Opt[T]{state: optPresent, value: v}
}

func Null[T any]() Opt[T] {
	return Opt[T]{state: optNull}
}

func (o Opt[T]) Get() (T, bool) {
	return o.value, o.state == optPresent
}

func (o Opt[T]) IsNull() bool {
	return o.state == optNull
}

func (o Opt[T]) IsAbsent() bool {
	return o.state == optAbsent
}

// Over returns o unless it is absent, in which case base is returned.
func (o Opt[T]) Over(base Opt[T]) Opt[T] {
	if o.state == optAbsent {
		return base
	}
	return o
}

// resolved turns an explicit null into absence.
func (o Opt[T]) resolved() Opt[T] {
	if o.state == optNull {
		return Opt[T]{}
	}
	return o
}

type Fields struct {
	Title       Opt[string]
	Description Opt[string]
	Tags        Opt[[]string]
	Categories  Opt[[]string]
}

func (f Fields) IsZero() bool {
	return f.Title.IsAbsent() && f.Description.IsAbsent() && f.Tags.IsAbsent() && f.Categories.IsAbsent()
}

// Over layers f on top of base field by field.
func (f Fields) Over(base Fields) Fields {
	return Fields{
		Title:       f.Title.Over(base.Title),
		Description: f.Description.Over(base.Description),
		Tags:        f.Tags.Over(base.Tags),
		Categories:  f.Categories.Over(base.Categories),
	}
}

func (f Fields) clone() Fields {
	c := f
	if tags, ok := f.Tags.Get(); ok {
		c.Tags = Some(slices.Clone(tags))
	}
	if cats, ok := f.Categories.Get(); ok {
		c.Categories = Some(slices.Clone(cats))
	}
	return c
}

func (f Fields) TitleOr(def string) string {
	if v, ok := f.Title.Get(); ok {
		return v
	}
	return def
}

func (f Fields) DescriptionOr(def string) string {
	if v, ok := f.Description.Get(); ok {
		return v
	}
	return def
}

func (f Fields) TagList() []string {
	v, _ := f.Tags.Get()
	return v
}

func (f Fields) CategoryList() []string {
	v, _ := f.Categories.Get()
	return v
}

// Text joins title and description with a blank line, skipping empty parts.
func (f Fields) Text() string {
	var parts []string
	if t := f.TitleOr(""); t != "" {
		parts = append(parts, t)
	}
	if d := f.DescriptionOr(""); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, "\n\n")
}

// DefaultPlatform keys the fields that apply to every platform.
const DefaultPlatform = ""

// Metadata maps a platform name to its field overrides.
type Metadata map[string]Fields

func NormalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	c := make(Metadata, len(m))
	for platform, f := range m {
		c[platform] = f.clone()
	}
	return c
}

// Resolve returns the fields an uploader for platform should use. Platform
// overrides win over defaults and explicit nulls come back as absent.
func (m Metadata) Resolve(platform string) Fields {
	f := m[DefaultPlatform]
	if p := NormalizePlatform(platform); p != DefaultPlatform {
		f = m[p].Over(f)
	}
	return Fields{
		Title:       f.Title.resolved(),
		Description: f.Description.resolved(),
		Tags:        f.Tags.resolved(),
		Categories:  f.Categories.resolved(),
	}
}

// Merge applies later on top of m, left to right, and returns the result.
func (m Metadata) Merge(later Metadata) Metadata {
	out := m.Clone()
	if out == nil {
		out = make(Metadata, len(later))
	}
	for platform, f := range later {
		out[platform] = f.clone().Over(out[platform])
	}
	return out
}

// EditMetadata applies fn to the fields of platform, allocating the map if needed.
func (i *MediaItem) EditMetadata(platform string, fn func(f *Fields)) {
	if i.Metadata == nil {
		i.Metadata = make(Metadata)
	}
	p := NormalizePlatform(platform)
	f := i.Metadata[p]
	fn(&f)
	if f.IsZero() && p != DefaultPlatform {
		delete(i.Metadata, p)
		return
	}
	i.Metadata[p] = f
}
