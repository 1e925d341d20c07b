package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptStates(t *testing.T) {
	var absent Opt[string]
	assert.True(t, absent.IsAbsent())
	_, ok := absent.Get()
	assert.False(t, ok)

	null := Null[string]()
	assert.True(t, null.IsNull())
	_, ok = null.Get()
	assert.False(t, ok)

	v, ok := Some("x").Get()
	require.True(t, ok)
	assert.Equal(t, "x", v)

	assert.Equal(t, "base", mustGet(t, absent.Over(Some("base"))))
	assert.True(t, null.Over(Some("base")).IsNull())
}

func TestResolveLayersPlatformOverDefault(t *testing.T) {
	m := Metadata{
		DefaultPlatform: {Title: Some("A"), Tags: Some([]string{"x"})},
		"discord":       {Title: Null[string](), Description: Some("D")},
	}

	def := m.Resolve("")
	assert.Equal(t, "A", def.TitleOr(""))
	assert.Equal(t, []string{"x"}, def.TagList())
	assert.True(t, def.Description.IsAbsent())

	discord := m.Resolve("Discord")
	assert.True(t, discord.Title.IsAbsent(), "platform null strips the default title")
	assert.Equal(t, "D", discord.DescriptionOr(""))
	assert.Equal(t, []string{"x"}, discord.TagList())
}

func TestMergeLaterWins(t *testing.T) {
	first := Metadata{DefaultPlatform: {Title: Some("A"), Description: Some("B")}}
	later := Metadata{DefaultPlatform: {Title: Null[string]()}}

	merged := first.Merge(later)
	f := merged.Resolve("")
	assert.True(t, f.Title.IsAbsent())
	assert.Equal(t, "B", f.DescriptionOr(""))

	// inputs are untouched
	assert.Equal(t, "A", first.Resolve("").TitleOr(""))
}

func TestCloneCopiesSlices(t *testing.T) {
	item := &MediaItem{SourceName: "s", ItemID: "1", Metadata: Metadata{
		DefaultPlatform: {Tags: Some([]string{"a", "b"})},
	}}
	c := item.Clone()
	tags, _ := c.Metadata[DefaultPlatform].Tags.Get()
	tags[0] = "changed"

	assert.Equal(t, []string{"a", "b"}, item.Metadata.Resolve("").TagList())
	assert.Equal(t, "s/1", c.Key())
}

func TestEditMetadataAllocates(t *testing.T) {
	item := &MediaItem{}
	item.EditMetadata("YouTube", func(f *Fields) { f.Title = Some("t") })
	assert.Equal(t, "t", item.Metadata.Resolve("youtube").TitleOr(""))
	assert.True(t, item.Metadata.Resolve("").Title.IsAbsent())
}

func TestFieldsText(t *testing.T) {
	assert.Equal(t, "T\n\nD", Fields{Title: Some("T"), Description: Some("D")}.Text())
	assert.Equal(t, "D", Fields{Description: Some("D")}.Text())
	assert.Equal(t, "", Fields{}.Text())
}

func TestMediaTypeDetection(t *testing.T) {
	assert.Equal(t, MediaPhoto, MediaTypeFromPath("a.JPG"))
	assert.Equal(t, MediaVideo, MediaTypeFromMime("video/mp4"))
	assert.Equal(t, MediaOther, MediaTypeFromMime("application/pdf"))
	assert.Equal(t, MediaUnknown, MediaTypeFromPath("noext"))
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("wrap: %w", NewFilteredError("ignorer", "1", "chance"))
	assert.True(t, IsFiltered(wrapped))

	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsRetryable(NewRetryable("u", errors.New("503"))))
	assert.False(t, IsRetryable(fmt.Errorf("x: %w", NewPermanent("u", errors.New("400")))))

	errs := ConfigErrors{NewConfigError("watchers", "w", "unknown type %q", "nope")}
	require.Error(t, errs.Err())
	assert.True(t, IsConfigError(errs.Err()))
	assert.Contains(t, errs.Error(), `watchers "w": unknown type "nope"`)
	assert.NoError(t, ConfigErrors(nil).Err())
}

func mustGet[T any](t *testing.T, o Opt[T]) T {
	t.Helper()
	v, ok := o.Get()
	require.True(t, ok)
	return v
}
