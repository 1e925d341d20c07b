package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freebooter/internal/media"
	"freebooter/internal/processors/names"
	"freebooter/internal/registry"
	"freebooter/internal/types"
)

func drain(t *testing.T, src types.Source) ([]types.Candidate, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, errc := src.Candidates(ctx, nil)
	var got []types.Candidate
	for c := range out {
		got = append(got, c)
	}
	return got, <-errc
}

func ids(candidates []types.Candidate) []string {
	var out []string
	for _, c := range candidates {
		out = append(out, c.ItemID)
	}
	return out
}

func writeFile(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestLocalSourceScansDirectory(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, filepath.Join(root, "a.jpg"), "a", at)
	writeFile(t, filepath.Join(root, "a.json"), "{}", at)
	writeFile(t, filepath.Join(root, ".DS_Store"), "", at)
	writeFile(t, filepath.Join(root, "sub", "b.mp4"), "b", at.Add(time.Hour))

	src := NewLocalSource("photos", LocalConfig{Path: root}, nil)
	require.NoError(t, src.Initialize(context.Background()))

	got, err := drain(t, src)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.jpg", "sub/b.mp4"}, ids(got))

	for _, c := range got {
		if c.ItemID != "a.jpg" {
			continue
		}
		assert.Equal(t, "a.jpg", c.Filename)
		assert.Equal(t, types.MediaPhoto, c.MediaType)
		assert.True(t, c.CreatedAt.Equal(at))
		assert.Equal(t, "a", c.Metadata.Resolve("").TitleOr(""))

		require.NoError(t, c.Payload.Release())
		assert.FileExists(t, filepath.Join(root, "a.jpg"), "borrowed files survive release")
	}
}

func TestLocalSourceFilters(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeFile(t, filepath.Join(root, "a.JPG"), "a", now)
	writeFile(t, filepath.Join(root, "notes.txt"), "n", now)
	writeFile(t, filepath.Join(root, "sub", "b.jpg"), "b", now)

	recursive := false
	src := NewLocalSource("photos", LocalConfig{Path: root, Recursive: &recursive, Extensions: []string{"jpg"}}, nil)
	require.NoError(t, src.Initialize(context.Background()))

	got, err := drain(t, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.JPG"}, ids(got))
}

func TestLocalSourceCreatesMissingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox")
	src := NewLocalSource("inbox", LocalConfig{Path: root}, nil)
	require.NoError(t, src.Initialize(context.Background()))
	assert.DirExists(t, root)

	got, err := drain(t, src)
	require.NoError(t, err)
	assert.Empty(t, got)
}

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
  <title>Pics</title>
  <link>%[1]s</link>
  <item>
    <title>Thumb</title>
    <guid>post-1</guid>
    <link>%[1]s/post/1</link>
    <description>&lt;p&gt;A &lt;b&gt;bold&lt;/b&gt; cat &amp;amp; dog&lt;/p&gt;</description>
    <category>cats</category>
    <pubDate>Mon, 04 Mar 2024 10:00:00 +0000</pubDate>
    <media:thumbnail url="%[1]s/media/one.jpg"/>
  </item>
  <item>
    <title>Enclosure</title>
    <link>%[1]s/post/2</link>
    <enclosure url="%[1]s/media/two.mp4" type="video/mp4" length="3"/>
  </item>
  <item>
    <title>Inline</title>
    <guid>post-3</guid>
    <description>&lt;a href="%[1]s/media/three.png"&gt;[link]&lt;/a&gt; &lt;a href="%[1]s/comments"&gt;[comments]&lt;/a&gt;</description>
  </item>
  <item>
    <title>Text only</title>
    <guid>post-4</guid>
    <description>nothing to see</description>
  </item>
</channel>
</rss>`

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprintf(w, feedTemplate, srv.URL)
		case "/subs.opml":
			fmt.Fprintf(w, `<opml version="2.0"><body><outline text="group"><outline text="pics" xmlUrl="%s/feed.xml"/></outline></body></opml>`, srv.URL)
		case "/media/one.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			io.WriteString(w, "jpeg")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRSSSourceExtractsMedia(t *testing.T) {
	srv := feedServer(t)
	scratch, err := media.NewScratch(t.TempDir())
	require.NoError(t, err)

	src := NewRSSSource("pics", RSSConfig{URL: srv.URL + "/feed.xml"}, srv.Client(), scratch, nil)
	require.NoError(t, src.Initialize(context.Background()))

	got, err := drain(t, src)
	require.NoError(t, err)
	require.Equal(t, []string{"post-1", srv.URL + "/post/2", "post-3"}, ids(got))

	first := got[0]
	fields := first.Metadata.Resolve("")
	assert.Equal(t, "Thumb", fields.TitleOr(""))
	assert.Equal(t, "A bold cat & dog", fields.DescriptionOr(""))
	assert.Equal(t, []string{"cats"}, fields.TagList())
	assert.Equal(t, "one.jpg", first.Filename)
	assert.Equal(t, types.MediaPhoto, first.MediaType)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), first.CreatedAt.UTC())

	path, err := first.Payload.Path(context.Background())
	require.NoError(t, err)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(body))

	assert.Equal(t, types.MediaVideo, got[1].MediaType)
	assert.True(t, got[1].CreatedAt.IsZero())
	assert.Equal(t, "three.png", got[2].Filename)

	for _, c := range got {
		require.NoError(t, c.Payload.Release())
	}
	assert.NoFileExists(t, path)
}

func TestRSSSourceFromOPML(t *testing.T) {
	srv := feedServer(t)
	scratch, err := media.NewScratch(t.TempDir())
	require.NoError(t, err)

	src := NewRSSSource("pics", RSSConfig{OPML: srv.URL + "/subs.opml"}, srv.Client(), scratch, nil)
	require.NoError(t, src.Initialize(context.Background()))
	assert.Equal(t, []string{srv.URL + "/feed.xml"}, src.FeedURLs())

	got, err := drain(t, src)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRSSSourcePollFailsWhenNoFeedLoads(t *testing.T) {
	srv := feedServer(t)
	src := NewRSSSource("pics", RSSConfig{URL: srv.URL + "/missing.xml"}, srv.Client(), nil, nil)
	require.NoError(t, src.Initialize(context.Background()))

	got, err := drain(t, src)
	assert.Empty(t, got)
	assert.Error(t, err)
}

func TestParseOPMLNested(t *testing.T) {
	urls, err := ParseOPML([]byte(`<opml><body>
		<outline text="a" xmlUrl="https://a.example/feed"/>
		<outline text="folder">
			<outline text="b" xmlUrl="https://b.example/feed"/>
		</outline>
	</body></opml>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/feed", "https://b.example/feed"}, urls)

	_, err = ParseOPML([]byte("not xml <"))
	assert.Error(t, err)
}

func TestDiscordSourceBuffersAttachments(t *testing.T) {
	src := NewDiscordSource("chan", DiscordConfig{ChannelID: "42"}, nil, nil, nil)

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	src.OnMessage(&discordgo.Message{
		ID:        "m1",
		ChannelID: "42",
		GuildID:   "7",
		Content:   "look",
		Timestamp: at,
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", Filename: "cat.png", ContentType: "image/png", URL: "https://cdn.example/cat.png"},
			{ID: "a2", Filename: "clip.mp4", URL: "https://cdn.example/clip.mp4"},
		},
	})
	src.OnMessage(&discordgo.Message{ID: "m2", ChannelID: "99", Attachments: []*discordgo.MessageAttachment{{ID: "x"}}})
	src.OnMessage(&discordgo.Message{ID: "m3", ChannelID: "42", Content: "no files"})
	src.OnMessage(&discordgo.Message{ID: "m1", ChannelID: "42", Attachments: []*discordgo.MessageAttachment{{ID: "a1"}}})

	assert.Equal(t, 2, src.Buffered())

	got, err := drain(t, src)
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2"}, ids(got))
	assert.Equal(t, types.MediaPhoto, got[0].MediaType)
	assert.Equal(t, types.MediaVideo, got[1].MediaType)
	assert.Equal(t, "look", got[0].Metadata.Resolve("").DescriptionOr(""))
	assert.Equal(t, "https://discord.com/channels/7/42/m1", got[0].Link)
	assert.True(t, got[0].CreatedAt.Equal(at))

	again, err := drain(t, src)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSourcesRegistered(t *testing.T) {
	for _, name := range []string{names.LocalSource, names.RSSSource, names.DiscordSource} {
		assert.True(t, registry.Sources.Has(name), name)
	}
}
