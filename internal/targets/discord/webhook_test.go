package discord

import (
	"context"
	"encoding/json"
	"errors"
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
	"freebooter/internal/types"
)

type webhookCall struct {
	Path     string
	Query    string
	Payload  discordgo.WebhookParams
	Filename string
	Body     string
}

// webhookServer points discordgo's webhook endpoint at an httptest server
// answering with status and body.
func webhookServer(t *testing.T, status int, body string) (*[]webhookCall, *httptest.Server) {
	t.Helper()
	var calls []webhookCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := webhookCall{Path: r.URL.Path, Query: r.URL.RawQuery}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			json.Unmarshal([]byte(r.FormValue("payload_json")), &call.Payload)
			if files := r.MultipartForm.File["files[0]"]; len(files) > 0 {
				call.Filename = files[0].Filename
				f, _ := files[0].Open()
				data, _ := io.ReadAll(f)
				f.Close()
				call.Body = string(data)
			}
		}
		calls = append(calls, call)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	original := discordgo.EndpointWebhookToken
	discordgo.EndpointWebhookToken = func(id, token string) string {
		return srv.URL + "/webhooks/" + id + "/" + token
	}
	t.Cleanup(func() { discordgo.EndpointWebhookToken = original })

	return &calls, srv
}

func newTarget(t *testing.T, srv *httptest.Server) *Target {
	t.Helper()
	target, err := New("hook", Config{Webhook: "https://discord.com/api/webhooks/42/secret", Username: "bot"}, srv.Client(), nil)
	require.NoError(t, err)
	require.NoError(t, target.Initialize(context.Background()))
	return target
}

func newItem(t *testing.T) *types.MediaItem {
	t.Helper()
	src := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))
	return &types.MediaItem{
		SourceName: "photos",
		ItemID:     "cat.png",
		Filename:   "cat.png",
		Link:       "https://example.com/cat",
		Payload:    media.NewBorrowedFile(src, nil),
		Metadata: types.Metadata{
			types.DefaultPlatform: {Title: types.Some("Cat"), Description: types.Some("generic")},
			"discord":             {Description: types.Some("for discord")},
		},
	}
}

func TestPublishPostsAttachment(t *testing.T) {
	calls, srv := webhookServer(t, http.StatusOK, `{"id":"m1","channel_id":"c1","guild_id":"g1"}`)
	target := newTarget(t, srv)

	res, err := target.Publish(context.Background(), newItem(t))
	require.NoError(t, err)
	assert.Equal(t, "m1", res.RemoteID)
	assert.Equal(t, "https://discord.com/channels/g1/c1/m1", res.URL)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/webhooks/42/secret", call.Path)
	assert.Contains(t, call.Query, "wait=true")
	assert.Equal(t, "cat.png", call.Filename)
	assert.Equal(t, "png", call.Body)
	assert.Equal(t, "bot", call.Payload.Username)
	require.Len(t, call.Payload.Embeds, 1)
	assert.Equal(t, "Cat", call.Payload.Embeds[0].Title)
	assert.Equal(t, "for discord", call.Payload.Embeds[0].Description)
}

func TestPublishClassifiesFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryable  bool
		retryAfter time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, `{"message":"You are being rate limited.","retry_after":0.5,"global":false}`, true, 500 * time.Millisecond},
		{"server error", http.StatusInternalServerError, `{"message":"oops"}`, true, 0},
		{"bad request", http.StatusBadRequest, `{"message":"Cannot send an empty message","code":50006}`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := webhookServer(t, tt.status, tt.body)
			target := newTarget(t, srv)

			_, err := target.Publish(context.Background(), newItem(t))
			require.Error(t, err)
			assert.Equal(t, tt.retryable, types.IsRetryable(err))

			var pe *types.PublishError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.retryAfter, pe.RetryAfter)
		})
	}
}

func TestPublishRejectsOversizedFiles(t *testing.T) {
	calls, srv := webhookServer(t, http.StatusOK, `{}`)
	target, err := New("hook", Config{Webhook: "https://discord.com/api/webhooks/42/secret", MaxBytes: 2}, srv.Client(), nil)
	require.NoError(t, err)

	_, err = target.Publish(context.Background(), newItem(t))
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))
	assert.Empty(t, *calls)
}
