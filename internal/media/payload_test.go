package media

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScratch(t *testing.T) *Scratch {
	t.Helper()
	s, err := NewScratch(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, open func(context.Context) (io.ReadCloser, error)) string {
	t.Helper()
	rc, err := open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestOwnedFileDuplicateIsIndependent(t *testing.T) {
	ctx := context.Background()
	s := newScratch(t)

	orig, err := s.CopyFrom(strings.NewReader("bytes"), "jpg")
	require.NoError(t, err)

	dup, err := orig.Duplicate(ctx)
	require.NoError(t, err)

	origPath, _ := orig.Path(ctx)
	dupPath, _ := dup.Path(ctx)
	assert.NotEqual(t, origPath, dupPath)
	assert.Equal(t, ".jpg", filepath.Ext(dupPath))

	require.NoError(t, orig.Release())
	assert.NoFileExists(t, origPath)
	assert.Equal(t, "bytes", readAll(t, dup.Open))

	require.NoError(t, dup.Release())
	require.NoError(t, dup.Release(), "release is idempotent")
	assert.True(t, dup.Released())
	assert.NoFileExists(t, dupPath)
}

func TestBorrowedFileSurvivesRelease(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	p := NewBorrowedFile(src, nil)
	dup, err := p.Duplicate(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Release())
	assert.FileExists(t, src)
	assert.Equal(t, int64(1), dup.Size())

	_, err = p.Open(context.Background())
	assert.ErrorIs(t, err, ErrReleased)
}

func TestRemoteDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	ctx := context.Background()
	s := newScratch(t)
	p := NewRemote(srv.URL+"/img", srv.Client(), s)
	assert.Equal(t, int64(-1), p.Size())

	path, err := p.Path(ctx)
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(path))
	assert.Equal(t, "png-bytes", readAll(t, p.Open))
	assert.Equal(t, int32(1), hits.Load())

	dup, err := p.Duplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", readAll(t, dup.Open))
	assert.Equal(t, int32(1), hits.Load(), "duplicate of a fetched payload copies the local file")

	require.NoError(t, p.Release())
	assert.NoFileExists(t, path)
	require.NoError(t, dup.Release())
}

func TestRemoteUnfetchedReleaseDoesNotDownload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := NewRemote(srv.URL+"/x.mp4", srv.Client(), newScratch(t))
	require.NoError(t, p.Release())
	_, err := p.Path(context.Background())
	assert.ErrorIs(t, err, ErrReleased)
	assert.Zero(t, hits.Load())
}

func TestRemoteBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := NewRemote(srv.URL+"/missing.jpg", srv.Client(), newScratch(t))
	_, err := p.Path(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestScratchClean(t *testing.T) {
	s := newScratch(t)
	_, err := s.CopyFrom(strings.NewReader("a"), ".txt")
	require.NoError(t, err)

	require.NoError(t, s.Clean())
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEmptyPayload(t *testing.T) {
	p := Empty()
	_, err := p.Path(context.Background())
	assert.ErrorIs(t, err, ErrNoContent)
	assert.Equal(t, "", readAll(t, p.Open))
	require.NoError(t, p.Release())
	assert.True(t, p.Released())
}
