package lua

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T, opts ...RuntimeOption) *Runtime {
	t.Helper()
	opts = append(opts, WithModules(DefaultModules(ModuleDeps{})...))
	r, err := NewRuntime(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestExecuteConvertsValues(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.LoadScript(`
function shout(item)
  return { title = string.upper(item.title), tags = { "a", item.tags[1] } }
end
`))
	assert.True(t, r.HasFunction("shout"))

	out, err := r.Execute(context.Background(), "shout", map[string]any{
		"title": "hi",
		"tags":  []string{"b"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	result := out[0].(map[string]any)
	assert.Equal(t, "HI", result["title"])
	tags, err := ToStringSlice(result["tags"])
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)
}

func TestSecureModeRemovesOS(t *testing.T) {
	r := newRuntime(t)
	err := r.LoadScript(`os.exit(1)`)
	assert.Error(t, err)
}

func TestJSONAndHTMLModules(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.LoadScript(`
local j = require("json")
function roundtrip(s)
  local v = j.decode(s)
  return j.encode({ n = v.n + 1 })
end
function first_img(body)
  local doc = html.parse(body)
  local img = doc:select_one("img")
  return img:attr("src"), #html.media(body)
end
`))

	out, err := r.Execute(context.Background(), "roundtrip", `{"n": 1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 2}`, out[0].(string))

	out, err = r.Execute(context.Background(), "first_img", `<p><img src="a.png"><video src="b.mp4"></video></p>`)
	require.NoError(t, err)
	assert.Equal(t, "a.png", out[0])
	assert.Equal(t, float64(2), out[1])
}

func TestHTTPModule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	r := newRuntime(t)
	require.NoError(t, r.LoadScript(`
function fetch(url)
  local resp, err = http.get(url)
  if err then error(err) end
  return resp.body
end
`))

	out, err := r.Execute(context.Background(), "fetch", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "pong", out[0])
}

func TestRequireFromScriptDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "helpers.lua"), []byte(`
loads = (loads or 0) + 1
return { twice = function(x) return x * 2 end }
`), 0o644))

	r := newRuntime(t, WithLoader(NewDirLoader(dir)))
	require.NoError(t, r.LoadScript(`
local helpers = require("lib.helpers")
local again = require("lib.helpers")
function run(x) return again.twice(x), loads end
`))

	out, err := r.Execute(context.Background(), "run", 21)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, float64(42), out[0])
	assert.Equal(t, float64(1), out[1])

	assert.Error(t, r.LoadScript(`require("missing")`))

	for _, name := range []string{"../etc/passwd", "lib/helpers", ""} {
		_, _, err = NewDirLoader(dir).Load(name)
		assert.Error(t, err, name)
	}
}

func TestExecuteMissingFunction(t *testing.T) {
	r := newRuntime(t)
	_, err := r.Execute(context.Background(), "nope")
	assert.ErrorContains(t, err, "not found")
}
