package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freebooter/internal/types"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "freebooter.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateRunAndHistory(t *testing.T) {
	t.Setenv("FREEBOOTER_CONFIG", "")
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "in"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in", "a.jpg"), []byte("jpeg"), 0o644))

	path := writeConfig(t, dir, `
[engine]
state_dir = "`+dir+`/state"

[logging]
level = "warn"
format = "json"

[[watchers]]
name = "photos"
type = "local"
[watchers.config]
path = "`+dir+`/in"

[[uploaders]]
name = "archive"
type = "local"
[uploaders.config]
path = "`+dir+`/out"
sidecar = false
`)

	out, err := runCLI(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "watchers:    photos")

	out, err = runCLI(t, "history", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing handled yet")

	_, err = runCLI(t, "run", "--once", "--config", path)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "out", "a.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "out", "a.jpg.json"))

	out, err = runCLI(t, "history", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "photos")

	out, err = runCLI(t, "history", "-c", path, "--source", "photos")
	require.NoError(t, err)
	assert.Contains(t, out, "a.jpg")
}

func TestValidateReportsConfigErrors(t *testing.T) {
	t.Setenv("FREEBOOTER_CONFIG", "")
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[engine]
state_dir = "`+dir+`/state"

[[watchers]]
name = "photos"
type = "local"
preprocessors = ["missing"]
`)

	_, err := runCLI(t, "validate", "--config", path)
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))

	var buf bytes.Buffer
	printError(&buf, err)
	assert.Contains(t, buf.String(), "invalid configuration")
	assert.Contains(t, buf.String(), `preprocessor "missing" is not a declared middleware`)
	assert.Contains(t, buf.String(), "at least one uploader is required")
}

func TestRunRefusesSecondInstance(t *testing.T) {
	t.Setenv("FREEBOOTER_CONFIG", "")
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "state"), 0o755))
	path := writeConfig(t, dir, `
[engine]
state_dir = "`+dir+`/state"

[[watchers]]
name = "photos"
type = "local"
[watchers.config]
path = "`+dir+`/in"

[[uploaders]]
name = "archive"
type = "local"
[uploaders.config]
path = "`+dir+`/out"
`)

	held := flock.New(filepath.Join(dir, "state", lockFile))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = runCLI(t, "run", "--once", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another freebooter instance")
}
