package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := New[string]("thing")
	r.Register("b", func(ctx context.Context, env Env) (string, error) { return "B:" + env.Name, nil })
	r.Register("a", func(ctx context.Context, env Env) (string, error) { return "A", nil })

	assert.Equal(t, []string{"a", "b"}, r.Types())
	assert.True(t, r.Has("a"))

	f, err := r.Get("b")
	require.NoError(t, err)
	v, err := f(context.Background(), Env{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "B:x", v)

	_, err = r.Get("nope")
	assert.ErrorContains(t, err, `unknown thing type "nope"`)

	assert.Panics(t, func() {
		r.Register("a", func(ctx context.Context, env Env) (string, error) { return "", nil })
	})
}
