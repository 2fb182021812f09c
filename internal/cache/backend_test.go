package cache_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comanda/chatsync/internal/cache"
)

func backends(t *testing.T) map[string]cache.Backend {
	t.Helper()

	mr := miniredis.RunT(t)
	rb, err := cache.OpenRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)

	sb, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)

	return map[string]cache.Backend{
		"file":   cache.NewFileBackend(t.TempDir()),
		"redis":  rb,
		"sqlite": sb,
	}
}

func TestBackends_Contract(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { assert.NoError(t, b.Close()) }()

			_, err := b.Read("missing")
			assert.ErrorIs(t, err, cache.ErrNotFound)

			require.NoError(t, b.Write("p:one", []byte(`{"v":1}`)))
			require.NoError(t, b.Write("p:one", []byte(`{"v":2}`)))
			require.NoError(t, b.Write("p:two*", []byte(`{}`)))
			require.NoError(t, b.Write("q:three", []byte(`{}`)))

			data, err := b.Read("p:one")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(data))

			keys, err := b.Keys("p:")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"p:one", "p:two*"}, keys)

			require.NoError(t, b.Delete("p:one"))
			assert.ErrorIs(t, b.Delete("p:one"), cache.ErrNotFound)
		})
	}
}

func TestBackends_StoreExpiry(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { _ = b.Close() }()

			c := newClock()
			s := cache.New(b, cache.Options{Namespace: "ns", Now: c.now})
			s.Set("messages:1", []string{"hola"}, 600*time.Second)

			var got []string
			require.True(t, s.Get("messages:1", &got))
			assert.Equal(t, []string{"hola"}, got)

			c.advance(601 * time.Second)
			assert.False(t, s.Get("messages:1", &got))

			_, err := b.Read("ns:messages:1")
			assert.ErrorIs(t, err, cache.ErrNotFound)
		})
	}
}

func TestRedisBackend_KeysEscapesGlob(t *testing.T) {
	mr := miniredis.RunT(t)
	rb, err := cache.OpenRedis("redis://" + mr.Addr())
	require.NoError(t, err)
	defer func() { _ = rb.Close() }()

	require.NoError(t, rb.Write("a*b:1", []byte("x")))
	require.NoError(t, rb.Write("aXb:1", []byte("x")))

	keys, err := rb.Keys("a*b:")
	require.NoError(t, err)
	assert.Equal(t, []string{"a*b:1"}, keys)
}

func TestOpenRedis_BadURL(t *testing.T) {
	_, err := cache.OpenRedis("not-a-url")
	assert.Error(t, err)
}
