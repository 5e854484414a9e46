package redis

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/bearer/storage"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := NewRepository(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func testEnvelope(ciphertext string) *storage.Envelope {
	return &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: make([]byte, 12), Ciphertext: []byte(ciphertext)}
}

func TestRedisStorage(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	scope := "session:default"

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, scope, "refresh_token", testEnvelope("cipher")))
		assert.True(t, mr.Exists("bearer:session:default:refresh_token"))

		got, err := s.Get(ctx, scope, "refresh_token")
		require.NoError(t, err)
		assert.Equal(t, []byte("cipher"), got.Ciphertext)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, scope, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, scope, "csrf", testEnvelope("c")))
		require.NoError(t, s.Put(ctx, "session:other", "refresh_token", testEnvelope("o")))

		keys, err := s.List(ctx, scope)
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"csrf", "refresh_token"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, scope, "csrf"))
		assert.ErrorIs(t, s.Delete(ctx, scope, "csrf"), storage.ErrNotFound)
	})

	t.Run("TTL", func(t *testing.T) {
		env := testEnvelope("short")
		env.ExpiresAt = time.Now().Add(time.Minute)
		require.NoError(t, s.Put(ctx, "session:ttl", "refresh_token", env))

		ttl := mr.TTL("bearer:session:ttl:refresh_token")
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)

		mr.FastForward(2 * time.Minute)
		_, err := s.Get(ctx, "session:ttl", "refresh_token")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PutAlreadyExpired", func(t *testing.T) {
		env := testEnvelope("stale")
		env.ExpiresAt = time.Now().Add(-time.Second)
		require.NoError(t, s.Put(ctx, scope, "stale", env))
		assert.False(t, mr.Exists("bearer:session:default:stale"))
	})
}

func TestRedisUpdate(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	scope := "session:update"

	t.Run("ReplacesRecord", func(t *testing.T) {
		env := testEnvelope("before")
		env.ExpiresAt = time.Now().Add(time.Hour)
		require.NoError(t, s.Put(ctx, scope, "refresh_token", env))

		err := s.Update(ctx, scope, "refresh_token", func(cur *storage.Envelope) (*storage.Envelope, error) {
			next := cur.Clone()
			next.Ciphertext = []byte("after")
			return next, nil
		})
		require.NoError(t, err)

		got, err := s.Get(ctx, scope, "refresh_token")
		require.NoError(t, err)
		assert.Equal(t, []byte("after"), got.Ciphertext)
		assert.Greater(t, mr.TTL("bearer:session:update:refresh_token"), time.Duration(0))
	})

	t.Run("Missing", func(t *testing.T) {
		called := false
		err := s.Update(ctx, scope, "missing", func(cur *storage.Envelope) (*storage.Envelope, error) {
			called = true
			return cur, nil
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.False(t, called)
	})

	t.Run("RetriesAfterConcurrentWrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, scope, "contended", testEnvelope("v1")))
		var seen []string
		err := s.Update(ctx, scope, "contended", func(cur *storage.Envelope) (*storage.Envelope, error) {
			seen = append(seen, string(cur.Ciphertext))
			if len(seen) == 1 {
				// Another writer lands between WATCH and EXEC.
				require.NoError(t, s.Put(ctx, scope, "contended", testEnvelope("v2")))
			}
			next := cur.Clone()
			next.Ciphertext = append([]byte(nil), cur.Ciphertext...)
			next.Ciphertext = append(next.Ciphertext, '+')
			return next, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"v1", "v2"}, seen)

		got, err := s.Get(ctx, scope, "contended")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2+"), got.Ciphertext)
	})
}

func TestRedisPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRepository(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), WithPrefix("app"))
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), "session:x", "refresh_token", testEnvelope("x")))
	assert.True(t, mr.Exists("app:session:x:refresh_token"))
}

func TestNewRepositoryFromAddr(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	s, err := NewRepositoryFromAddr(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	mr.Close()
	_, err = NewRepositoryFromAddr(context.Background(), mr.Addr())
	assert.Error(t, err)
}
