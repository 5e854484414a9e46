package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bboltstore "github.com/jmcleod/bearer/storage/bbolt"
	"github.com/jmcleod/bearer/storage/memory"
)

func testSession(ttl time.Duration) RefreshSession {
	now := time.Now()
	return RefreshSession{
		ID:         "sid-1",
		Username:   "alice",
		CSRFToken:  "csrf-1",
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
	}
}

func storeContract(t *testing.T, store SessionStore) {
	ctx := context.Background()

	_, ok := store.Get(ctx, "missing")
	assert.False(t, ok)

	sess := testSession(time.Hour)
	require.NoError(t, store.Put(ctx, "tok-1", sess))
	got, ok := store.Get(ctx, "tok-1")
	require.True(t, ok)
	assert.Equal(t, sess.Username, got.Username)
	assert.Equal(t, sess.CSRFToken, got.CSRFToken)

	require.NoError(t, store.Put(ctx, "tok-expired", testSession(-time.Minute)))
	_, ok = store.Get(ctx, "tok-expired")
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, "tok-1"))
	require.NoError(t, store.Delete(ctx, "tok-1"), "deleting twice is fine")
	_, ok = store.Get(ctx, "tok-1")
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "tok-2", sess))
	require.NoError(t, store.Put(ctx, "tok-3", sess))
	require.NoError(t, store.DeleteAll(ctx))
	_, ok = store.Get(ctx, "tok-2")
	assert.False(t, ok)

	touchContract(t, store)
}

func touchContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	used := time.Now().Add(time.Minute).Truncate(time.Second)

	_, ok, err := store.Touch(ctx, "missing", used)
	require.NoError(t, err)
	assert.False(t, ok)

	sess := testSession(time.Hour)
	require.NoError(t, store.Put(ctx, "tok-touch", sess))
	touched, ok, err := store.Touch(ctx, "tok-touch", used)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sess.ID, touched.ID)
	assert.True(t, used.Equal(touched.LastUsedAt))
	got, ok := store.Get(ctx, "tok-touch")
	require.True(t, ok)
	assert.True(t, used.Equal(got.LastUsedAt))

	require.NoError(t, store.Put(ctx, "tok-touch-expired", testSession(-time.Minute)))
	_, ok, err = store.Touch(ctx, "tok-touch-expired", used)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, "tok-touch"))
	_, ok, err = store.Touch(ctx, "tok-touch", used)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = store.Get(ctx, "tok-touch")
	assert.False(t, ok, "touch does not bring back a deleted session")

	require.NoError(t, store.Put(ctx, "tok-touch", sess))
	require.NoError(t, store.DeleteAll(ctx))
	_, ok, err = store.Touch(ctx, "tok-touch", used)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = store.Get(ctx, "tok-touch")
	assert.False(t, ok, "touch does not bring back a revoked session")
}

func clockContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	// Ahead of the wall clock so the repository's own expiry never fires first.
	now := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	store.(clockSetter).setClock(func() time.Time { return now })

	sess := RefreshSession{ID: "sid-clock", Username: "alice", IssuedAt: now, ExpiresAt: now.Add(time.Hour), LastUsedAt: now}
	require.NoError(t, store.Put(ctx, "tok-clock", sess))
	_, ok := store.Get(ctx, "tok-clock")
	require.True(t, ok, "the store clock, not the wall clock, decides expiry")

	now = now.Add(time.Hour)
	_, ok, err := store.Touch(ctx, "tok-clock", now)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = store.Get(ctx, "tok-clock")
	assert.False(t, ok)
}

func TestMemorySessionStore(t *testing.T) {
	storeContract(t, NewMemorySessionStore())
}

func TestMemorySessionStoreClock(t *testing.T) {
	clockContract(t, NewMemorySessionStore())
}

func TestPersistentSessionStoreMemory(t *testing.T) {
	store, err := NewPersistentSessionStore(memory.NewRepository(), make([]byte, 32), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()
	storeContract(t, store)
}

func TestPersistentSessionStoreClock(t *testing.T) {
	store, err := NewPersistentSessionStore(memory.NewRepository(), make([]byte, 32), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()
	clockContract(t, store)
}

func TestPersistentSessionStoreBbolt(t *testing.T) {
	repo, err := bboltstore.NewRepositoryFromFile(filepath.Join(t.TempDir(), "sessions.db"), nil)
	require.NoError(t, err)
	defer repo.Close()

	store, err := NewPersistentSessionStore(repo, make([]byte, 32), zerolog.Nop())
	require.NoError(t, err)
	storeContract(t, store)
}

func TestPersistentSessionStoreHidesTokens(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	store, err := NewPersistentSessionStore(repo, make([]byte, 32), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "secret-token", testSession(time.Hour)))
	ids, err := repo.List(ctx, sessionScope)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotContains(t, ids[0], "secret-token")
	assert.Equal(t, recordID("secret-token"), ids[0])
}

func TestPersistentSessionStoreWrongKey(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	first, err := NewPersistentSessionStore(repo, make([]byte, 32), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "tok", testSession(time.Hour)))

	otherKey := make([]byte, 32)
	otherKey[0] = 1
	second, err := NewPersistentSessionStore(repo, otherKey, zerolog.Nop())
	require.NoError(t, err)
	_, ok := second.Get(ctx, "tok")
	assert.False(t, ok)

	_, ok = first.Get(ctx, "tok")
	assert.False(t, ok, "unreadable records are removed")

	_, err = NewPersistentSessionStore(repo, []byte("short"), zerolog.Nop())
	assert.Error(t, err)
}
