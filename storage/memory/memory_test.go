package memory

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jmcleod/bearer/storage"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	scope := "session:default"
	key := "refresh_token"
	env := &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte("ciphertext"),
	}

	t.Run("PutAndGet", func(t *testing.T) {
		err := repo.Put(ctx, scope, key, env)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(ctx, scope, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if got.Ver != env.Ver || got.Scheme != env.Scheme || !bytes.Equal(got.Nonce, env.Nonce) || !bytes.Equal(got.Ciphertext, env.Ciphertext) {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}

		// Test isolation (cloning)
		got.Nonce[0] = 'X'
		got2, _ := repo.Get(ctx, scope, key)
		if got2.Nonce[0] == 'X' {
			t.Error("Memory repository should return clones of envelopes")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "nonexistent", key)
		if !storage.IsNotFound(err) {
			t.Errorf("expected not-found for missing scope, got %v", err)
		}

		_, err = repo.Get(ctx, scope, "nonexistent")
		if !storage.IsNotFound(err) {
			t.Errorf("expected not-found for missing key, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.Put(ctx, scope, "other", env)

		keys, err := repo.List(ctx, scope)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(keys) != 2 {
			t.Errorf("Expected 2 keys, got %d: %v", len(keys), keys)
		}

		keys, _ = repo.List(ctx, "nonexistent")
		if len(keys) != 0 {
			t.Errorf("Expected 0 keys for nonexistent scope, got %d", len(keys))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, scope, "other"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, scope, "other"); !storage.IsNotFound(err) {
			t.Errorf("expected deleted record to be gone, got %v", err)
		}
		if err := repo.Delete(ctx, scope, "other"); !storage.IsNotFound(err) {
			t.Errorf("expected not-found deleting twice, got %v", err)
		}
		if err := repo.Delete(ctx, "nonexistent", key); !storage.IsNotFound(err) {
			t.Errorf("expected not-found deleting from missing scope, got %v", err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		repo := NewRepository()
		now := time.Now()
		repo.now = func() time.Time { return now }

		expiring := env.Clone()
		expiring.ExpiresAt = now.Add(time.Minute)
		if err := repo.Put(ctx, scope, key, expiring); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := repo.Get(ctx, scope, key); err != nil {
			t.Fatalf("expected live record, got %v", err)
		}

		now = now.Add(2 * time.Minute)
		if _, err := repo.Get(ctx, scope, key); !storage.IsNotFound(err) {
			t.Errorf("expected expired record to be not-found, got %v", err)
		}
		keys, _ := repo.List(ctx, scope)
		if len(keys) != 0 {
			t.Errorf("expected expired record to be hidden from List, got %v", keys)
		}
	})

	t.Run("ExpiredGetKeepsConcurrentPut", func(t *testing.T) {
		repo := NewRepository()
		start := time.Now()
		stale := env.Clone()
		stale.ExpiresAt = start.Add(-time.Second)
		if err := repo.Put(ctx, scope, key, stale); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		fresh := env.Clone()
		fresh.Ciphertext = []byte("fresh")
		fresh.ExpiresAt = start.Add(time.Hour)
		replaced := false
		repo.now = func() time.Time {
			// Runs between the read and the expiry delete in Get.
			if !replaced {
				replaced = true
				if err := repo.Put(ctx, scope, key, fresh); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
			}
			return start
		}

		if _, err := repo.Get(ctx, scope, key); !storage.IsNotFound(err) {
			t.Fatalf("expected the stale read to be not-found, got %v", err)
		}
		got, err := repo.Get(ctx, scope, key)
		if err != nil {
			t.Fatalf("fresh record was deleted by the expiry path: %v", err)
		}
		if string(got.Ciphertext) != "fresh" {
			t.Errorf("expected fresh record, got %q", got.Ciphertext)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := NewRepository()
		if err := repo.Put(ctx, scope, key, env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		err := repo.Update(ctx, scope, key, func(cur *storage.Envelope) (*storage.Envelope, error) {
			if string(cur.Ciphertext) != "ciphertext" {
				t.Errorf("Update saw wrong record: %q", cur.Ciphertext)
			}
			next := cur.Clone()
			next.Ciphertext = []byte("updated")
			return next, nil
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		got, _ := repo.Get(ctx, scope, key)
		if string(got.Ciphertext) != "updated" {
			t.Errorf("expected updated ciphertext, got %q", got.Ciphertext)
		}

		called := false
		err = repo.Update(ctx, scope, "missing", func(cur *storage.Envelope) (*storage.Envelope, error) {
			called = true
			return cur, nil
		})
		if !storage.IsNotFound(err) {
			t.Errorf("expected not-found updating a missing record, got %v", err)
		}
		if called {
			t.Error("Update must not call fn for a missing record")
		}

		now := time.Now()
		repo.now = func() time.Time { return now }
		expiring := env.Clone()
		expiring.ExpiresAt = now.Add(time.Minute)
		repo.Put(ctx, scope, "expiring", expiring)
		now = now.Add(2 * time.Minute)
		err = repo.Update(ctx, scope, "expiring", func(cur *storage.Envelope) (*storage.Envelope, error) {
			called = true
			return cur, nil
		})
		if !storage.IsNotFound(err) || called {
			t.Errorf("expected expired record to be not-found without calling fn, got %v", err)
		}
	})
}
