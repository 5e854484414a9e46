package util

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAES(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESWithAAD failed: %v", err)
		}

		decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
		if err != nil {
			t.Fatalf("DecryptAESWithAAD failed: %v", err)
		}

		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		_, err := DecryptAESWithAAD(cipherText, key, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		_, err := DecryptAESWithAAD(cipherText, key, aad)
		if err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, err := EncryptAESWithAAD(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("ShortCipherText", func(t *testing.T) {
		_, err := DecryptAESWithAAD([]byte("short"), key, aad)
		if err == nil {
			t.Error("expected error with truncated ciphertext, got nil")
		}
	})
}

func TestDeriveKey(t *testing.T) {
	secret := []byte("secret")

	key1, err := DeriveKey(secret, "salt", "signing")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if len(key1) != AESKeySize {
		t.Errorf("expected key length %d, got %d", AESKeySize, len(key1))
	}

	key2, _ := DeriveKey(secret, "salt", "signing")
	if !bytes.Equal(key1, key2) {
		t.Error("DeriveKey should be deterministic")
	}

	key3, _ := DeriveKey(secret, "salt", "wrapping")
	if bytes.Equal(key1, key3) {
		t.Error("DeriveKey should separate purposes")
	}

	key4, _ := DeriveKey(secret, "other salt", "signing")
	if bytes.Equal(key1, key4) {
		t.Error("DeriveKey should depend on the salt")
	}

	if _, err := DeriveKey(nil, "salt", "signing"); err == nil {
		t.Error("expected error for an empty secret")
	}
}

func TestWipeBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}
	b := []byte{0x04}

	WipeBytes(a, b, nil)
	if !bytes.Equal(a, []byte{0, 0, 0}) || b[0] != 0 {
		t.Errorf("WipeBytes left data behind: %v %v", a, b)
	}
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"  Alice ", "alice"},
		{"ＡＬＩＣＥ", "alice"}, // fullwidth compatibility forms
		{"café", "café"},
	}
	for _, tc := range tests {
		if got := NormalizeUsername(tc.in); got != tc.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes should produce different outputs")
		}
	})

	t.Run("RandomToken", func(t *testing.T) {
		s1, err := RandomToken(16)
		if err != nil {
			t.Fatalf("RandomToken failed: %v", err)
		}
		s2, _ := RandomToken(16)
		if len(s1) != 22 {
			t.Errorf("expected 22 base64url chars, got %d", len(s1))
		}
		if s1 == s2 {
			t.Error("RandomToken should produce different outputs")
		}
	})
}

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.key")

	first, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret (create) failed: %v", err)
	}
	if len(first) != 32 {
		t.Errorf("expected 32-byte secret, got %d", len(first))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("secret file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	second, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret (load) failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("expected the same secret on reload")
	}

	if err := os.WriteFile(path, []byte("!!not-base64!!"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateSecret(path); err == nil {
		t.Error("expected error for corrupt secret file")
	}
}
