package util

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into an AESKeySize key with HKDF-SHA256. The
// purpose string separates keys derived from the same secret.
func DeriveKey(secret []byte, salt, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("deriving key: empty secret")
	}
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(salt), []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("deriving %q key: %w", purpose, err)
	}
	return key, nil
}
