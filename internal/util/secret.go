package util

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const secretFileSize = 32

// LoadOrCreateSecret reads a base64url secret from path, generating and
// writing a new 32-byte secret (mode 0600) when the file does not exist.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decoding secret file %s: %w", path, err)
		}
		if len(secret) < secretFileSize {
			return nil, fmt.Errorf("secret file %s holds %d bytes, want at least %d", path, len(secret), secretFileSize)
		}
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}

	secret, err := RandomBytes(secretFileSize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating secret directory: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(secret)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing secret file: %w", err)
	}
	return secret, nil
}
