package storage

import (
	"fmt"
	"time"

	"github.com/jmcleod/bearer/internal/util"
)

// Envelope is a sealed record containing AES-256-GCM encrypted data.
// A zero ExpiresAt means the record lives until it is deleted.
type Envelope struct {
	Ver        int       `json:"ver"`
	Scheme     string    `json:"scheme"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the envelope carries an expiry that has passed.
func (e *Envelope) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	return &Envelope{
		Ver:        e.Ver,
		Scheme:     e.Scheme,
		Nonce:      append([]byte(nil), e.Nonce...),
		Ciphertext: append([]byte(nil), e.Ciphertext...),
		ExpiresAt:  e.ExpiresAt,
	}
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte) (*Envelope, error) {
	cipher, err := util.EncryptAESWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}

	// util.EncryptAESWithAAD returns nonce || ciphertext.
	return &Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      cipher[:12],
		Ciphertext: cipher[12:],
	}, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != "aes256gcm" {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}

	fullCipher := make([]byte, len(envelope.Nonce)+len(envelope.Ciphertext))
	copy(fullCipher, envelope.Nonce)
	copy(fullCipher[len(envelope.Nonce):], envelope.Ciphertext)

	return util.DecryptAESWithAAD(fullCipher, recordKey, aad)
}
