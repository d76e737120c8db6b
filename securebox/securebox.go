// Package securebox encrypts draft payloads at rest. Each user gets a
// random data key; data keys are wrapped by a master key so a database
// dump alone reveals neither drafts nor keys.
package securebox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of both master and per-user keys.
const KeySize = chacha20poly1305.KeySize

// Box seals and opens payloads under a single symmetric key.
type Box struct {
	key []byte
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("securebox: generate key: %w", err)
	}
	return key, nil
}

// New creates a Box from a raw key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("securebox: key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Box{key: k}, nil
}

// NewFromBase64 creates a Box from a standard-base64 key, the form keys
// take in configuration and environment variables.
func NewFromBase64(s string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("securebox: decode key: %w", err)
	}
	return New(key)
}

// Seal encrypts plaintext. The random nonce is prepended to the ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("securebox: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("securebox: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed payload.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("securebox: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("securebox: sealed payload too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("securebox: open: %w", err)
	}
	return plaintext, nil
}

// SealString encrypts a string and base64-encodes the result for storage
// in text columns.
func (b *Box) SealString(s string) (string, error) {
	sealed, err := b.Seal([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString.
func (b *Box) OpenString(s string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("securebox: decode payload: %w", err)
	}
	plaintext, err := b.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// WrapKey seals a per-user data key under the master key for storage
// alongside the user record.
func (b *Box) WrapKey(userKey []byte) (string, error) {
	if len(userKey) != KeySize {
		return "", fmt.Errorf("securebox: user key must be %d bytes", KeySize)
	}
	return b.SealString(string(userKey))
}

// UnwrapKey reverses WrapKey and returns a Box over the user key.
func (b *Box) UnwrapKey(wrapped string) (*Box, error) {
	raw, err := b.OpenString(wrapped)
	if err != nil {
		return nil, err
	}
	return New([]byte(raw))
}
