package util

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const ciphertextPrefix = "v1:"

var (
	// ErrEmptyKey is returned when no encryption key is configured
	ErrEmptyKey = errors.New("encryption key is required")

	// ErrEmptyPlaintext is returned when asked to encrypt an empty value
	ErrEmptyPlaintext = errors.New("plaintext is required")

	// ErrInvalidCiphertext is returned when a ciphertext cannot be opened
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// CryptoRandomBytes generates cryptographically secure random bytes
func CryptoRandomBytes(length int64) ([]byte, error) {
	buf := make([]byte, length)
	_, err := rand.Read(buf)
	return buf, err
}

// Cipher encrypts stored access tokens with XChaCha20-Poly1305 and derives
// a separate HMAC key for deterministic token lookups.
type Cipher struct {
	aead      cipher.AEAD
	lookupKey []byte
}

// NewCipher derives the encryption and lookup keys from secret via HKDF-SHA256
func NewCipher(secret string) (*Cipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptyKey
	}

	encKey, err := deriveKey(secret, "checkrgate token encryption")
	if err != nil {
		return nil, err
	}
	lookupKey, err := deriveKey(secret, "checkrgate token lookup")
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create aead: %w", err)
	}

	return &Cipher{aead: aead, lookupKey: lookupKey}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with a random nonce. Output is "v1:" + base64url(nonce||ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	nonce, err := CryptoRandomBytes(int64(c.aead.NonceSize()))
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(ciphertext), ciphertextPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown format", ErrInvalidCiphertext)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}

// LookupHash returns the hex HMAC-SHA256 of plaintext under the lookup key.
// It is stable across calls so it can be indexed.
func (c *Cipher) LookupHash(plaintext string) string {
	h := hmac.New(sha256.New, c.lookupKey)
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}
