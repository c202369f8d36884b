package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoRandomBytes(t *testing.T) {
	t.Run("Generate correct length", func(t *testing.T) {
		bytes, err := CryptoRandomBytes(20)
		require.NoError(t, err)
		assert.Len(t, bytes, 20)
	})

	t.Run("Generate unique values", func(t *testing.T) {
		bytes1, err := CryptoRandomBytes(20)
		require.NoError(t, err)

		bytes2, err := CryptoRandomBytes(20)
		require.NoError(t, err)

		assert.NotEqual(t, bytes1, bytes2, "Random bytes should not be identical")
	})
}

func TestNewCipher_EmptyKey(t *testing.T) {
	_, err := NewCipher("   ")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("test-encryption-key")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ciphertext, "v1:"))
	assert.NotContains(t, ciphertext, "abc")

	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "abc", plaintext)
}

func TestCipher_EncryptIsRandomized(t *testing.T) {
	c, err := NewCipher("test-encryption-key")
	require.NoError(t, err)

	first, err := c.Encrypt("same-token")
	require.NoError(t, err)
	second, err := c.Encrypt("same-token")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipher_EncryptEmpty(t *testing.T) {
	c, err := NewCipher("test-encryption-key")
	require.NoError(t, err)

	_, err = c.Encrypt("")
	assert.ErrorIs(t, err, ErrEmptyPlaintext)
}

func TestCipher_DecryptRejectsTampering(t *testing.T) {
	c, err := NewCipher("test-encryption-key")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("abc")
	require.NoError(t, err)

	tests := map[string]string{
		"no prefix":      strings.TrimPrefix(ciphertext, "v1:"),
		"bad base64":     "v1:!!!not-base64!!!",
		"too short":      "v1:AAAA",
		"flipped byte":   flipMiddleChar(ciphertext),
		"empty":          "",
		"prefix only":    "v1:",
		"other key data": mustEncrypt(t, "another-key", "abc"),
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(input)
			assert.ErrorIs(t, err, ErrInvalidCiphertext)
		})
	}
}

func TestCipher_LookupHash(t *testing.T) {
	c, err := NewCipher("test-encryption-key")
	require.NoError(t, err)
	other, err := NewCipher("another-key")
	require.NoError(t, err)

	h := c.LookupHash("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, h, c.LookupHash("abc"), "lookup hash must be deterministic")
	assert.NotEqual(t, h, c.LookupHash("abd"))
	assert.NotEqual(t, h, other.LookupHash("abc"), "lookup hash must be keyed")
}

func flipMiddleChar(s string) string {
	i := len(s) / 2
	replacement := byte('A')
	if s[i] == 'A' {
		replacement = 'B'
	}
	return s[:i] + string(replacement) + s[i+1:]
}

func mustEncrypt(t *testing.T, key, plaintext string) string {
	t.Helper()
	c, err := NewCipher(key)
	require.NoError(t, err)
	out, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	return out
}
