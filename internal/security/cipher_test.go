package security

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipherFromMaterial(strings.Repeat("ab", 32))
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)
	for _, in := range []string{"a@b.co", "", "ünïcødé@example.com"} {
		ct, err := c.Encrypt(in)
		require.NoError(t, err)
		out, err := c.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestCipher_FreshNoncePerCall(t *testing.T) {
	c := newTestCipher(t)
	a, err := c.Encrypt("a@b.co")
	require.NoError(t, err)
	b, err := c.Encrypt("a@b.co")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_DecryptFailures(t *testing.T) {
	c := newTestCipher(t)
	good, err := c.Encrypt("a@b.co")
	require.NoError(t, err)
	raw, _ := base64.URLEncoding.DecodeString(good)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.URLEncoding.EncodeToString(raw)

	other, err := NewCipherFromMaterial("a different passphrase")
	require.NoError(t, err)

	tests := []struct {
		name   string
		cipher *Cipher
		input  string
	}{
		{"tampered", c, tampered},
		{"truncated", c, base64.URLEncoding.EncodeToString(raw[:10])},
		{"bad encoding", c, "!!!not-base64!!!"},
		{"wrong key", other, good},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cipher.Decrypt(tt.input)
			assert.True(t, errors.Is(err, ErrDecrypt), "got %v", err)
		})
	}
}

func TestParseKey(t *testing.T) {
	hexKey := strings.Repeat("0f", 32)
	k, err := ParseKey(hexKey)
	require.NoError(t, err)
	assert.Len(t, k, KeySize)
	assert.Equal(t, byte(0x0f), k[0])

	b64 := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	k, err = ParseKey(b64)
	require.NoError(t, err)
	assert.Equal(t, []byte(strings.Repeat("k", 32)), k)

	k1, err := ParseKey("correct horse battery staple")
	require.NoError(t, err)
	k2, err := ParseKey("correct horse battery staple")
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2, "derivation must be deterministic")

	_, err = ParseKey("   ")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestNewCipher_RejectsShortKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
}

func TestGenerateKey_Parses(t *testing.T) {
	k, err := ParseKey(GenerateKey())
	require.NoError(t, err)
	assert.Len(t, k, KeySize)
}
