package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func TestEncryptionManager_RoundTrip(t *testing.T) {
	em, err := NewEncryptionManager(testKey)
	require.NoError(t, err)

	ciphertext, err := em.Encrypt([]byte("endpoints"))
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "endpoints")

	plaintext, err := em.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "endpoints", string(plaintext))
}

func TestEncryptionManager_Decrypt_Tampered(t *testing.T) {
	em, err := NewEncryptionManager(testKey)
	require.NoError(t, err)

	ciphertext, err := em.Encrypt([]byte("endpoints"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = em.Decrypt(ciphertext)
	assert.Error(t, err)

	_, err = em.Decrypt([]byte("short"))
	assert.Error(t, err)
}

func TestNewEncryptionManager_InvalidKeySize(t *testing.T) {
	_, err := NewEncryptionManager([]byte("too-short"))
	assert.EqualError(t, err, "invalid AES key size: got 9 bytes, want 32 bytes")
}

func TestCBCCipher_RoundTrip(t *testing.T) {
	c, err := NewCBCCipher(testKey)
	require.NoError(t, err)

	for _, msg := range []string{"", "x", "exactly-16-bytes", `{"id":"1","host":"vpn.example.com"}`} {
		ciphertext, err := c.Encrypt([]byte(msg))
		require.NoError(t, err)
		assert.Zero(t, len(ciphertext)%16)

		plaintext, err := c.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, msg, string(plaintext))
	}
}

func TestCBCCipher_Decrypt_WrongKey(t *testing.T) {
	c, err := NewCBCCipher(testKey)
	require.NoError(t, err)
	other, err := NewCBCCipher(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte(`{"id":"1"}`))
	require.NoError(t, err)

	// A wrong key almost always breaks the padding; when it does not, the
	// plaintext differs.
	plaintext, err := other.Decrypt(ciphertext)
	if err == nil {
		assert.NotEqual(t, `{"id":"1"}`, string(plaintext))
	}
}

func TestCBCCipher_Decrypt_Malformed(t *testing.T) {
	c, err := NewCBCCipher(testKey)
	require.NoError(t, err)

	_, err = c.Decrypt(make([]byte, 16))
	assert.Error(t, err)

	_, err = c.Decrypt(make([]byte, 33))
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	a1, err := DeriveKey(testKey, "label-a", nil, 32)
	require.NoError(t, err)
	a2, err := DeriveKey(testKey, "label-a", nil, 32)
	require.NoError(t, err)
	b, err := DeriveKey(testKey, "label-b", nil, 32)
	require.NoError(t, err)
	salted, err := DeriveKey(testKey, "label-a", []byte("salt"), 32)
	require.NoError(t, err)

	assert.Len(t, a1, 32)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.NotEqual(t, a1, salted)

	_, err = DeriveKey(nil, "label-a", nil, 32)
	assert.Error(t, err)
}
