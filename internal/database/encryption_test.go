package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_DisabledPassesThrough(t *testing.T) {
	t.Setenv(encryptionEnabledEnvVar, "")
	enc, err := newEncryptor()
	require.NoError(t, err)
	assert.False(t, enc.enabled)

	out, err := enc.encryptIfEnabled("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestEncryptor_RoundTrip(t *testing.T) {
	t.Setenv(encryptionEnabledEnvVar, "true")
	t.Setenv(encryptionSecretEnvVar, "test-secret-with-enough-length")

	enc, err := newEncryptor()
	require.NoError(t, err)
	require.True(t, enc.enabled)

	ciphertext, err := enc.encryptIfEnabled("sensitive payload")
	require.NoError(t, err)
	assert.NotEqual(t, "sensitive payload", ciphertext)

	plaintext, err := enc.decryptIfEnabled(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sensitive payload", plaintext)
}

func TestEncryptor_ShortSecretRejected(t *testing.T) {
	t.Setenv(encryptionEnabledEnvVar, "true")
	t.Setenv(encryptionSecretEnvVar, "short")

	_, err := newEncryptor()
	assert.Error(t, err)
}

func TestEncryptor_LegacyPlaintextTolerated(t *testing.T) {
	t.Setenv(encryptionEnabledEnvVar, "true")
	t.Setenv(encryptionSecretEnvVar, "test-secret-with-enough-length")

	enc, err := newEncryptor()
	require.NoError(t, err)

	// Rows written before encryption was enabled come back unchanged.
	out, err := enc.decryptIfEnabled("plain old row")
	require.NoError(t, err)
	assert.Equal(t, "plain old row", out)
}

func TestEncryptor_EmptyString(t *testing.T) {
	t.Setenv(encryptionEnabledEnvVar, "true")
	t.Setenv(encryptionSecretEnvVar, "test-secret-with-enough-length")

	enc, err := newEncryptor()
	require.NoError(t, err)

	out, err := enc.encryptIfEnabled("")
	require.NoError(t, err)
	assert.Empty(t, out)
}
