package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyLength(t *testing.T) {
	key := DeriveKey("hunter2")
	assert.Len(t, key, 32)
	assert.Equal(t, key, DeriveKey("hunter2"))
	assert.NotEqual(t, key, DeriveKey("hunter3"))
}

func TestInitEncryptionRejectsShortKey(t *testing.T) {
	assert.Error(t, InitEncryption([]byte("too short")))
}

func TestEncryptedStringRoundTrip(t *testing.T) {
	require.NoError(t, InitEncryption(DeriveKey("test-secret")))

	stored, err := EncryptedString("s3cr3t-credential").Value()
	require.NoError(t, err)
	require.IsType(t, "", stored)
	assert.NotContains(t, stored.(string), "s3cr3t")

	var out EncryptedString
	require.NoError(t, out.Scan(stored))
	assert.Equal(t, EncryptedString("s3cr3t-credential"), out)
}

func TestEncryptedStringEmptyPassthrough(t *testing.T) {
	require.NoError(t, InitEncryption(DeriveKey("test-secret")))

	stored, err := EncryptedString("").Value()
	require.NoError(t, err)
	assert.Equal(t, "", stored)

	var out EncryptedString
	require.NoError(t, out.Scan(""))
	assert.Equal(t, EncryptedString(""), out)
}

func TestEncryptedStringScanGarbage(t *testing.T) {
	require.NoError(t, InitEncryption(DeriveKey("test-secret")))

	var out EncryptedString
	assert.Error(t, out.Scan("not base64!!"))
	assert.Error(t, out.Scan("QQ==")) // valid base64, shorter than a nonce
	assert.Error(t, out.Scan(42))
}
