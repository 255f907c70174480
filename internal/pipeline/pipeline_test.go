package pipeline

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, err := New([]byte("too short"))
	require.Error(t, err)

	_, err = New(nil)
	require.NoError(t, err)

	_, err = New(testKey(t))
	require.NoError(t, err)
}

func TestRoundTrip(t *testing.T) {
	codec, err := New(testKey(t))
	require.NoError(t, err)

	plain := []byte(`{"collections":{"settings":[{"key":"smtp.host"}]}}`)

	cases := []struct {
		name     string
		compress bool
		encrypt  bool
	}{
		{"plain", false, false},
		{"compressed", true, false},
		{"encrypted", false, true},
		{"compressed_encrypted", true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			artifact, err := codec.Encode(plain, tc.compress, tc.encrypt)
			require.NoError(t, err)

			info, err := codec.Inspect(artifact)
			require.NoError(t, err)
			assert.Equal(t, tc.compress, info.Compressed)
			assert.Equal(t, tc.encrypt, info.Encrypted)

			out, outInfo, err := codec.Decode(artifact)
			require.NoError(t, err)
			assert.Equal(t, info, outInfo)
			assert.Equal(t, plain, out)
		})
	}
}

func TestCompressionShrinksRepetitiveInput(t *testing.T) {
	codec, err := New(nil)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("backup catalog record "), 2000)
	artifact, err := codec.Encode(plain, true, false)
	require.NoError(t, err)
	assert.Less(t, len(artifact), len(plain))
}

func TestEncryptWithoutKey(t *testing.T) {
	codec, err := New(nil)
	require.NoError(t, err)

	_, err = codec.Encode([]byte("data"), false, true)
	require.ErrorIs(t, err, ErrKeyRequired)
}

func TestDecodeWrongKeyFails(t *testing.T) {
	enc, err := New(testKey(t))
	require.NoError(t, err)
	dec, err := New(testKey(t))
	require.NoError(t, err)

	artifact, err := enc.Encode([]byte("secret payload"), true, true)
	require.NoError(t, err)

	_, _, err = dec.Decode(artifact)
	require.Error(t, err)
}

func TestDecodeTamperedArtifactFails(t *testing.T) {
	key := testKey(t)
	codec, err := New(key)
	require.NoError(t, err)

	artifact, err := codec.Encode([]byte("integrity matters"), false, true)
	require.NoError(t, err)

	// Flip one payload bit; GCM authentication must reject it.
	artifact[len(artifact)-1] ^= 0x01
	_, _, err = codec.Decode(artifact)
	require.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	codec, err := New(nil)
	require.NoError(t, err)

	for _, artifact := range [][]byte{
		nil,
		{0x00},
		[]byte("LBA"),
		[]byte("XXXX\x00payload"),
	} {
		_, _, err := codec.Decode(artifact)
		assert.ErrorIs(t, err, ErrMalformed)
	}
}
