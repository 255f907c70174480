// Package pipeline implements the two-stage archive transform: zstd
// compression followed by AES-256-GCM encryption on write, with the exact
// mirror order on read. Every artifact starts with a small header recording
// which stages were applied, so the decode side never guesses.
//
// Artifact layout:
//
//	[4]byte magic "LBA1"
//	[1]byte flags (bit 0: compressed, bit 1: encrypted)
//	payload
//
// When the encrypted flag is set, payload is nonce || ciphertext as produced
// by GCM Seal; a fresh random nonce per artifact, never reused.
package pipeline

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

var magic = []byte("LBA1")

const (
	flagCompressed byte = 1 << 0
	flagEncrypted  byte = 1 << 1
)

// ErrKeyRequired is returned when encryption is requested but the codec was
// built without a key. There is no fallback key: an operator who enables
// encryption without supplying a secret gets a hard failure, not a weak
// default.
var ErrKeyRequired = errors.New("pipeline: encryption requested but no key configured")

// ErrMalformed is returned when an artifact is too short, has a bad magic,
// or carries an encrypted payload shorter than a nonce.
var ErrMalformed = errors.New("pipeline: malformed artifact")

// Info describes which stages an artifact went through, as recorded in its
// header.
type Info struct {
	Compressed bool
	Encrypted  bool
}

// Codec encodes and decodes backup artifacts. The zero value is unusable;
// construct with New. A Codec is safe for concurrent use.
type Codec struct {
	key []byte // 32 bytes, or nil when encryption is not configured
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a Codec. key must be exactly 32 bytes (AES-256) or empty when
// no backup config uses encryption.
func New(key []byte) (*Codec, error) {
	if len(key) != 0 && len(key) != 32 {
		return nil, fmt.Errorf("pipeline: key must be exactly 32 bytes, got %d", len(key))
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: creating zstd decoder: %w", err)
	}

	c := &Codec{enc: enc, dec: dec}
	if len(key) == 32 {
		c.key = make([]byte, 32)
		copy(c.key, key)
	}
	return c, nil
}

// Encode transforms plaintext into an artifact, applying compression first
// and encryption second when the respective flags are set.
func (c *Codec) Encode(plain []byte, compress, encrypt bool) ([]byte, error) {
	payload := plain
	var flags byte

	if compress {
		payload = c.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
		flags |= flagCompressed
	}

	if encrypt {
		sealed, err := c.seal(payload)
		if err != nil {
			return nil, err
		}
		payload = sealed
		flags |= flagEncrypted
	}

	out := make([]byte, 0, len(magic)+1+len(payload))
	out = append(out, magic...)
	out = append(out, flags)
	out = append(out, payload...)
	return out, nil
}

// Decode reverses Encode: decryption first, decompression second, exactly
// mirroring the write order. The returned Info reflects the header flags.
func (c *Codec) Decode(artifact []byte) ([]byte, Info, error) {
	payload, info, err := c.split(artifact)
	if err != nil {
		return nil, Info{}, err
	}

	if info.Encrypted {
		payload, err = c.open(payload)
		if err != nil {
			return nil, info, err
		}
	}

	if info.Compressed {
		payload, err = c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, info, fmt.Errorf("pipeline: decompressing: %w", err)
		}
	}

	return payload, info, nil
}

// Inspect returns the stage flags of an artifact without decoding it.
// The verifier uses this to decide whether a decryptability check applies.
func (c *Codec) Inspect(artifact []byte) (Info, error) {
	_, info, err := c.split(artifact)
	return info, err
}

// split validates the header and returns the raw payload plus stage info.
func (c *Codec) split(artifact []byte) ([]byte, Info, error) {
	if len(artifact) < len(magic)+1 || !bytes.Equal(artifact[:len(magic)], magic) {
		return nil, Info{}, ErrMalformed
	}
	flags := artifact[len(magic)]
	return artifact[len(magic)+1:], Info{
		Compressed: flags&flagCompressed != 0,
		Encrypted:  flags&flagEncrypted != 0,
	}, nil
}

// seal encrypts payload with AES-256-GCM under a fresh random nonce and
// prefixes the nonce to the ciphertext.
func (c *Codec) seal(payload []byte) ([]byte, error) {
	if c.key == nil {
		return nil, ErrKeyRequired
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("pipeline: creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pipeline: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("pipeline: generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, payload, nil), nil
}

// open decrypts a nonce-prefixed GCM payload.
func (c *Codec) open(payload []byte) ([]byte, error) {
	if c.key == nil {
		return nil, ErrKeyRequired
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("pipeline: creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pipeline: creating GCM: %w", err)
	}

	if len(payload) < gcm.NonceSize() {
		return nil, ErrMalformed
	}
	nonce, ciphertext := payload[:gcm.NonceSize()], payload[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decrypting: %w", err)
	}
	return plain, nil
}
