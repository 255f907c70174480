package db

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// encryptionKey holds the AES-256 key shared by every EncryptedString
// column. Set once at startup via InitEncryption.
var encryptionKey []byte

// DeriveKey stretches the operator's master secret into a 32-byte AES-256
// key via SHA-256. The same derivation feeds both the artifact pipeline and
// credentials at rest, so a single --secret-key covers both.
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// InitEncryption installs the key used for encrypted columns. key must be
// 32 bytes; use DeriveKey to obtain one from a passphrase.
func InitEncryption(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("db: encryption key must be 32 bytes, got %d", len(key))
	}
	encryptionKey = append([]byte(nil), key...)
	return nil
}

// aead builds the AES-256-GCM cipher for the installed key.
func aead() (cipher.AEAD, error) {
	if encryptionKey == nil {
		return nil, errors.New("db: encryption key not set, call InitEncryption at startup")
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("db: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptedString stores its value AES-256-GCM encrypted. GORM sees an
// ordinary string column holding base64(nonce || ciphertext); Go code sees
// plaintext. Used for destination credentials and webhook secrets.
//
// The empty string round-trips as an empty column, unencrypted.
type EncryptedString string

// Value seals the plaintext under a fresh random nonce. Implements
// driver.Valuer for writes.
func (e EncryptedString) Value() (driver.Value, error) {
	if e == "" {
		return "", nil
	}
	gcm, err := aead()
	if err != nil {
		return nil, err
	}

	// GCM is only safe with a nonce never repeated under the same key.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("db: nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(e), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Scan opens a sealed column value back into plaintext. Implements
// sql.Scanner for reads.
func (e *EncryptedString) Scan(value interface{}) error {
	if value == nil {
		*e = ""
		return nil
	}
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("db: EncryptedString: expected string, got %T", value)
	}
	if str == "" {
		*e = ""
		return nil
	}

	gcm, err := aead()
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return fmt.Errorf("db: decode sealed value: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return errors.New("db: sealed value shorter than nonce")
	}

	plaintext, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return fmt.Errorf("db: open sealed value: %w", err)
	}
	*e = EncryptedString(plaintext)
	return nil
}
