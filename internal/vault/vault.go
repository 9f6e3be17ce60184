// Package vault encrypts provider credentials and long-lived tokens at rest.
//
// Payloads are sealed with AES-256-GCM; the random nonce is prepended to the
// ciphertext and the whole blob is base64-encoded into an opaque string. The
// GCM auth tag makes tampering detectable: a modified blob fails decryption
// instead of yielding garbage credentials.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// KeySize is the required AES key length in bytes
const KeySize = 32

// Vault performs authenticated encryption of credential material
type Vault struct {
	aead cipher.AEAD
}

// New creates a vault from a raw 32-byte key
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// NewFromHex creates a vault from a hex-encoded 32-byte key
func NewFromHex(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault key: %w", err)
	}
	return New(key)
}

// EncryptString seals a single value into an opaque string
func (v *Vault) EncryptString(plaintext string) (string, error) {
	return v.seal([]byte(plaintext))
}

// DecryptString opens an opaque string produced by EncryptString
func (v *Vault) DecryptString(opaque string) (string, error) {
	plaintext, err := v.open(opaque)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptJSON marshals a struct and seals it into an opaque string
func (v *Vault) EncryptJSON(value interface{}) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return v.seal(plaintext)
}

// DecryptJSON opens an opaque string and unmarshals it into out
func (v *Vault) DecryptJSON(opaque string, out interface{}) error {
	plaintext, err := v.open(opaque)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

// seal encrypts plaintext with a fresh nonce and encodes nonce||ciphertext
func (v *Vault) seal(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open decodes an opaque string and decrypts it, verifying the auth tag
func (v *Vault) open(opaque string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("payload too short: %d bytes", len(sealed))
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	return plaintext, nil
}
