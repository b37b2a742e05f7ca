// Package crypto seals small secrets (per-site IndexNow keys) for storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	ErrInvalidKey    = errors.New("encryption key must be 32 bytes for AES-256")
	ErrInvalidCipher = errors.New("invalid ciphertext")
)

// Encryptor provides AES-256-GCM encryption bound to an owner id.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates a new Encryptor with the given key.
// The key must be exactly 32 bytes for AES-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// Seal encrypts plaintext for ownerID and returns base64(nonce || ciphertext || tag).
// The owner id is authenticated, so a value sealed for one site will not open for another.
func (e *Encryptor) Seal(plaintext, ownerID string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(ownerID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. The ownerID must match the one used to seal.
func (e *Encryptor) Open(ciphertext, ownerID string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+e.gcm.Overhead()+1 {
		return "", ErrInvalidCipher
	}

	nonce, body := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, body, []byte(ownerID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCipher, err)
	}

	return string(plaintext), nil
}
