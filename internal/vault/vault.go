// Package vault is the encryption boundary for session credentials at rest.
// It holds no state and does no I/O; key material durability is the caller's
// problem.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/gatherly/server/internal/model"
)

const keySize = 32 // AES-256

// Encrypt seals plaintext with a freshly generated key and nonce. The nonce
// is prepended to the returned blob so decryption is self-describing. Every
// call produces a distinct key and ciphertext, even for identical input.
func Encrypt(plaintext []byte) (blob []byte, keyMaterial []byte, err error) {
	keyMaterial = make([]byte, keySize)
	if _, err := rand.Read(keyMaterial); err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	blob = aead.Seal(nonce, nonce, plaintext, nil)
	return blob, keyMaterial, nil
}

// Decrypt opens a blob produced by Encrypt. Any tampering, truncation, or key
// mismatch yields model.ErrCrypto; partial plaintext is never returned.
func Decrypt(blob []byte, keyMaterial []byte) ([]byte, error) {
	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, err
	}

	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: blob shorter than nonce", model.ErrCrypto)
	}

	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCrypto, err)
	}
	return plaintext, nil
}

func newAEAD(keyMaterial []byte) (cipher.AEAD, error) {
	if len(keyMaterial) != keySize {
		return nil, fmt.Errorf("%w: key material must be %d bytes, got %d", model.ErrCrypto, keySize, len(keyMaterial))
	}
	block, err := aes.NewCipher(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCrypto, err)
	}
	return aead, nil
}
