// Package cipher seals documents under a fresh symmetric key per call.
// Keys are never reused across documents; the scheme is authenticated, so
// tampering is detected at decrypt time rather than producing garbage.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key is a single-use symmetric key.
type Key []byte

var (
	// ErrEncrypt is returned when key or nonce material cannot be drawn
	// from the system RNG.
	ErrEncrypt = errors.New("cipher: encryption failed")
	// ErrIntegrity is returned when authentication fails on decrypt:
	// the ciphertext was tampered with or the key is wrong.
	ErrIntegrity = errors.New("cipher: integrity check failed")
)

// Encrypt seals plaintext under a freshly generated key with AES-256-GCM.
// Wire layout: nonce || ciphertext+tag.
func Encrypt(plaintext []byte) ([]byte, Key, error) {
	key := make(Key, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, nil, fmt.Errorf("%w: key gen: %v", ErrEncrypt, err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: nonce gen: %v", ErrEncrypt, err)
	}
	ct := gcm.Seal(nonce, nonce, plaintext, nil)
	return ct, key, nil
}

// Decrypt opens a blob produced by Encrypt. Authentication failure is a hard
// error; no partial plaintext is ever returned.
func Decrypt(blob []byte, key Key) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: blob shorter than nonce", ErrIntegrity)
	}
	nonce, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return pt, nil
}

func newGCM(key Key) (stdcipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrIntegrity, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	return stdcipher.NewGCM(block)
}
