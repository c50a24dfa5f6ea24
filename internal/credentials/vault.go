package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const saltSize = 16

// Vault seals token material before it is handed to the store, so OAuth
// tokens are never persisted in plaintext. The key is derived from a
// configured secret with argon2id; each seal uses a fresh salt and nonce.
type Vault struct {
	Secret string
}

func (v Vault) Seal(plaintext []byte) ([]byte, error) {
	if v.Secret == "" {
		return nil, fmt.Errorf("vault secret is required")
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	gcm, err := v.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return append(append(salt, nonce...), ciphertext...), nil
}

func (v Vault) Open(blob []byte) ([]byte, error) {
	if v.Secret == "" {
		return nil, fmt.Errorf("vault secret is required")
	}
	if len(blob) < saltSize {
		return nil, fmt.Errorf("invalid sealed blob")
	}
	salt := blob[:saltSize]
	gcm, err := v.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(blob) < saltSize+gcm.NonceSize() {
		return nil, fmt.Errorf("invalid sealed blob")
	}
	nonce := blob[saltSize : saltSize+gcm.NonceSize()]
	ciphertext := blob[saltSize+gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed blob: %w", err)
	}
	return plaintext, nil
}

func (v Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(v.Secret), salt, 3, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}
