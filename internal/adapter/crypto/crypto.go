package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// AESEncryptor provides AES-256-GCM encryption and decryption of credential
// material at rest. It is the only place plaintext secrets exist outside of
// transit. There is no fallback path: if the cipher cannot be constructed
// or a seal fails, the operation fails rather than storing plaintext.
type AESEncryptor struct {
	gcm cipher.AEAD
}

// NewAESEncryptor derives a 256-bit key from the configured secret via
// SHA-256, so secrets shorter or longer than 32 bytes are handled
// uniformly, and builds the GCM cipher once at process start.
func NewAESEncryptor(secret string) (*AESEncryptor, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret must not be empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &AESEncryptor{gcm: gcm}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM. Returns nonce || ciphertext.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext (nonce || ciphertext) using AES-256-GCM.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return e.gcm.Open(nil, nonce, ct, nil)
}
