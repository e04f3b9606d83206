package port

// Encryptor encrypts and decrypts credential material at rest. Services and
// engine adapters depend on this interface, never on a concrete cipher.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
