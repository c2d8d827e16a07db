package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer provides the Encrypt/Decrypt capability the token protocol
// consumes. Keys are arbitrary strings, stretched to the AEAD key size.
type Sealer struct{}

func NewSealer() *Sealer {
	return &Sealer{}
}

func aead(key string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(key))
	return chacha20poly1305.NewX(sum[:])
}

// Encrypt seals text under key and returns a base64url string with the
// nonce prefixed.
func (s *Sealer) Encrypt(text, key string) (string, error) {
	a, err := aead(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, a.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := a.Seal(nonce, nonce, []byte(text), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A wrong key, truncated input or corrupt
// ciphertext returns an error; callers treat that as a validation
// failure, never as a crash.
func (s *Sealer) Decrypt(cipherText, key string) (string, error) {
	a, err := aead(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(cipherText)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if len(raw) < a.NonceSize() {
		return "", fmt.Errorf("token too short")
	}
	nonce, sealed := raw[:a.NonceSize()], raw[a.NonceSize():]
	plain, err := a.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open token: %w", err)
	}
	return string(plain), nil
}
