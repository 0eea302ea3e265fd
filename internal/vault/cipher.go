package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens byte payloads with XChaCha20-Poly1305. The sealed
// form is base64 so it can live in the shared store and travel as an opaque
// string (confirm tokens are sealed TokenPayloads).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("vault: key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plain with a fresh random nonce and returns
// base64(nonce || ciphertext).
func (c *Cipher) Seal(plain []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Any tampering, truncation, or
// wrong-key input fails authentication.
func (c *Cipher) Open(sealed string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	ns := c.aead.NonceSize()
	if len(raw) <= ns {
		return nil, errors.New("vault: sealed value too short")
	}
	return c.aead.Open(nil, raw[:ns], raw[ns:], nil)
}
