package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// encryptedPrefix marks values produced by FieldCipher.Encrypt.
const encryptedPrefix = "enc:v1:"

// ErrDecrypt indicates a value could not be decrypted with the configured key.
var ErrDecrypt = errors.New("security: decrypt failed")

// FieldCipher encrypts short secrets stored in database columns.
// A nil *FieldCipher stores values as given.
type FieldCipher struct {
	aead interface {
		NonceSize() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewFieldCipher derives an XChaCha20-Poly1305 key from secret.
// An empty secret returns a nil cipher.
func NewFieldCipher(secret string) (*FieldCipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("fimai field encryption"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("security: init cipher: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// Encrypt returns the encoded ciphertext of plaintext.
func (f *FieldCipher) Encrypt(plaintext string) (string, error) {
	if f == nil || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce: %w", err)
	}
	sealed := f.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the encrypted prefix are returned unchanged.
func (f *FieldCipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	if f == nil {
		return "", ErrDecrypt
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", ErrDecrypt
	}
	nonceSize := f.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrDecrypt
	}
	plain, err := f.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// MaskSecret obscures a secret for display, keeping a few characters at each end.
func MaskSecret(secret string) string {
	switch n := len(secret); {
	case n > 8:
		return secret[:4] + "..." + secret[n-4:]
	case n > 4:
		return secret[:2] + "..." + secret[n-2:]
	case n > 2:
		return secret[:1] + "..." + secret[n-1:]
	default:
		return secret
	}
}
