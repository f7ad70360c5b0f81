package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// CodePrefix starts every generated invite and access code.
const CodePrefix = "fimai_"

// GenerateCode returns CodePrefix followed by 16 lowercase hex characters.
func GenerateCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return CodePrefix + hex.EncodeToString(buf), nil
}

// GenerateRandomString returns a hex-encoded random string of the given length.
func GenerateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	buf := make([]byte, (length+1)/2)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(buf)[:length], nil
}
