package security

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestGenerateCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^fimai_[0-9a-f]{16}$`)
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("unexpected code format %q", code)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}
}

func TestGenerateRandomStringLength(t *testing.T) {
	for _, n := range []int{1, 7, 32} {
		s, err := GenerateRandomString(n)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(s) != n {
			t.Fatalf("expected length %d, got %d", n, len(s))
		}
	}
}

func TestTokenRoundTripCarriesRole(t *testing.T) {
	token, err := GenerateToken("secret", 42, "alice", "ADMIN", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Role != "ADMIN" || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseToken("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	token, err := GenerateToken("secret", 1, "bob", "USER", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseToken("secret", token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestFieldCipherRoundTrip(t *testing.T) {
	c, err := NewFieldCipher("an encryption key")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	enc, err := c.Encrypt("sk-upstream-key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(enc, encryptedPrefix) || strings.Contains(enc, "sk-upstream-key") {
		t.Fatalf("value not encrypted: %q", enc)
	}
	dec, err := c.Decrypt(enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if dec != "sk-upstream-key" {
		t.Fatalf("expected original value, got %q", dec)
	}

	other, _ := NewFieldCipher("another key")
	if _, err := other.Decrypt(enc); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt with wrong key, got %v", err)
	}
}

func TestNilFieldCipherPassesThrough(t *testing.T) {
	c, err := NewFieldCipher("")
	if err != nil || c != nil {
		t.Fatalf("expected nil cipher, got %v %v", c, err)
	}
	enc, _ := c.Encrypt("plain")
	if enc != "plain" {
		t.Fatalf("expected passthrough, got %q", enc)
	}
	dec, _ := c.Decrypt("plain")
	if dec != "plain" {
		t.Fatalf("expected passthrough, got %q", dec)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch")
	}
}

func TestValidateTOTP(t *testing.T) {
	enrollment, err := NewTOTPEnrollment("fimai", "alice")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if !ValidateTOTP(code, enrollment.Secret) {
		t.Fatalf("expected code to validate")
	}
	if ValidateTOTP("", enrollment.Secret) {
		t.Fatalf("empty code must not validate")
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("sk-1234567890"); got != "sk-1...7890" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := ValidatePassword("long enough"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
