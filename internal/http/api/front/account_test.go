package front

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fimai/fimai-chat/internal/mailer"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/pquerna/otp/totp"
)

func (e *testEnv) createUserWithPassword(t *testing.T, name, password string) (models.User, string) {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := models.User{Username: name, Password: hash, Role: models.RoleUser, Active: true}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := security.GenerateToken(testSecret, user.ID, user.Username, user.Role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return user, token
}

func TestUserSettingsDefaultsAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createUser(t, "dora", models.RoleUser)

	w := env.do(http.MethodGet, "/api/settings", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["theme"] != "system" || body["stream_enabled"] != true {
		t.Fatalf("unexpected defaults %v", body)
	}

	w = env.do(http.MethodPut, "/api/settings", token, map[string]any{"theme": "Dark", "system_prompt": "be brief"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	for _, bad := range []map[string]any{
		{"theme": "neon"},
		{"default_model_id": 424242},
		{"language": ""},
	} {
		if w := env.do(http.MethodPut, "/api/settings", token, bad); w.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d: %s", bad, w.Code, w.Body.String())
		}
	}

	body = decodeBody(t, env.do(http.MethodGet, "/api/settings", token, nil))
	if body["theme"] != "dark" || body["system_prompt"] != "be brief" {
		t.Fatalf("settings not persisted: %v", body)
	}

	_, guestToken := env.createUser(t, "visitor", models.RoleGuest)
	if w := env.do(http.MethodPut, "/api/settings", guestToken, map[string]any{"theme": "dark"}); w.Code != http.StatusForbidden {
		t.Fatalf("guest: expected 403, got %d", w.Code)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createUserWithPassword(t, "erin", "old-password")

	w := env.do(http.MethodPut, "/api/profile/password", token, map[string]string{"old_password": "nope-nope", "new_password": "new-password"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong old password: expected 401, got %d", w.Code)
	}
	w = env.do(http.MethodPut, "/api/profile/password", token, map[string]string{"old_password": "old-password", "new_password": "short"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", w.Code)
	}
	w = env.do(http.MethodPut, "/api/profile/password", token, map[string]string{"old_password": "old-password", "new_password": "new-password"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if w := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "erin", "password": "old-password"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("old password still works: %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "erin", "password": "new-password"}); w.Code != http.StatusOK {
		t.Fatalf("new password rejected: %d %s", w.Code, w.Body.String())
	}
}

func TestTOTPEnrollmentAndLogin(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createUserWithPassword(t, "fay", "fay-password")

	if body := decodeBody(t, env.do(http.MethodGet, "/api/mfa/status", token, nil)); body["totp_enabled"] != false {
		t.Fatalf("expected totp disabled, got %v", body)
	}

	w := env.do(http.MethodPost, "/api/mfa/totp/confirm", token, map[string]string{"code": "123456"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("confirm without prepare: expected 400, got %d", w.Code)
	}

	w = env.do(http.MethodPost, "/api/mfa/totp/prepare", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("prepare: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	secret, _ := decodeBody(t, w)["secret"].(string)
	if secret == "" {
		t.Fatalf("missing secret in %s", w.Body.String())
	}

	if w := env.do(http.MethodPost, "/api/mfa/totp/confirm", token, map[string]string{"code": "abc"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad code: expected 401, got %d", w.Code)
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if w := env.do(http.MethodPost, "/api/mfa/totp/confirm", token, map[string]string{"code": code}); w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, env.do(http.MethodGet, "/api/mfa/status", token, nil)); body["totp_enabled"] != true {
		t.Fatalf("expected totp enabled, got %v", body)
	}

	if w := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "fay", "password": "fay-password"}); w.Code != http.StatusForbidden {
		t.Fatalf("password-only login: expected 403, got %d", w.Code)
	}
	w = env.do(http.MethodPost, "/api/auth/login/totp", "", map[string]string{"username": "fay", "password": "wrong-password", "code": code})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("totp login with wrong password: expected 401, got %d", w.Code)
	}
	w = env.do(http.MethodPost, "/api/auth/login/totp", "", map[string]string{"username": "fay", "password": "fay-password", "code": code})
	if w.Code != http.StatusOK {
		t.Fatalf("totp login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if tok, _ := decodeBody(t, w)["token"].(string); tok == "" {
		t.Fatalf("missing token in %s", w.Body.String())
	}

	if w := env.do(http.MethodPost, "/api/mfa/totp/disable", token, nil); w.Code != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, env.do(http.MethodGet, "/api/mfa/status", token, nil)); body["totp_enabled"] != false {
		t.Fatalf("expected totp disabled after disable, got %v", body)
	}
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *captureMailer) Enabled() bool { return true }

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

func resetTokenFrom(t *testing.T, body string) string {
	t.Helper()
	idx := strings.Index(body, "token=")
	if idx < 0 {
		t.Fatalf("no reset link in %q", body)
	}
	raw := body[idx+len("token="):]
	if end := strings.IndexAny(raw, "\r\n"); end >= 0 {
		raw = raw[:end]
	}
	token, err := url.QueryUnescape(raw)
	if err != nil {
		t.Fatalf("unescape token: %v", err)
	}
	return token
}

func TestForgotAndResetPassword(t *testing.T) {
	mail := &captureMailer{}
	env := newTestEnv(t, func(d *Deps) {
		d.Mailer = mail
		d.PublicURL = "https://chat.example.com"
	})
	user, _ := env.createUserWithPassword(t, "gail", "gail-password")
	email := "gail@example.com"
	if err := env.db.Model(&user).Update("email", email).Error; err != nil {
		t.Fatalf("set email: %v", err)
	}

	w := env.do(http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "nobody@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("unknown email: expected 200, got %d", w.Code)
	}
	if len(mail.messages()) != 0 {
		t.Fatalf("mail sent for unknown address")
	}

	w = env.do(http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "  GAIL@example.com "})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	sent := mail.messages()
	if len(sent) != 1 || sent[0].To != email {
		t.Fatalf("unexpected mail %+v", sent)
	}
	if !strings.Contains(sent[0].Body, "https://chat.example.com/reset-password?token=") {
		t.Fatalf("reset link missing public url: %q", sent[0].Body)
	}
	token := resetTokenFrom(t, sent[0].Body)

	if w := env.do(http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "new_password": "short"}); w.Code != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "new_password": "brand-new-password"}); w.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "new_password": "another-password"}); w.Code != http.StatusBadRequest {
		t.Fatalf("token reuse: expected 400, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "gail", "password": "brand-new-password"}); w.Code != http.StatusOK {
		t.Fatalf("login with reset password: %d %s", w.Code, w.Body.String())
	}
}
