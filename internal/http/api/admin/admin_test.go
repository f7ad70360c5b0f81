package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fimai/fimai-chat/internal/catalog"
	"github.com/fimai/fimai-chat/internal/codes"
	"github.com/fimai/fimai-chat/internal/db/dbtest"
	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/fimai/fimai-chat/internal/upstream"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const adminSecret = "admin-test-secret-0123456789abcdef"

type adminEnv struct {
	db     *gorm.DB
	router *gin.Engine
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := dbtest.Open(t)
	cat := catalog.New(conn, kv.NewMemoryStore(), nil, upstream.NewClient(time.Second, 5*time.Second), time.Minute)
	r := gin.New()
	RegisterAdminRoutes(r, Deps{
		DB:        conn,
		JWTSecret: adminSecret,
		Codes:     codes.NewService(conn, "BOOT"),
		Gate:      permission.NewGate(conn, cat),
		Catalog:   cat,
	})
	return &adminEnv{db: conn, router: r}
}

func (e *adminEnv) user(t *testing.T, name, role string) (models.User, string) {
	t.Helper()
	user := models.User{Username: name, Password: "x", Role: role, Active: true}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := security.GenerateToken(adminSecret, user.ID, user.Username, user.Role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return user, token
}

func (e *adminEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := newAdminEnv(t)
	_, userToken := env.user(t, "alice", models.RoleUser)
	_, adminToken := env.user(t, "root", models.RoleAdmin)

	if w := env.do(http.MethodGet, "/api/admin/users", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/admin/users", userToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for USER, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/admin/users", adminToken, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for ADMIN, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthzIsPublic(t *testing.T) {
	env := newAdminEnv(t)
	w := env.do(http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected healthz response %d: %s", w.Code, w.Body.String())
	}
}

func TestProviderAndModelLifecycle(t *testing.T) {
	env := newAdminEnv(t)
	_, token := env.user(t, "root", models.RoleAdmin)

	w := env.do(http.MethodPost, "/api/admin/providers", token, map[string]any{
		"name":       "openai",
		"base_url":   "https://api.example.com/v1",
		"api_key":    "sk-abcdefghijklmnop",
		"is_enabled": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "sk-abcdefghijklmnop") {
		t.Fatalf("api key must be masked: %s", w.Body.String())
	}
	var provider catalog.ProviderView
	if err := json.Unmarshal(w.Body.Bytes(), &provider); err != nil {
		t.Fatalf("decode provider: %v", err)
	}

	w = env.do(http.MethodPost, "/api/admin/providers", token, map[string]any{
		"name":     "openai",
		"base_url": "https://other.example.com/v1",
		"api_key":  "sk-x",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected duplicate provider 409, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodPost, "/api/admin/models", token, map[string]any{
		"provider_id": provider.ID,
		"model_id":    "gpt-4o",
		"name":        "GPT-4o",
		"is_enabled":  true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodGet, fmt.Sprintf("/api/admin/models?provider_id=%d", provider.ID), token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"model_id":"gpt-4o"`) {
		t.Fatalf("unexpected model list %d: %s", w.Code, w.Body.String())
	}

	if w = env.do(http.MethodDelete, fmt.Sprintf("/api/admin/providers/%d", provider.ID), token, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var count int64
	env.db.Model(&models.Model{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected provider models removed, got %d", count)
	}
	if w = env.do(http.MethodGet, fmt.Sprintf("/api/admin/providers/%d", provider.ID), token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSyncModelsImportsDisabledModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`)
	}))
	defer srv.Close()

	env := newAdminEnv(t)
	_, token := env.user(t, "root", models.RoleAdmin)
	provider := models.Provider{Name: "local", BaseURL: srv.URL, APIKey: "k", IsEnabled: true}
	if err := env.db.Create(&provider).Error; err != nil {
		t.Fatalf("create provider: %v", err)
	}

	w := env.do(http.MethodPost, fmt.Sprintf("/api/admin/providers/%d/sync-models", provider.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rows []models.Model
	if err := env.db.Order("model_id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load models: %v", err)
	}
	if len(rows) != 2 || rows[0].IsEnabled || rows[1].IsEnabled {
		t.Fatalf("expected two disabled models, got %+v", rows)
	}
}

func TestUserPermissionUpdateAndReset(t *testing.T) {
	env := newAdminEnv(t)
	_, token := env.user(t, "root", models.RoleAdmin)
	alice, _ := env.user(t, "alice", models.RoleUser)
	perm := models.DefaultPermission(alice.ID, time.Now().UTC())
	perm.TokenUsed = 500
	if err := env.db.Create(&perm).Error; err != nil {
		t.Fatalf("create permission: %v", err)
	}
	today := models.TokenUsage{UserID: alice.ID, ProviderID: 1, ModelID: 1, ModelName: "m", PromptTokens: 150, CompletionTokens: 50, CreatedAt: time.Now().UTC()}
	if err := env.db.Create(&today).Error; err != nil {
		t.Fatalf("create usage: %v", err)
	}
	base := fmt.Sprintf("/api/admin/users/%d/permission", alice.ID)

	w := env.do(http.MethodPut, base, token, map[string]any{"limit_type": "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodPut, base, token, map[string]any{
		"limit_type":     "token",
		"limit_period":   "daily",
		"token_limit":    1000,
		"allowed_models": []string{"2", " 1 ", "2"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var view permission.View
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.LimitType != "token" || view.LimitPeriod != "daily" || view.TokenLimit != 1000 || view.TokenUsed != 200 {
		t.Fatalf("unexpected permission %+v", view)
	}
	if len(view.AllowedModels) != 2 {
		t.Fatalf("expected deduplicated allow-list, got %v", view.AllowedModels)
	}

	w = env.do(http.MethodPost, base+"/reset", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.TokenUsed != 0 || view.TokenLimit != 1000 {
		t.Fatalf("expected counters reset and limit kept, got %+v", view)
	}

	if w = env.do(http.MethodPost, "/api/admin/users/9999/permission/reset", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAdminCannotDemoteOrDeleteSelf(t *testing.T) {
	env := newAdminEnv(t)
	root, token := env.user(t, "root", models.RoleAdmin)
	path := fmt.Sprintf("/api/admin/users/%d", root.ID)

	if w := env.do(http.MethodPatch, path, token, map[string]any{"role": "USER"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := env.do(http.MethodPatch, path, token, map[string]any{"active": false}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := env.do(http.MethodDelete, path, token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDeleteUserRemovesGuests(t *testing.T) {
	env := newAdminEnv(t)
	_, token := env.user(t, "root", models.RoleAdmin)
	host, _ := env.user(t, "host", models.RoleUser)
	guest := models.User{Username: "guest_abc", Password: "", Role: models.RoleGuest, Active: true, HostUserID: &host.ID}
	if err := env.db.Create(&guest).Error; err != nil {
		t.Fatalf("create guest: %v", err)
	}
	usageRow := models.TokenUsage{UserID: host.ID, ModelName: "gpt-4o", PromptTokens: 1, CompletionTokens: 1}
	if err := env.db.Create(&usageRow).Error; err != nil {
		t.Fatalf("create usage: %v", err)
	}

	if w := env.do(http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", host.ID), token, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var users int64
	env.db.Model(&models.User{}).Where("id IN ?", []uint64{host.ID, guest.ID}).Count(&users)
	if users != 0 {
		t.Fatalf("expected host and guest removed, got %d", users)
	}
	var usageRows int64
	env.db.Model(&models.TokenUsage{}).Count(&usageRows)
	if usageRows != 1 {
		t.Fatalf("expected usage ledger kept, got %d", usageRows)
	}
}

func TestInviteCodeLifecycle(t *testing.T) {
	env := newAdminEnv(t)
	_, token := env.user(t, "root", models.RoleAdmin)

	w := env.do(http.MethodPost, "/api/admin/invite-codes", token, map[string]any{"max_uses": 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID   uint64 `json:"id"`
		Code string `json:"code"`
		Role string `json:"role"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Code, "fimai_") || created.Role != models.RoleUser {
		t.Fatalf("unexpected invite %+v", created)
	}

	if w = env.do(http.MethodPost, "/api/admin/invite-codes", token, map[string]any{"role": "GUEST"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for guest role, got %d", w.Code)
	}
	if w = env.do(http.MethodDelete, fmt.Sprintf("/api/admin/invite-codes/%d", created.ID), token, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w = env.do(http.MethodDelete, fmt.Sprintf("/api/admin/invite-codes/%d", created.ID), token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSystemSettingsValidation(t *testing.T) {
	env := newAdminEnv(t)
	_, token := env.user(t, "root", models.RoleAdmin)

	if w := env.do(http.MethodPut, "/api/admin/system-settings", token, map[string]any{"registration_open": "yes"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := env.do(http.MethodPut, "/api/admin/system-settings", token, map[string]any{"made_up": 1}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w := env.do(http.MethodPut, "/api/admin/system-settings", token, map[string]any{"site_name": "Acme Chat", "guest_access_enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["site_name"] != "Acme Chat" || out["guest_access_enabled"] != false {
		t.Fatalf("unexpected settings %v", out)
	}
}

func TestTokenUsageStatsExcludeMirrors(t *testing.T) {
	env := newAdminEnv(t)
	_, token := env.user(t, "root", models.RoleAdmin)
	host, _ := env.user(t, "host", models.RoleUser)
	guestID := host.ID + 100
	rows := []models.TokenUsage{
		{UserID: guestID, ModelName: "gpt-4o", PromptTokens: 10, CompletionTokens: 5},
		{UserID: host.ID, SourceUserID: &guestID, ModelName: "gpt-4o", PromptTokens: 10, CompletionTokens: 5},
	}
	for i := range rows {
		if err := env.db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("create usage: %v", err)
		}
	}

	w := env.do(http.MethodGet, "/api/admin/token-usage/stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var stats struct {
		Today struct {
			Requests    int64 `json:"requests"`
			TotalTokens int64 `json:"total_tokens"`
		} `json:"today"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Today.Requests != 1 || stats.Today.TotalTokens != 15 {
		t.Fatalf("expected mirrored row excluded, got %+v", stats.Today)
	}

	w = env.do(http.MethodGet, fmt.Sprintf("/api/admin/token-usage?user_id=%d", host.ID), token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total":1`) {
		t.Fatalf("expected host's mirrored row when filtering by user, got %d: %s", w.Code, w.Body.String())
	}
}
