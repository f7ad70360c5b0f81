package http

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/fimai/fimai-chat/internal/db/dbtest"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const middlewareSecret = "middleware-test-secret-0123456789"

func newAuthRouter(conn *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", UserAuthMiddleware(conn, middlewareSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":   c.GetUint64(ContextUserID),
			"role": c.GetString(ContextUserRole),
			"key":  ByUserID(c),
		})
	})
	r.GET("/hosts", UserAuthMiddleware(conn, middlewareSecret), RequireRole(models.RoleUser, models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func serve(r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createMiddlewareUser(t *testing.T, conn *gorm.DB, name, role string, active bool) (models.User, string) {
	t.Helper()
	user := models.User{Username: name, Password: "x", Role: role, Active: active}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := security.GenerateToken(middlewareSecret, user.ID, user.Username, user.Role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return user, token
}

func TestUserAuthMiddlewareRejectsBadHeaders(t *testing.T) {
	r := newAuthRouter(dbtest.Open(t))

	cases := map[string]string{
		"missing":   "",
		"no bearer": "Token abc",
		"empty":     "Bearer   ",
		"garbage":   "Bearer not-a-jwt",
	}
	for name, header := range cases {
		if w := serve(r, "/me", header); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, w.Code)
		}
	}
}

func TestUserAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	conn := dbtest.Open(t)
	r := newAuthRouter(conn)
	user, _ := createMiddlewareUser(t, conn, "alice", models.RoleUser, true)

	forged, err := security.GenerateToken("another-secret-0123456789abcdef", user.ID, user.Username, user.Role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if w := serve(r, "/me", "Bearer "+forged); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUserAuthMiddlewareLoadsUser(t *testing.T) {
	conn := dbtest.Open(t)
	r := newAuthRouter(conn)
	user, token := createMiddlewareUser(t, conn, "alice", models.RoleUser, true)

	w := serve(r, "/me", "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := `{"id":` + itoa(user.ID) + `,"key":"user:` + itoa(user.ID) + `","role":"USER"}`
	if w.Body.String() != want {
		t.Fatalf("expected %s, got %s", want, w.Body.String())
	}
}

func TestUserAuthMiddlewareRejectsDisabledAndDeletedUsers(t *testing.T) {
	conn := dbtest.Open(t)
	r := newAuthRouter(conn)
	_, disabledToken := createMiddlewareUser(t, conn, "sleepy", models.RoleUser, false)
	gone, goneToken := createMiddlewareUser(t, conn, "gone", models.RoleUser, true)
	if err := conn.Delete(&models.User{}, gone.ID).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if w := serve(r, "/me", "Bearer "+disabledToken); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled user, got %d", w.Code)
	}
	if w := serve(r, "/me", "Bearer "+goneToken); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deleted user, got %d", w.Code)
	}
}

func TestRequireRoleRejectsGuests(t *testing.T) {
	conn := dbtest.Open(t)
	r := newAuthRouter(conn)
	_, guestToken := createMiddlewareUser(t, conn, "guest_1", models.RoleGuest, true)
	_, userToken := createMiddlewareUser(t, conn, "alice", models.RoleUser, true)

	if w := serve(r, "/hosts", "Bearer "+guestToken); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for guest, got %d", w.Code)
	}
	if w := serve(r, "/hosts", "Bearer "+userToken); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for user, got %d", w.Code)
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
