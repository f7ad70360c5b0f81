package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Context keys set by UserAuthMiddleware.
const (
	ContextUserID   = "userID"
	ContextUserRole = "userRole"
	ContextUsername = "username"
)

// UserAuthMiddleware validates bearer JWTs and loads the active user into context.
func UserAuthMiddleware(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respond.AbortError(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		token, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			respond.AbortError(c, http.StatusUnauthorized, "invalid authorization format")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			respond.AbortError(c, http.StatusUnauthorized, "empty token")
			return
		}

		claims, errJWT := security.ParseToken(secret, token)
		if errJWT != nil {
			if errors.Is(errJWT, security.ErrExpiredToken) {
				respond.AbortError(c, http.StatusUnauthorized, "token expired")
				return
			}
			respond.AbortError(c, http.StatusUnauthorized, "invalid token")
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).
			Select("id", "username", "role", "active").
			First(&user, claims.UserID).Error; errFind != nil {
			respond.AbortError(c, http.StatusUnauthorized, "user not found")
			return
		}
		if !user.Active {
			respond.AbortError(c, http.StatusForbidden, "user disabled")
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextUserRole, user.Role)
		c.Set(ContextUsername, user.Username)
		c.Next()
	}
}

// RequireRole allows only users whose role is one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		respond.AbortError(c, http.StatusForbidden, "permission denied")
	}
}

// ByUserID keys rate limits by the authenticated user, falling back to the client IP.
func ByUserID(c *gin.Context) string {
	if v, ok := c.Get(ContextUserID); ok {
		if id, okID := v.(uint64); okID && id != 0 {
			return "user:" + strconv.FormatUint(id, 10)
		}
	}
	return "ip:" + c.ClientIP()
}
