package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ProfileHandler handles user profile endpoints.
type ProfileHandler struct {
	db *gorm.DB
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(db *gorm.DB) *ProfileHandler {
	return &ProfileHandler{db: db}
}

// Get returns the current user's profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respond.Error(c, http.StatusNotFound, "user not found")
			return
		}
		respond.Internal(c, "query failed", errFind)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"email":        strPtrValue(user.Email),
		"role":         user.Role,
		"active":       user.Active,
		"host_user_id": user.HostUserID,
		"totp_enabled": strings.TrimSpace(user.TOTPSecret) != "",
		"created_at":   user.CreatedAt,
		"updated_at":   user.UpdatedAt,
	})
}

// changePasswordRequest defines the request body for password changes.
type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword verifies and updates the user's password.
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if isGuest(c) {
		respond.Error(c, http.StatusForbidden, "guests have no password")
		return
	}

	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	if body.OldPassword == "" || body.NewPassword == "" {
		respond.Error(c, http.StatusBadRequest, "missing password")
		return
	}
	if errPassword := security.ValidatePassword(body.NewPassword); errPassword != nil {
		respond.Error(c, http.StatusBadRequest, errPassword.Error())
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respond.Error(c, http.StatusNotFound, "user not found")
			return
		}
		respond.Internal(c, "query failed", errFind)
		return
	}

	if !security.CheckPassword(user.Password, body.OldPassword) {
		respond.Error(c, http.StatusUnauthorized, "old password incorrect")
		return
	}

	hash, errHash := security.HashPassword(body.NewPassword)
	if errHash != nil {
		respond.Internal(c, "hash password failed", errHash)
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&user).Updates(map[string]any{
		"password":   hash,
		"updated_at": time.Now().UTC(),
	}).Error; errUpdate != nil {
		respond.Internal(c, "change password failed", errUpdate)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
