package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const maxSystemPromptLen = 8000

// UserSettingsHandler reads and writes per-user UI preferences.
type UserSettingsHandler struct {
	db *gorm.DB
}

// NewUserSettingsHandler constructs a UserSettingsHandler.
func NewUserSettingsHandler(db *gorm.DB) *UserSettingsHandler {
	return &UserSettingsHandler{db: db}
}

func defaultUserSettings(userID uint64) models.UserSettings {
	return models.UserSettings{
		UserID:        userID,
		Theme:         "system",
		Language:      "en",
		StreamEnabled: true,
	}
}

func userSettingsJSON(s models.UserSettings) gin.H {
	return gin.H{
		"theme":            s.Theme,
		"language":         s.Language,
		"default_model_id": s.DefaultModelID,
		"system_prompt":    s.SystemPrompt,
		"stream_enabled":   s.StreamEnabled,
	}
}

// Get returns the user's settings, or defaults when none were saved.
func (h *UserSettingsHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	prefs := defaultUserSettings(userID)
	errFind := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID).First(&prefs).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		respond.Internal(c, "query failed", errFind)
		return
	}
	c.JSON(http.StatusOK, userSettingsJSON(prefs))
}

// updateUserSettingsRequest carries the fields to change.
type updateUserSettingsRequest struct {
	Theme          *string `json:"theme"`
	Language       *string `json:"language"`
	DefaultModelID *uint64 `json:"default_model_id"`
	SystemPrompt   *string `json:"system_prompt"`
	StreamEnabled  *bool   `json:"stream_enabled"`
}

// Put updates the user's settings. Guests keep defaults only.
func (h *UserSettingsHandler) Put(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if isGuest(c) {
		respond.Error(c, http.StatusForbidden, "guest settings are not saved")
		return
	}
	var body updateUserSettingsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}

	ctx := c.Request.Context()
	prefs := defaultUserSettings(userID)
	errFind := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		respond.Internal(c, "query failed", errFind)
		return
	}

	if body.Theme != nil {
		theme := strings.ToLower(strings.TrimSpace(*body.Theme))
		if theme != "light" && theme != "dark" && theme != "system" {
			respond.Error(c, http.StatusBadRequest, "invalid theme")
			return
		}
		prefs.Theme = theme
	}
	if body.Language != nil {
		lang := strings.TrimSpace(*body.Language)
		if lang == "" || len(lang) > 16 {
			respond.Error(c, http.StatusBadRequest, "invalid language")
			return
		}
		prefs.Language = lang
	}
	if body.DefaultModelID != nil {
		if *body.DefaultModelID == 0 {
			prefs.DefaultModelID = nil
		} else {
			var count int64
			if errCount := h.db.WithContext(ctx).Model(&models.Model{}).Where("id = ?", *body.DefaultModelID).Count(&count).Error; errCount != nil {
				respond.Internal(c, "query failed", errCount)
				return
			}
			if count == 0 {
				respond.Error(c, http.StatusBadRequest, "unknown model")
				return
			}
			id := *body.DefaultModelID
			prefs.DefaultModelID = &id
		}
	}
	if body.SystemPrompt != nil {
		if len(*body.SystemPrompt) > maxSystemPromptLen {
			respond.Error(c, http.StatusBadRequest, "system prompt too long")
			return
		}
		prefs.SystemPrompt = *body.SystemPrompt
	}
	if body.StreamEnabled != nil {
		prefs.StreamEnabled = *body.StreamEnabled
	}

	if errSave := h.db.WithContext(ctx).Save(&prefs).Error; errSave != nil {
		respond.Internal(c, "save settings failed", errSave)
		return
	}
	c.JSON(http.StatusOK, userSettingsJSON(prefs))
}
