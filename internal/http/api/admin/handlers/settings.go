package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/settings"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// SettingsHandler reads and writes system settings.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a settings handler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// Get returns every known setting with its effective value.
func (h *SettingsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		settings.SiteNameKey:           settings.String(settings.SiteNameKey, settings.DefaultSiteName),
		settings.RegistrationOpenKey:   settings.Bool(settings.RegistrationOpenKey, settings.DefaultRegistrationOpen),
		settings.GuestAccessEnabledKey: settings.Bool(settings.GuestAccessEnabledKey, settings.DefaultGuestAccessEnabled),
		settings.UsageRetentionDaysKey: settings.Int(settings.UsageRetentionDaysKey, -1),
		settings.AnnouncementKey:       settings.String(settings.AnnouncementKey, ""),
		"updated_at":                   settings.DBConfigUpdatedAt(),
	})
}

// Put validates and stores the submitted settings, then returns the new values.
func (h *SettingsHandler) Put(c *gin.Context) {
	var body map[string]json.RawMessage
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	for key, raw := range body {
		if errValidate := validateSetting(key, raw); errValidate != nil {
			respond.Error(c, http.StatusBadRequest, errValidate.Error())
			return
		}
	}
	if errSave := settings.Save(c.Request.Context(), h.db, body); errSave != nil {
		respond.Internal(c, "save settings failed", errSave)
		return
	}
	h.Get(c)
}

// validateSetting checks raw against the type of key. A usage_retention_days of
// -1 means the configured value applies.
func validateSetting(key string, raw json.RawMessage) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%s: invalid json", key)
	}
	v := gjson.ParseBytes(raw)
	switch key {
	case settings.SiteNameKey:
		if v.Type != gjson.String || v.Str == "" || utf8.RuneCountInString(v.Str) > 100 {
			return fmt.Errorf("%s must be a non-empty string of at most 100 characters", key)
		}
	case settings.AnnouncementKey:
		if v.Type != gjson.String || utf8.RuneCountInString(v.Str) > 2000 {
			return fmt.Errorf("%s must be a string of at most 2000 characters", key)
		}
	case settings.RegistrationOpenKey, settings.GuestAccessEnabledKey:
		if !v.IsBool() {
			return fmt.Errorf("%s must be a boolean", key)
		}
	case settings.UsageRetentionDaysKey:
		if v.Type != gjson.Number || v.Num != float64(v.Int()) || v.Int() < -1 {
			return fmt.Errorf("%s must be an integer of at least -1", key)
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
