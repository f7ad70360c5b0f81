package handlers

import (
	"net/http"

	"github.com/fimai/fimai-chat/internal/codes"
	internalsettings "github.com/fimai/fimai-chat/internal/settings"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// publicConfigResponse is the response payload for public config.
type publicConfigResponse struct {
	SiteName           string `json:"site_name"`
	RegistrationOpen   bool   `json:"registration_open"`
	GuestAccessEnabled bool   `json:"guest_access_enabled"`
	Announcement       string `json:"announcement,omitempty"`
	BootstrapRequired  bool   `json:"bootstrap_required"`
}

// ConfigHandler serves the unauthenticated UI configuration.
type ConfigHandler struct {
	codes *codes.Service
}

// NewConfigHandler constructs a ConfigHandler.
func NewConfigHandler(codeService *codes.Service) *ConfigHandler {
	return &ConfigHandler{codes: codeService}
}

// GetPublicConfig returns public configuration for the front UI.
func (h *ConfigHandler) GetPublicConfig(c *gin.Context) {
	bootstrap, errBootstrap := h.codes.BootstrapAvailable(c.Request.Context())
	if errBootstrap != nil {
		log.WithError(errBootstrap).Warn("check bootstrap availability failed")
	}
	c.JSON(http.StatusOK, publicConfigResponse{
		SiteName:           internalsettings.String(internalsettings.SiteNameKey, internalsettings.DefaultSiteName),
		RegistrationOpen:   internalsettings.Bool(internalsettings.RegistrationOpenKey, internalsettings.DefaultRegistrationOpen),
		GuestAccessEnabled: internalsettings.Bool(internalsettings.GuestAccessEnabledKey, internalsettings.DefaultGuestAccessEnabled),
		Announcement:       internalsettings.String(internalsettings.AnnouncementKey, ""),
		BootstrapRequired:  bootstrap,
	})
}
