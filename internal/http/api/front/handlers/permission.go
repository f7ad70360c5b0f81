package handlers

import (
	"errors"
	"net/http"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PermissionHandler reports the caller's chat permissions and limits.
type PermissionHandler struct {
	db   *gorm.DB
	gate *permission.Gate
}

// NewPermissionHandler constructs a PermissionHandler.
func NewPermissionHandler(db *gorm.DB, gate *permission.Gate) *PermissionHandler {
	return &PermissionHandler{db: db, gate: gate}
}

// Get returns the gate result plus the caller's limit counters.
func (h *PermissionHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx := c.Request.Context()
	res := h.gate.Describe(ctx, userID)

	out := gin.H{
		"can_chat":             res.CanChat,
		"can_save_to_database": res.CanSaveToDatabase,
		"allowed_models":       res.AllowedModels,
	}
	if res.Error != "" {
		out["error"] = res.Error
	}

	var perm models.UserPermission
	errFind := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&perm).Error
	switch {
	case errFind == nil:
		out["limit"] = gin.H{
			"type":          perm.LimitType,
			"period":        perm.LimitPeriod,
			"token_limit":   perm.TokenLimit,
			"cost_limit":    perm.CostLimit,
			"token_used":    perm.TokenUsed,
			"cost_used":     perm.CostUsed,
			"last_reset_at": perm.LastResetAt,
		}
	case !errors.Is(errFind, gorm.ErrRecordNotFound):
		respond.Internal(c, "query failed", errFind)
		return
	}
	c.JSON(http.StatusOK, out)
}
