package handlers

import (
	"net/http"
	"time"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UsageHandler handles token usage endpoints for the signed-in user.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// List returns the caller's usage rows, newest first. Hosts also see the
// mirrored rows of their guests.
func (h *UsageHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	from, to, errRange := usage.ParseRange(c.Query("from"), c.Query("to"))
	if errRange != nil {
		respond.Error(c, http.StatusBadRequest, "invalid time range")
		return
	}
	q := usage.Query{UserID: &userID, ModelName: c.Query("model"), From: from, To: to}
	page, errList := usage.List(c.Request.Context(), h.db, q, queryInt(c, "page", 1), queryInt(c, "page_size", usage.DefaultPageSize))
	if errList != nil {
		respond.Internal(c, "query usage failed", errList)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Stats returns usage summaries for recent time windows.
func (h *UsageHandler) Stats(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	stats, errStats := usage.BuildStats(c.Request.Context(), h.db, usage.Query{UserID: &userID}, time.Now())
	if errStats != nil {
		respond.Internal(c, "query usage failed", errStats)
		return
	}
	c.JSON(http.StatusOK, stats)
}
