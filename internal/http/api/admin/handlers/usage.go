package handlers

import (
	"net/http"
	"time"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UsageHandler reports token usage across all users.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a usage handler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// adminQuery builds the report filter. Without ?user_id the host copies of
// guest rows are dropped so totals count each call once.
func adminQuery(c *gin.Context) (usage.Query, bool) {
	userID, ok := parseOptionalID(c.Query("user_id"))
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid user_id")
		return usage.Query{}, false
	}
	from, to, errRange := usage.ParseRange(c.Query("from"), c.Query("to"))
	if errRange != nil {
		respond.Error(c, http.StatusBadRequest, "invalid time range")
		return usage.Query{}, false
	}
	return usage.Query{
		UserID:         userID,
		ModelName:      c.Query("model"),
		From:           from,
		To:             to,
		ExcludeMirrors: userID == nil,
	}, true
}

// List returns usage rows newest first.
func (h *UsageHandler) List(c *gin.Context) {
	q, ok := adminQuery(c)
	if !ok {
		return
	}
	page, errList := usage.List(c.Request.Context(), h.db, q, queryInt(c, "page", 1), queryInt(c, "page_size", usage.DefaultPageSize))
	if errList != nil {
		respond.Internal(c, "query usage failed", errList)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Stats returns today, 7 day and 30 day summaries with a per-model breakdown.
func (h *UsageHandler) Stats(c *gin.Context) {
	q, ok := adminQuery(c)
	if !ok {
		return
	}
	q.From, q.To = nil, nil
	stats, errStats := usage.BuildStats(c.Request.Context(), h.db, q, time.Now())
	if errStats != nil {
		respond.Internal(c, "query usage failed", errStats)
		return
	}
	c.JSON(http.StatusOK, stats)
}
