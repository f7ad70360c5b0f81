package handlers

import (
	"net/http"

	"github.com/fimai/fimai-chat/internal/catalog"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/gin-gonic/gin"
)

// ModelHandler lists the models the caller may chat with.
type ModelHandler struct {
	catalog *catalog.Catalog
	gate    *permission.Gate
}

// NewModelHandler constructs a ModelHandler.
func NewModelHandler(cat *catalog.Catalog, gate *permission.Gate) *ModelHandler {
	return &ModelHandler{catalog: cat, gate: gate}
}

// List returns enabled models filtered by the caller's allow-list, with pricing.
func (h *ModelHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx := c.Request.Context()
	enabled, errList := h.catalog.EnabledModels(ctx)
	if errList != nil {
		respond.Internal(c, "list models failed", errList)
		return
	}

	res := h.gate.Describe(ctx, userID)
	allowed := make(map[string]struct{}, len(res.AllowedModels))
	for _, id := range res.AllowedModels {
		allowed[id] = struct{}{}
	}
	out := make([]catalog.ModelView, 0, len(enabled))
	for _, m := range enabled {
		if _, ok := allowed[m.ID]; ok {
			out = append(out, m)
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}
