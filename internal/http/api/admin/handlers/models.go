package handlers

import (
	"net/http"

	"github.com/fimai/fimai-chat/internal/catalog"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/gin-gonic/gin"
)

// ModelHandler manages chat model endpoints.
type ModelHandler struct {
	catalog *catalog.Catalog
}

// NewModelHandler constructs a model handler.
func NewModelHandler(cat *catalog.Catalog) *ModelHandler {
	return &ModelHandler{catalog: cat}
}

// List returns models, optionally narrowed by ?provider_id.
func (h *ModelHandler) List(c *gin.Context) {
	providerID, ok := parseOptionalID(c.Query("provider_id"))
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid provider_id")
		return
	}
	rows, errList := h.catalog.ListModels(c.Request.Context(), providerID)
	if errList != nil {
		respond.Internal(c, "list models failed", errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, modelRow(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// Get returns one model.
func (h *ModelHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	row, errGet := h.catalog.GetModel(c.Request.Context(), id)
	if errGet != nil {
		writeCatalogError(c, errGet, "fetch model failed")
		return
	}
	c.JSON(http.StatusOK, modelRow(&row))
}

// Create adds a model under an existing provider.
func (h *ModelHandler) Create(c *gin.Context) {
	var body catalog.ModelInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	row, errCreate := h.catalog.CreateModel(c.Request.Context(), body)
	if errCreate != nil {
		writeCatalogError(c, errCreate, "create model failed")
		return
	}
	c.JSON(http.StatusCreated, modelRow(&row))
}

// Update patches a model.
func (h *ModelHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	var body catalog.ModelInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	row, errUpdate := h.catalog.UpdateModel(c.Request.Context(), id, body)
	if errUpdate != nil {
		writeCatalogError(c, errUpdate, "update model failed")
		return
	}
	c.JSON(http.StatusOK, modelRow(&row))
}

// Delete removes a model.
func (h *ModelHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	if errDelete := h.catalog.DeleteModel(c.Request.Context(), id); errDelete != nil {
		writeCatalogError(c, errDelete, "delete model failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func modelRow(m *models.Model) gin.H {
	return gin.H{
		"id":                m.ID,
		"provider_id":       m.ProviderID,
		"model_id":          m.ModelID,
		"name":              m.Name,
		"is_enabled":        m.IsEnabled,
		"sort_order":        m.SortOrder,
		"max_tokens":        m.MaxTokens,
		"temperature":       m.Temperature,
		"top_p":             m.TopP,
		"frequency_penalty": m.FrequencyPenalty,
		"presence_penalty":  m.PresencePenalty,
		"pricing_type":      m.PricingType,
		"input_price":       m.InputPrice,
		"output_price":      m.OutputPrice,
		"usage_price":       m.UsagePrice,
		"created_at":        m.CreatedAt,
		"updated_at":        m.UpdatedAt,
	}
}
