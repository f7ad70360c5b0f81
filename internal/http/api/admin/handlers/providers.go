package handlers

import (
	"errors"
	"net/http"

	"github.com/fimai/fimai-chat/internal/catalog"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/upstream"
	"github.com/gin-gonic/gin"
)

// ProviderHandler manages upstream provider endpoints.
type ProviderHandler struct {
	catalog *catalog.Catalog // Provider and model store.
}

// NewProviderHandler constructs a provider handler.
func NewProviderHandler(cat *catalog.Catalog) *ProviderHandler {
	return &ProviderHandler{catalog: cat}
}

// List returns all providers with masked API keys.
func (h *ProviderHandler) List(c *gin.Context) {
	rows, errList := h.catalog.ListProviders(c.Request.Context())
	if errList != nil {
		respond.Internal(c, "list providers failed", errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": rows})
}

// Get returns one provider.
func (h *ProviderHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	row, errGet := h.catalog.GetProvider(c.Request.Context(), id)
	if errGet != nil {
		writeCatalogError(c, errGet, "fetch provider failed")
		return
	}
	c.JSON(http.StatusOK, row)
}

// Create adds a provider.
func (h *ProviderHandler) Create(c *gin.Context) {
	var body catalog.ProviderInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	row, errCreate := h.catalog.CreateProvider(c.Request.Context(), body)
	if errCreate != nil {
		writeCatalogError(c, errCreate, "create provider failed")
		return
	}
	c.JSON(http.StatusCreated, row)
}

// Update patches a provider. An omitted api_key keeps the stored one.
func (h *ProviderHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	var body catalog.ProviderInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	row, errUpdate := h.catalog.UpdateProvider(c.Request.Context(), id, body)
	if errUpdate != nil {
		writeCatalogError(c, errUpdate, "update provider failed")
		return
	}
	c.JSON(http.StatusOK, row)
}

// Delete removes a provider and its models.
func (h *ProviderHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	if errDelete := h.catalog.DeleteProvider(c.Request.Context(), id); errDelete != nil {
		writeCatalogError(c, errDelete, "delete provider failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SyncModels imports the provider's upstream model list as disabled models.
func (h *ProviderHandler) SyncModels(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	result, errSync := h.catalog.SyncModels(c.Request.Context(), id)
	if errSync != nil {
		writeCatalogError(c, errSync, "sync models failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func writeCatalogError(c *gin.Context, err error, msg string) {
	var upstreamErr *upstream.Error
	switch {
	case errors.Is(err, catalog.ErrProviderNotFound):
		respond.Error(c, http.StatusNotFound, "provider not found")
	case errors.Is(err, catalog.ErrModelNotFound):
		respond.Error(c, http.StatusNotFound, "model not found")
	case errors.Is(err, catalog.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrConflict):
		respond.Error(c, http.StatusConflict, err.Error())
	case upstream.IsTimeout(err):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream timeout", "kind": "timeout"})
	case errors.As(err, &upstreamErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": upstreamErr.Error(), "kind": "upstream"})
	default:
		respond.Internal(c, msg, err)
	}
}
