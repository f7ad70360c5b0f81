package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/fimai/fimai-chat/internal/codes"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/gin-gonic/gin"
)

// AccessCodeHandler lets users share guest access under their own account.
type AccessCodeHandler struct {
	codes *codes.Service
}

// NewAccessCodeHandler constructs an AccessCodeHandler.
func NewAccessCodeHandler(codeService *codes.Service) *AccessCodeHandler {
	return &AccessCodeHandler{codes: codeService}
}

// List returns the caller's access codes.
func (h *AccessCodeHandler) List(c *gin.Context) {
	userID := getUserID(c)
	rows, errList := h.codes.ListAccess(c.Request.Context(), &userID)
	if errList != nil {
		respond.Internal(c, "list access codes failed", errList)
		return
	}
	out := make([]codes.AccessView, 0, len(rows))
	for _, row := range rows {
		out = append(out, codes.NewAccessView(row))
	}
	c.JSON(http.StatusOK, gin.H{"access_codes": out})
}

type createAccessCodeRequest struct {
	Name          string     `json:"name"`
	MaxUses       int        `json:"max_uses"`
	AllowedModels []string   `json:"allowed_models"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// Create issues an access code hosted by the caller.
func (h *AccessCodeHandler) Create(c *gin.Context) {
	userID := getUserID(c)
	var body createAccessCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	access, errCreate := h.codes.CreateAccess(c.Request.Context(), userID, codes.AccessParams{
		Name:          body.Name,
		MaxUses:       body.MaxUses,
		AllowedModels: body.AllowedModels,
		ExpiresAt:     body.ExpiresAt,
	})
	if errCreate != nil {
		writeCodeError(c, errCreate, "create access code failed")
		return
	}
	c.JSON(http.StatusCreated, codes.NewAccessView(access))
}

type updateAccessCodeRequest struct {
	Name          *string    `json:"name"`
	IsActive      *bool      `json:"is_active"`
	MaxUses       *int       `json:"max_uses"`
	AllowedModels *[]string  `json:"allowed_models"`
	ExpiresAt     *time.Time `json:"expires_at"`
	ClearExpiry   bool       `json:"clear_expiry"`
}

// Update toggles or edits one of the caller's access codes.
func (h *AccessCodeHandler) Update(c *gin.Context) {
	userID := getUserID(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	var body updateAccessCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	access, errUpdate := h.codes.UpdateAccess(c.Request.Context(), id, &userID, codes.AccessPatch{
		Name:          body.Name,
		IsActive:      body.IsActive,
		MaxUses:       body.MaxUses,
		AllowedModels: body.AllowedModels,
		ExpiresAt:     body.ExpiresAt,
		ClearExpiry:   body.ClearExpiry,
	})
	if errUpdate != nil {
		writeCodeError(c, errUpdate, "update access code failed")
		return
	}
	c.JSON(http.StatusOK, codes.NewAccessView(access))
}

// Delete removes one of the caller's access codes.
func (h *AccessCodeHandler) Delete(c *gin.Context) {
	userID := getUserID(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	if errDelete := h.codes.DeleteAccess(c.Request.Context(), id, &userID); errDelete != nil {
		writeCodeError(c, errDelete, "delete access code failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func writeCodeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, codes.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "access code not found")
	case errors.Is(err, codes.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, err.Error())
	default:
		respond.Internal(c, msg, err)
	}
}
