package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/fimai/fimai-chat/internal/codes"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/gin-gonic/gin"
)

// CodeHandler manages invite codes and oversees access codes.
type CodeHandler struct {
	codes *codes.Service
}

// NewCodeHandler constructs a code handler.
func NewCodeHandler(codeService *codes.Service) *CodeHandler {
	return &CodeHandler{codes: codeService}
}

type createInviteRequest struct {
	Role      string     `json:"role"`
	MaxUses   int        `json:"max_uses"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateInvite issues an invite code.
func (h *CodeHandler) CreateInvite(c *gin.Context) {
	var body createInviteRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	invite, errCreate := h.codes.CreateInvite(c.Request.Context(), getUserID(c), codes.InviteParams{
		Role:      body.Role,
		MaxUses:   body.MaxUses,
		ExpiresAt: body.ExpiresAt,
	})
	if errCreate != nil {
		writeCodeError(c, errCreate, "create invite code failed")
		return
	}
	c.JSON(http.StatusCreated, codes.NewInviteView(invite))
}

// ListInvites returns all invite codes.
func (h *CodeHandler) ListInvites(c *gin.Context) {
	rows, errList := h.codes.ListInvites(c.Request.Context())
	if errList != nil {
		respond.Internal(c, "list invite codes failed", errList)
		return
	}
	out := make([]codes.InviteView, 0, len(rows))
	for _, row := range rows {
		out = append(out, codes.NewInviteView(row))
	}
	c.JSON(http.StatusOK, gin.H{"invite_codes": out})
}

// DeleteInvite removes an invite code.
func (h *CodeHandler) DeleteInvite(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	if errDelete := h.codes.DeleteInvite(c.Request.Context(), id); errDelete != nil {
		writeCodeError(c, errDelete, "delete invite code failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListAccess returns access codes of every user, or of ?created_by.
func (h *CodeHandler) ListAccess(c *gin.Context) {
	ownerID, ok := parseOptionalID(c.Query("created_by"))
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid created_by")
		return
	}
	rows, errList := h.codes.ListAccess(c.Request.Context(), ownerID)
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

// DeleteAccess removes any user's access code.
func (h *CodeHandler) DeleteAccess(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	if errDelete := h.codes.DeleteAccess(c.Request.Context(), id, nil); errDelete != nil {
		writeCodeError(c, errDelete, "delete access code failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func writeCodeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, codes.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "code not found")
	case errors.Is(err, codes.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, err.Error())
	default:
		respond.Internal(c, msg, err)
	}
}
