package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	totpPendingPrefix = "mfa:totp:"
	totpPendingTTL    = 10 * time.Minute
	defaultTOTPIssuer = "fimai"
)

// MFAHandler handles TOTP enrollment for signed-in users. Pending secrets are
// held in the kv store until confirmed.
type MFAHandler struct {
	db     *gorm.DB
	store  kv.Store
	issuer string
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(db *gorm.DB, store kv.Store, issuer string) *MFAHandler {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = defaultTOTPIssuer
	}
	return &MFAHandler{db: db, store: store, issuer: issuer}
}

func pendingTOTPKey(userID uint64) string {
	return totpPendingPrefix + strconv.FormatUint(userID, 10)
}

// Status returns MFA enablement status for the user.
func (h *MFAHandler) Status(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "user not found")
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Select("id", "totp_secret").First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respond.Error(c, http.StatusNotFound, "not found")
			return
		}
		respond.Internal(c, "query failed", errFind)
		return
	}

	c.JSON(http.StatusOK, gin.H{"totp_enabled": strings.TrimSpace(user.TOTPSecret) != ""})
}

// PrepareTOTP generates a new TOTP secret and QR code.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "user not found")
		return
	}
	if isGuest(c) {
		respond.Error(c, http.StatusForbidden, "guests cannot enable mfa")
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Select("id", "username").First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respond.Error(c, http.StatusNotFound, "not found")
			return
		}
		respond.Internal(c, "query failed", errFind)
		return
	}

	enrollment, errGenerate := security.NewTOTPEnrollment(h.issuer, user.Username)
	if errGenerate != nil {
		respond.Internal(c, "generate totp secret failed", errGenerate)
		return
	}
	if errSet := h.store.Set(c.Request.Context(), pendingTOTPKey(user.ID), enrollment.Secret, totpPendingTTL); errSet != nil {
		respond.Internal(c, "store totp secret failed", errSet)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"secret":      enrollment.Secret,
		"otpauth_url": enrollment.OTPAuthURL,
		"qr_image":    enrollment.QRImage,
	})
}

// totpConfirmRequest defines the request body for confirming TOTP.
type totpConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP validates and enables TOTP for the user.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "user not found")
		return
	}
	var body totpConfirmRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		respond.Error(c, http.StatusBadRequest, "missing code")
		return
	}

	ctx := c.Request.Context()
	secret, errGet := h.store.Get(ctx, pendingTOTPKey(userID))
	if errGet != nil {
		if errors.Is(errGet, kv.ErrMiss) {
			respond.Error(c, http.StatusBadRequest, "totp setup expired")
			return
		}
		respond.Internal(c, "read totp secret failed", errGet)
		return
	}

	if !security.ValidateTOTP(code, secret) {
		respond.Error(c, http.StatusUnauthorized, "invalid code")
		return
	}

	if errUpdate := h.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"totp_secret": secret, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		respond.Internal(c, "update failed", errUpdate)
		return
	}

	_ = h.store.Delete(ctx, pendingTOTPKey(userID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DisableTOTP removes the user's TOTP secret.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "user not found")
		return
	}

	ctx := c.Request.Context()
	res := h.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"totp_secret": "",
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		respond.Internal(c, "update failed", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respond.Error(c, http.StatusNotFound, "not found")
		return
	}

	_ = h.store.Delete(ctx, pendingTOTPKey(userID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// loginTotpRequest defines the request body for the second login step.
type loginTotpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

// LoginTOTP authenticates a user with password and TOTP code.
func (h *AuthHandler) LoginTOTP(c *gin.Context) {
	var body loginTotpRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	username := strings.TrimSpace(body.Username)
	code := strings.TrimSpace(body.Code)
	if username == "" || body.Password == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, "username, password and code are required")
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("username = ?", username).
		First(&user).Error; errFind != nil {
		respond.Error(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.IsGuest() || !security.CheckPassword(user.Password, body.Password) {
		respond.Error(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !user.Active {
		respond.Error(c, http.StatusForbidden, "user disabled")
		return
	}
	if strings.TrimSpace(user.TOTPSecret) == "" {
		respond.Error(c, http.StatusUnauthorized, "totp not enabled")
		return
	}
	if !security.ValidateTOTP(code, user.TOTPSecret) {
		respond.Error(c, http.StatusUnauthorized, "invalid code")
		return
	}

	h.respondWithUserToken(c, http.StatusOK, user)
}
