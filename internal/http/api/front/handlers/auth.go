package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/codes"
	"github.com/fimai/fimai-chat/internal/config"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/fimai/fimai-chat/internal/mailer"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/fimai/fimai-chat/internal/settings"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	resetTokenPrefix = "pwreset:"
	resetTokenLength = 48
	minUsernameLen   = 3
	maxUsernameLen   = 32
)

var errUsernameTaken = errors.New("username already exists")
var errEmailTaken = errors.New("email already registered")

// AuthHandler handles account registration, sign-in and password recovery.
type AuthHandler struct {
	db        *gorm.DB
	auth      config.AuthConfig
	codes     *codes.Service
	store     kv.Store
	mail      mailer.Sender
	publicURL string
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, auth config.AuthConfig, codeService *codes.Service, store kv.Store, mail mailer.Sender, publicURL string) *AuthHandler {
	return &AuthHandler{
		db:        db,
		auth:      auth,
		codes:     codeService,
		store:     store,
		mail:      mail,
		publicURL: strings.TrimRight(strings.TrimSpace(publicURL), "/"),
	}
}

// registerRequest defines the request body for user registration.
type registerRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
}

// Register creates an account from an invite code or the admin bootstrap code.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	username := strings.TrimSpace(body.Username)
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		respond.Error(c, http.StatusBadRequest, fmt.Sprintf("username must be between %d and %d characters", minUsernameLen, maxUsernameLen))
		return
	}
	if strings.HasPrefix(strings.ToLower(username), "guest_") {
		respond.Error(c, http.StatusBadRequest, "username is reserved")
		return
	}
	if errPassword := security.ValidatePassword(body.Password); errPassword != nil {
		respond.Error(c, http.StatusBadRequest, errPassword.Error())
		return
	}
	inviteCode := strings.TrimSpace(body.InviteCode)
	if inviteCode == "" {
		respond.Error(c, http.StatusBadRequest, "missing invite code")
		return
	}
	if !h.codes.IsBootstrap(inviteCode) && !settings.Bool(settings.RegistrationOpenKey, settings.DefaultRegistrationOpen) {
		respond.Error(c, http.StatusForbidden, "registration closed")
		return
	}

	var email *string
	if trimmed := strings.ToLower(strings.TrimSpace(body.Email)); trimmed != "" {
		if !strings.Contains(trimmed, "@") {
			respond.Error(c, http.StatusBadRequest, "invalid email")
			return
		}
		email = &trimmed
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		respond.Internal(c, "hash password failed", errHash)
		return
	}

	var user models.User
	errRedeem := h.codes.RedeemInvite(c.Request.Context(), inviteCode, func(tx *gorm.DB, role string) (uint64, error) {
		if errUnique := ensureAccountUnique(tx, username, email); errUnique != nil {
			return 0, errUnique
		}
		now := time.Now().UTC()
		user = models.User{
			Username: username,
			Email:    email,
			Password: hash,
			Role:     role,
			Active:   true,
		}
		if errCreate := tx.Create(&user).Error; errCreate != nil {
			return 0, errCreate
		}
		perm := models.DefaultPermission(user.ID, now)
		if errPerm := tx.Create(&perm).Error; errPerm != nil {
			return 0, errPerm
		}
		prefs := defaultUserSettings(user.ID)
		if errPrefs := tx.Create(&prefs).Error; errPrefs != nil {
			return 0, errPrefs
		}
		return user.ID, nil
	})
	if errRedeem != nil {
		switch {
		case errors.Is(errRedeem, errUsernameTaken), errors.Is(errRedeem, errEmailTaken):
			respond.Error(c, http.StatusConflict, errRedeem.Error())
		case errors.Is(errRedeem, codes.ErrInvalidCode):
			respond.Error(c, http.StatusBadRequest, "invalid invite code")
		case errors.Is(errRedeem, codes.ErrCodeExpired):
			respond.Error(c, http.StatusBadRequest, "invite code expired")
		case errors.Is(errRedeem, codes.ErrCodeExhausted):
			respond.Error(c, http.StatusBadRequest, "invite code already used")
		case errors.Is(errRedeem, codes.ErrBootstrapClosed):
			respond.Error(c, http.StatusBadRequest, "invalid invite code")
		default:
			respond.Internal(c, "create user failed", errRedeem)
		}
		return
	}

	log.WithFields(log.Fields{"user_id": user.ID, "role": user.Role}).Info("user registered")
	h.respondWithUserToken(c, http.StatusCreated, user)
}

func ensureAccountUnique(tx *gorm.DB, username string, email *string) error {
	var count int64
	if errCount := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; errCount != nil {
		return errCount
	}
	if count > 0 {
		return errUsernameTaken
	}
	if email == nil {
		return nil
	}
	if errCount := tx.Model(&models.User{}).Where("email = ?", *email).Count(&count).Error; errCount != nil {
		return errCount
	}
	if count > 0 {
		return errEmailTaken
	}
	return nil
}

// loginRequest defines the request body for login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a user and issues a JWT if MFA is not required.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		respond.Error(c, http.StatusBadRequest, "missing username or password")
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respond.Error(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respond.Internal(c, "query failed", errFind)
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
	if strings.TrimSpace(user.TOTPSecret) != "" {
		respond.Error(c, http.StatusForbidden, "mfa required")
		return
	}

	h.respondWithUserToken(c, http.StatusOK, user)
}

// guestLoginRequest defines the request body for access-code sign-in.
type guestLoginRequest struct {
	Code string `json:"code"`
}

// Guest signs in with an access code, creating a guest account hosted by the
// code's creator.
func (h *AuthHandler) Guest(c *gin.Context) {
	var body guestLoginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		respond.Error(c, http.StatusBadRequest, "missing code")
		return
	}
	if !settings.Bool(settings.GuestAccessEnabledKey, settings.DefaultGuestAccessEnabled) {
		respond.Error(c, http.StatusForbidden, "guest access disabled")
		return
	}

	guest, access, errRedeem := h.codes.RedeemAccess(c.Request.Context(), code)
	if errRedeem != nil {
		switch {
		case errors.Is(errRedeem, codes.ErrInvalidCode):
			respond.Error(c, http.StatusBadRequest, "invalid access code")
		case errors.Is(errRedeem, codes.ErrCodeInactive), errors.Is(errRedeem, codes.ErrCreatorInactive):
			respond.Error(c, http.StatusForbidden, "access code disabled")
		case errors.Is(errRedeem, codes.ErrCodeExpired):
			respond.Error(c, http.StatusBadRequest, "access code expired")
		case errors.Is(errRedeem, codes.ErrCodeExhausted):
			respond.Error(c, http.StatusBadRequest, "access code exhausted")
		default:
			respond.Internal(c, "guest sign-in failed", errRedeem)
		}
		return
	}

	token, errToken := security.GenerateToken(h.auth.JWTSecret, guest.ID, guest.Username, guest.Role, h.auth.GuestTokenTTL)
	if errToken != nil {
		respond.Internal(c, "failed to generate token", errToken)
		return
	}
	log.WithFields(log.Fields{"user_id": guest.ID, "access_code_id": access.ID}).Info("guest signed in")
	c.JSON(http.StatusOK, gin.H{
		"user_id":      guest.ID,
		"username":     guest.Username,
		"role":         guest.Role,
		"host_user_id": guest.HostUserID,
		"token":        token,
	})
}

// forgotPasswordRequest defines the request body for requesting a reset mail.
type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword mails a one-time reset link. The response does not reveal
// whether the address belongs to an account.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var body forgotPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		respond.Error(c, http.StatusBadRequest, "missing email")
		return
	}

	ctx := c.Request.Context()
	var user models.User
	errFind := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		respond.Internal(c, "query failed", errFind)
		return
	}
	if errFind == nil && user.Active && !user.IsGuest() {
		token, errToken := security.GenerateRandomString(resetTokenLength)
		if errToken != nil {
			respond.Internal(c, "generate token failed", errToken)
			return
		}
		if errSet := h.store.Set(ctx, resetTokenPrefix+token, strconv.FormatUint(user.ID, 10), h.auth.ResetTokenTTL); errSet != nil {
			respond.Internal(c, "store reset token failed", errSet)
			return
		}
		msg := mailer.Message{
			To:      email,
			Subject: "Reset your password",
			Body:    h.resetMailBody(user.Username, token),
		}
		if errSend := h.mail.Send(ctx, msg); errSend != nil {
			log.WithError(errSend).WithField("user_id", user.ID).Warn("send password reset mail failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AuthHandler) resetMailBody(username, token string) string {
	link := "/reset-password?token=" + url.QueryEscape(token)
	if h.publicURL != "" {
		link = h.publicURL + link
	}
	return fmt.Sprintf("Hello %s,\r\n\r\nUse the link below to choose a new password. It expires in %s.\r\n\r\n%s\r\n\r\nIf you did not request this, ignore this message.\r\n",
		username, h.auth.ResetTokenTTL.Round(time.Minute), link)
}

// resetPasswordRequest defines the request body for password resets.
type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword consumes a reset token and sets a new password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var body resetPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	token := strings.TrimSpace(body.Token)
	if token == "" {
		respond.Error(c, http.StatusBadRequest, "missing token")
		return
	}
	if errPassword := security.ValidatePassword(body.NewPassword); errPassword != nil {
		respond.Error(c, http.StatusBadRequest, errPassword.Error())
		return
	}

	ctx := c.Request.Context()
	raw, errTake := kv.Take(ctx, h.store, resetTokenPrefix+token)
	if errTake != nil {
		if errors.Is(errTake, kv.ErrMiss) {
			respond.Error(c, http.StatusBadRequest, "invalid or expired token")
			return
		}
		respond.Internal(c, "read reset token failed", errTake)
		return
	}
	userID, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil {
		respond.Error(c, http.StatusBadRequest, "invalid or expired token")
		return
	}

	hash, errHash := security.HashPassword(body.NewPassword)
	if errHash != nil {
		respond.Internal(c, "hash password failed", errHash)
		return
	}
	res := h.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND active = ?", userID, true).
		Updates(map[string]any{"password": hash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		respond.Internal(c, "reset password failed", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respond.Error(c, http.StatusBadRequest, "invalid or expired token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// respondWithUserToken generates a JWT and responds with user info.
func (h *AuthHandler) respondWithUserToken(c *gin.Context, status int, user models.User) {
	token, errToken := security.GenerateToken(h.auth.JWTSecret, user.ID, user.Username, user.Role, h.auth.TokenTTL)
	if errToken != nil {
		respond.Internal(c, "failed to generate token", errToken)
		return
	}

	c.JSON(status, gin.H{
		"user_id":  user.ID,
		"username": user.Username,
		"email":    strPtrValue(user.Email),
		"role":     user.Role,
		"token":    token,
	})
}
