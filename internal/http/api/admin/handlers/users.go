package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	dbutil "github.com/fimai/fimai-chat/internal/db"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UserHandler manages user accounts and their limits.
type UserHandler struct {
	db   *gorm.DB
	gate *permission.Gate
}

// NewUserHandler constructs a user handler.
func NewUserHandler(db *gorm.DB, gate *permission.Gate) *UserHandler {
	return &UserHandler{db: db, gate: gate}
}

// List returns users filtered by keyword and role.
func (h *UserHandler) List(c *gin.Context) {
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(c, "page_size", 20)
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if keyword := strings.TrimSpace(c.Query("keyword")); keyword != "" {
		pattern := dbutil.ContainsPattern(h.db, keyword)
		q = q.Where("("+dbutil.CaseInsensitiveLikeExpr(h.db, "username")+" OR "+dbutil.CaseInsensitiveLikeExpr(h.db, "email")+")", pattern, pattern)
	}
	if role := strings.ToUpper(strings.TrimSpace(c.Query("role"))); role != "" {
		if !models.ValidRole(role) {
			respond.Error(c, http.StatusBadRequest, "invalid role")
			return
		}
		q = q.Where("role = ?", role)
	}

	var total int64
	if errCount := q.Session(&gorm.Session{}).Count(&total).Error; errCount != nil {
		respond.Internal(c, "list users failed", errCount)
		return
	}
	var rows []models.User
	if errFind := q.Session(&gorm.Session{}).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; errFind != nil {
		respond.Internal(c, "list users failed", errFind)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, userRow(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "total": total, "page": page, "page_size": pageSize})
}

// Get returns a user with their permission row.
func (h *UserHandler) Get(c *gin.Context) {
	user, ok := h.load(c)
	if !ok {
		return
	}
	perm, errPerm := h.gate.Get(c.Request.Context(), user.ID)
	if errPerm != nil {
		respond.Internal(c, "fetch permission failed", errPerm)
		return
	}
	out := userRow(&user)
	out["permission"] = permission.NewView(perm)
	c.JSON(http.StatusOK, out)
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Active   *bool   `json:"active"`
	Password *string `json:"password"`
}

// Update edits a user's email, role, active flag or password.
func (h *UserHandler) Update(c *gin.Context) {
	user, ok := h.load(c)
	if !ok {
		return
	}
	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	self := getUserID(c) == user.ID
	updates := map[string]any{}

	if body.Role != nil {
		role := strings.ToUpper(strings.TrimSpace(*body.Role))
		if role != models.RoleUser && role != models.RoleAdmin {
			respond.Error(c, http.StatusBadRequest, "role must be USER or ADMIN")
			return
		}
		if user.IsGuest() {
			respond.Error(c, http.StatusBadRequest, "guest role cannot be changed")
			return
		}
		if self && role != user.Role {
			respond.Error(c, http.StatusBadRequest, "cannot change your own role")
			return
		}
		updates["role"] = role
	}
	if body.Active != nil {
		if self && !*body.Active {
			respond.Error(c, http.StatusBadRequest, "cannot disable yourself")
			return
		}
		updates["active"] = *body.Active
	}
	if body.Email != nil {
		if user.IsGuest() {
			respond.Error(c, http.StatusBadRequest, "guests have no email")
			return
		}
		email := strings.ToLower(strings.TrimSpace(*body.Email))
		if email == "" {
			updates["email"] = nil
		} else {
			if !strings.Contains(email, "@") {
				respond.Error(c, http.StatusBadRequest, "invalid email")
				return
			}
			var count int64
			if errCount := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
				Where("email = ? AND id <> ?", email, user.ID).
				Count(&count).Error; errCount != nil {
				respond.Internal(c, "update user failed", errCount)
				return
			}
			if count > 0 {
				respond.Error(c, http.StatusConflict, "email already exists")
				return
			}
			updates["email"] = email
		}
	}
	if body.Password != nil {
		if user.IsGuest() {
			respond.Error(c, http.StatusBadRequest, "guests have no password")
			return
		}
		if errValidate := security.ValidatePassword(*body.Password); errValidate != nil {
			respond.Error(c, http.StatusBadRequest, errValidate.Error())
			return
		}
		hash, errHash := security.HashPassword(*body.Password)
		if errHash != nil {
			respond.Internal(c, "hash password failed", errHash)
			return
		}
		updates["password"] = hash
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, userRow(&user))
		return
	}

	updates["updated_at"] = time.Now().UTC()
	ctx := c.Request.Context()
	if errUpdate := h.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; errUpdate != nil {
		respond.Internal(c, "update user failed", errUpdate)
		return
	}
	if errReload := h.db.WithContext(ctx).First(&user, user.ID).Error; errReload != nil {
		respond.Internal(c, "update user failed", errReload)
		return
	}
	c.JSON(http.StatusOK, userRow(&user))
}

// Delete removes a user together with their guests, access codes, history,
// settings and permission row. Token usage rows are kept for accounting.
func (h *UserHandler) Delete(c *gin.Context) {
	user, ok := h.load(c)
	if !ok {
		return
	}
	if getUserID(c) == user.ID {
		respond.Error(c, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var guestIDs []uint64
		if errPluck := tx.Model(&models.User{}).
			Where("host_user_id = ? AND role = ?", user.ID, models.RoleGuest).
			Pluck("id", &guestIDs).Error; errPluck != nil {
			return errPluck
		}
		ids := append(guestIDs, user.ID)

		if errMessages := tx.Where("conversation_id IN (?)",
			tx.Model(&models.Conversation{}).Select("id").Where("user_id IN ?", ids)).
			Delete(&models.Message{}).Error; errMessages != nil {
			return errMessages
		}
		for _, model := range []any{&models.Conversation{}, &models.UserSettings{}, &models.UserPermission{}} {
			if errDelete := tx.Where("user_id IN ?", ids).Delete(model).Error; errDelete != nil {
				return errDelete
			}
		}
		if errCodes := tx.Where("created_by_id = ?", user.ID).Delete(&models.AccessCode{}).Error; errCodes != nil {
			return errCodes
		}
		return tx.Where("id IN ?", ids).Delete(&models.User{}).Error
	})
	if errTx != nil {
		respond.Internal(c, "delete user failed", errTx)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetPermission returns the user's limits and counters.
func (h *UserHandler) GetPermission(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	perm, errGet := h.gate.Get(c.Request.Context(), id)
	if errGet != nil {
		writePermissionError(c, errGet, "fetch permission failed")
		return
	}
	c.JSON(http.StatusOK, permission.NewView(perm))
}

// UpdatePermission changes the user's limit type, period, caps or model allow-list.
func (h *UserHandler) UpdatePermission(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	var body permission.Patch
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	perm, errUpdate := h.gate.Update(c.Request.Context(), id, body)
	if errUpdate != nil {
		writePermissionError(c, errUpdate, "update permission failed")
		return
	}
	c.JSON(http.StatusOK, permission.NewView(perm))
}

// ResetPermission zeroes the user's usage counters.
func (h *UserHandler) ResetPermission(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	perm, errReset := h.gate.Reset(c.Request.Context(), id)
	if errReset != nil {
		writePermissionError(c, errReset, "reset permission failed")
		return
	}
	c.JSON(http.StatusOK, permission.NewView(perm))
}

func (h *UserHandler) load(c *gin.Context) (models.User, bool) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return models.User{}, false
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respond.Error(c, http.StatusNotFound, "user not found")
			return models.User{}, false
		}
		respond.Internal(c, "fetch user failed", errFind)
		return models.User{}, false
	}
	return user, true
}

func writePermissionError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, permission.ErrUserNotFound):
		respond.Error(c, http.StatusNotFound, "user not found")
	case errors.Is(err, permission.ErrInvalidPatch):
		respond.Error(c, http.StatusBadRequest, err.Error())
	default:
		respond.Internal(c, msg, err)
	}
}

func userRow(u *models.User) gin.H {
	email := ""
	if u.Email != nil {
		email = *u.Email
	}
	return gin.H{
		"id":           u.ID,
		"username":     u.Username,
		"email":        email,
		"role":         u.Role,
		"active":       u.Active,
		"host_user_id": u.HostUserID,
		"totp_enabled": strings.TrimSpace(u.TOTPSecret) != "",
		"created_at":   u.CreatedAt,
		"updated_at":   u.UpdatedAt,
	}
}
