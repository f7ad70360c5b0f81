package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/tokens"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultConversationTitle = "New chat"
	maxTitleLen              = 200
)

// ConversationHandler manages saved chat history. Guests are never allowed to
// persist anything.
type ConversationHandler struct {
	db *gorm.DB
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(db *gorm.DB) *ConversationHandler {
	return &ConversationHandler{db: db}
}

// requireSaver rejects guests and anonymous callers.
func requireSaver(c *gin.Context) (uint64, bool) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	if isGuest(c) {
		respond.Error(c, http.StatusForbidden, "guests cannot save conversations")
		return 0, false
	}
	return userID, true
}

// List returns the caller's conversations, most recently updated first.
func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := requireSaver(c)
	if !ok {
		return
	}
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(c, "page_size", 50)
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	q := h.db.WithContext(c.Request.Context()).Model(&models.Conversation{}).Where("user_id = ?", userID)
	var total int64
	if errCount := q.Session(&gorm.Session{}).Count(&total).Error; errCount != nil {
		respond.Internal(c, "query failed", errCount)
		return
	}
	rows := []models.Conversation{}
	if errFind := q.Session(&gorm.Session{}).
		Order("updated_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; errFind != nil {
		respond.Internal(c, "query failed", errFind)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, conversationJSON(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out, "total": total, "page": page, "page_size": pageSize})
}

type conversationRequest struct {
	Title   *string `json:"title"`
	ModelID *uint64 `json:"model_id"`
}

// Create starts a new conversation.
func (h *ConversationHandler) Create(c *gin.Context) {
	userID, ok := requireSaver(c)
	if !ok {
		return
	}
	var body conversationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	title := defaultConversationTitle
	if body.Title != nil {
		var errTitle error
		if title, errTitle = normalizeTitle(*body.Title); errTitle != nil {
			respond.Error(c, http.StatusBadRequest, errTitle.Error())
			return
		}
	}
	conv := models.Conversation{UserID: userID, Title: title, ModelID: body.ModelID}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&conv).Error; errCreate != nil {
		respond.Internal(c, "create conversation failed", errCreate)
		return
	}
	c.JSON(http.StatusCreated, conversationJSON(&conv))
}

// Get returns a conversation with its messages.
func (h *ConversationHandler) Get(c *gin.Context) {
	userID, ok := requireSaver(c)
	if !ok {
		return
	}
	conv, found := h.load(c, userID)
	if !found {
		return
	}
	var rows []models.Message
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("conversation_id = ?", conv.ID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		respond.Internal(c, "query failed", errFind)
		return
	}
	out := conversationJSON(&conv)
	out["messages"] = messagesJSON(rows)
	c.JSON(http.StatusOK, out)
}

// Update renames a conversation or changes its model.
func (h *ConversationHandler) Update(c *gin.Context) {
	userID, ok := requireSaver(c)
	if !ok {
		return
	}
	conv, found := h.load(c, userID)
	if !found {
		return
	}
	var body conversationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Title != nil {
		title, errTitle := normalizeTitle(*body.Title)
		if errTitle != nil {
			respond.Error(c, http.StatusBadRequest, errTitle.Error())
			return
		}
		updates["title"] = title
		conv.Title = title
	}
	if body.ModelID != nil {
		updates["model_id"] = body.ModelID
		conv.ModelID = body.ModelID
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&conv).Updates(updates).Error; errUpdate != nil {
		respond.Internal(c, "update conversation failed", errUpdate)
		return
	}
	c.JSON(http.StatusOK, conversationJSON(&conv))
}

// Delete removes a conversation and its messages.
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, ok := requireSaver(c)
	if !ok {
		return
	}
	conv, found := h.load(c, userID)
	if !found {
		return
	}
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("conversation_id = ?", conv.ID).Delete(&models.Message{}).Error; errDelete != nil {
			return errDelete
		}
		return tx.Delete(&models.Conversation{}, conv.ID).Error
	})
	if errTx != nil {
		respond.Internal(c, "delete conversation failed", errTx)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListMessages returns a conversation's messages in order.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	userID, ok := requireSaver(c)
	if !ok {
		return
	}
	conv, found := h.load(c, userID)
	if !found {
		return
	}
	var rows []models.Message
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("conversation_id = ?", conv.ID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		respond.Internal(c, "query failed", errFind)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messagesJSON(rows)})
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateMessage appends a message written by the client, e.g. an edited turn.
func (h *ConversationHandler) CreateMessage(c *gin.Context) {
	userID, ok := requireSaver(c)
	if !ok {
		return
	}
	conv, found := h.load(c, userID)
	if !found {
		return
	}
	var body messageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json")
		return
	}
	switch body.Role {
	case "system", "user", "assistant":
	default:
		respond.Error(c, http.StatusBadRequest, "invalid role")
		return
	}
	msg := models.Message{
		ConversationID: conv.ID,
		Role:           body.Role,
		Content:        body.Content,
		Tokens:         int64(tokens.Estimate(body.Content)),
	}
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&msg).Error; errCreate != nil {
			return errCreate
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Update("updated_at", time.Now().UTC()).Error
	})
	if errTx != nil {
		respond.Internal(c, "create message failed", errTx)
		return
	}
	c.JSON(http.StatusCreated, messageJSON(&msg))
}

// DeleteMessage removes one message from a conversation the caller owns.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	userID, ok := requireSaver(c)
	if !ok {
		return
	}
	id, okID := parseIDParam(c, "id")
	if !okID {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	res := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND conversation_id IN (?)", id,
			h.db.Model(&models.Conversation{}).Select("id").Where("user_id = ?", userID)).
		Delete(&models.Message{})
	if res.Error != nil {
		respond.Internal(c, "delete message failed", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respond.Error(c, http.StatusNotFound, "message not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// load fetches the :id conversation owned by userID, writing 400/404 otherwise.
func (h *ConversationHandler) load(c *gin.Context, userID uint64) (models.Conversation, bool) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid id")
		return models.Conversation{}, false
	}
	var conv models.Conversation
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", id, userID).
		First(&conv).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respond.Error(c, http.StatusNotFound, "conversation not found")
			return models.Conversation{}, false
		}
		respond.Internal(c, "query failed", errFind)
		return models.Conversation{}, false
	}
	return conv, true
}

func normalizeTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return defaultConversationTitle, nil
	}
	if len([]rune(title)) > maxTitleLen {
		return "", errors.New("title too long")
	}
	return title, nil
}

func conversationJSON(conv *models.Conversation) gin.H {
	return gin.H{
		"id":         conv.ID,
		"title":      conv.Title,
		"model_id":   conv.ModelID,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
	}
}

func messageJSON(m *models.Message) gin.H {
	return gin.H{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"role":            m.Role,
		"content":         m.Content,
		"tokens":          m.Tokens,
		"created_at":      m.CreatedAt,
	}
}

func messagesJSON(rows []models.Message) []gin.H {
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, messageJSON(&rows[i]))
	}
	return out
}
