package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/catalog"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/logging"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/fimai/fimai-chat/internal/relay"
	"github.com/fimai/fimai-chat/internal/upstream"
	"github.com/fimai/fimai-chat/internal/usage"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"
)

const (
	maxChatBodyBytes       = 2 << 20
	maxCompletionBodyBytes = 16 << 20
	maxChatMessages        = 500
	postChatTimeout        = 10 * time.Second
)

var errConversationNotFound = errors.New("conversation not found")

// flexibleID accepts a JSON string or number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*f = flexibleID(n.String())
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages         []chatMessage `json:"messages"`
	ModelID          flexibleID    `json:"modelId"`
	Stream           *bool         `json:"stream"`
	Temperature      *float64      `json:"temperature"`
	MaxTokens        *int          `json:"max_tokens"`
	TopP             *float64      `json:"top_p"`
	FrequencyPenalty *float64      `json:"frequency_penalty"`
	PresencePenalty  *float64      `json:"presence_penalty"`
	ConversationID   flexibleID    `json:"conversationId"`
}

func (r *chatRequest) validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if len(r.Messages) > maxChatMessages {
		return errors.New("too many messages")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("messages[%d]: invalid role %q", i, m.Role)
		}
	}
	if r.ModelID == "" {
		return errors.New("missing modelId")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return errors.New("top_p must be between 0 and 1")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	if r.FrequencyPenalty != nil && (*r.FrequencyPenalty < -2 || *r.FrequencyPenalty > 2) {
		return errors.New("frequency_penalty must be between -2 and 2")
	}
	if r.PresencePenalty != nil && (*r.PresencePenalty < -2 || *r.PresencePenalty > 2) {
		return errors.New("presence_penalty must be between -2 and 2")
	}
	return nil
}

func (r *chatRequest) promptText() string {
	var b strings.Builder
	for i, m := range r.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// lastUserMessage returns the most recent user turn, if any.
func (r *chatRequest) lastUserMessage() (chatMessage, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i], true
		}
	}
	return chatMessage{}, false
}

// ChatHandler relays chat completions to the model's provider.
type ChatHandler struct {
	db       *gorm.DB
	gate     *permission.Gate
	catalog  *catalog.Catalog
	client   *upstream.Client
	recorder *usage.Recorder
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(db *gorm.DB, gate *permission.Gate, cat *catalog.Catalog, client *upstream.Client, recorder *usage.Recorder) *ChatHandler {
	return &ChatHandler{db: db, gate: gate, catalog: cat, client: client, recorder: recorder}
}

// Chat validates the request, checks permissions and relays to the upstream,
// streaming when asked. Usage is recorded once the response is complete.
func (h *ChatHandler) Chat(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxChatBodyBytes))
	dec.DisallowUnknownFields()
	if errDecode := dec.Decode(&body); errDecode != nil {
		respond.Error(c, http.StatusBadRequest, "invalid json: "+errDecode.Error())
		return
	}
	if errValidate := body.validate(); errValidate != nil {
		respond.Error(c, http.StatusBadRequest, errValidate.Error())
		return
	}

	ctx := c.Request.Context()
	target, errResolve := h.catalog.Resolve(ctx, string(body.ModelID))
	if errResolve != nil {
		switch {
		case errors.Is(errResolve, catalog.ErrModelNotFound), errors.Is(errResolve, catalog.ErrProviderNotFound):
			respond.Error(c, http.StatusNotFound, "model not found")
		case errors.Is(errResolve, catalog.ErrModelDisabled), errors.Is(errResolve, catalog.ErrProviderDisabled):
			respond.Error(c, http.StatusForbidden, "model disabled")
		default:
			respond.Internal(c, "resolve model failed", errResolve)
		}
		return
	}

	perm := h.gate.Check(ctx, userID, strconv.FormatUint(target.Model.ID, 10))
	if !perm.CanChat {
		respond.Error(c, http.StatusForbidden, perm.Error)
		return
	}

	var conversationID uint64
	if body.ConversationID != "" && perm.CanSaveToDatabase {
		id, errConv := h.ownedConversation(ctx, userID, string(body.ConversationID))
		if errConv != nil {
			if errors.Is(errConv, errConversationNotFound) {
				respond.Error(c, http.StatusNotFound, "conversation not found")
				return
			}
			respond.Internal(c, "query failed", errConv)
			return
		}
		conversationID = id
	}

	stream := body.Stream != nil && *body.Stream
	payload, errPayload := buildUpstreamBody(&body, &target.Model, stream)
	if errPayload != nil {
		respond.Internal(c, "build upstream request failed", errPayload)
		return
	}

	prompt := body.promptText()
	var result chatResult
	var ok bool
	if stream {
		result, ok = h.relayStream(c, target, payload, prompt)
	} else {
		result, ok = h.relayOnce(c, target, payload, prompt)
	}
	if !ok {
		return
	}

	h.finish(ctx, userID, target, &body, conversationID, result)
}

// chatResult is what the relay produced for bookkeeping.
type chatResult struct {
	content string
	usage   relay.Usage
}

func (h *ChatHandler) relayOnce(c *gin.Context, target catalog.Target, payload []byte, prompt string) (chatResult, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.client.RequestTimeout())
	defer cancel()

	resp, errCall := h.client.ChatCompletions(ctx, target.Endpoint, payload, false)
	if errCall != nil {
		writeUpstreamError(c, target, errCall)
		return chatResult{}, false
	}
	defer func() { _ = resp.Body.Close() }()

	data, errRead := io.ReadAll(io.LimitReader(resp.Body, maxCompletionBodyBytes))
	if errRead != nil {
		writeUpstreamError(c, target, errRead)
		return chatResult{}, false
	}
	if !gjson.ValidBytes(data) {
		log.WithField("request_id", logging.GinRequestID(c)).Warn("chat: upstream returned invalid json")
		c.JSON(http.StatusBadGateway, gin.H{"error": "invalid upstream response", "kind": "upstream"})
		return chatResult{}, false
	}

	content, upstreamUsage := relay.ExtractCompletion(data)
	res := chatResult{content: content}
	if upstreamUsage != nil {
		res.usage = *upstreamUsage
	} else {
		res.usage = relay.Estimate(prompt, content)
	}
	c.Data(http.StatusOK, "application/json", data)
	return res, true
}

func (h *ChatHandler) relayStream(c *gin.Context, target catalog.Target, payload []byte, prompt string) (chatResult, bool) {
	ctx := c.Request.Context()
	resp, errCall := h.client.ChatCompletions(ctx, target.Endpoint, payload, true)
	if errCall != nil {
		writeUpstreamError(c, target, errCall)
		return chatResult{}, false
	}
	defer func() { _ = resp.Body.Close() }()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	res, errStream := relay.Stream(ctx, c.Writer, resp.Body, prompt)
	if errStream != nil {
		log.WithError(errStream).WithFields(log.Fields{
			"request_id": logging.GinRequestID(c),
			"forwarded":  res.Forwarded,
		}).Info("chat: stream ended early")
	}
	if res.Dropped > 0 {
		log.WithFields(log.Fields{
			"request_id": logging.GinRequestID(c),
			"dropped":    res.Dropped,
		}).Warn("chat: malformed upstream chunks dropped")
	}
	return chatResult{content: res.Content, usage: res.Usage}, true
}

// finish records usage and appends the exchange to the conversation. It runs
// after the response so neither step can fail the request.
func (h *ChatHandler) finish(reqCtx context.Context, userID uint64, target catalog.Target, body *chatRequest, conversationID uint64, result chatResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), postChatTimeout)
	defer cancel()

	requestID := logging.RequestIDFromContext(reqCtx)
	entry := usage.Entry{
		UserID:           userID,
		ProviderID:       target.Provider.ID,
		ModelID:          target.Model.ID,
		ModelName:        target.Model.ModelID,
		PromptTokens:     result.usage.PromptTokens,
		CompletionTokens: result.usage.CompletionTokens,
		IsEstimated:      result.usage.IsEstimated,
		RequestID:        requestID,
	}
	if _, errRecord := h.recorder.Record(ctx, entry); errRecord != nil {
		log.WithError(errRecord).WithFields(log.Fields{
			"request_id": requestID,
			"user_id":    userID,
		}).Error("chat: record usage failed")
	}

	if conversationID == 0 {
		return
	}
	if errAppend := h.appendExchange(ctx, conversationID, target.Model.ID, body, result); errAppend != nil {
		log.WithError(errAppend).WithFields(log.Fields{
			"request_id":      requestID,
			"conversation_id": conversationID,
		}).Error("chat: save conversation failed")
	}
}

func (h *ChatHandler) ownedConversation(ctx context.Context, userID uint64, raw string) (uint64, error) {
	id, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil || id == 0 {
		return 0, errConversationNotFound
	}
	var count int64
	if errCount := h.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Count(&count).Error; errCount != nil {
		return 0, errCount
	}
	if count == 0 {
		return 0, errConversationNotFound
	}
	return id, nil
}

func (h *ChatHandler) appendExchange(ctx context.Context, conversationID, modelID uint64, body *chatRequest, result chatResult) error {
	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if userMsg, ok := body.lastUserMessage(); ok {
			row := models.Message{
				ConversationID: conversationID,
				Role:           userMsg.Role,
				Content:        userMsg.Content,
				Tokens:         result.usage.PromptTokens,
			}
			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return errCreate
			}
		}
		reply := models.Message{
			ConversationID: conversationID,
			Role:           "assistant",
			Content:        result.content,
			Tokens:         result.usage.CompletionTokens,
		}
		if errCreate := tx.Create(&reply).Error; errCreate != nil {
			return errCreate
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Updates(map[string]any{"model_id": modelID, "updated_at": time.Now().UTC()}).Error
	})
}

// buildUpstreamBody merges the model's generation defaults with the request's
// overrides into an OpenAI chat completion body.
func buildUpstreamBody(body *chatRequest, model *models.Model, stream bool) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		out, err = sjson.SetBytes(out, path, value)
	}

	set("model", model.ModelID)
	set("messages", body.Messages)
	set("stream", stream)

	if v := pickInt(body.MaxTokens, model.MaxTokens); v != nil {
		set("max_tokens", *v)
	}
	if v := pickFloat(body.Temperature, model.Temperature); v != nil {
		set("temperature", *v)
	}
	if v := pickFloat(body.TopP, model.TopP); v != nil {
		set("top_p", *v)
	}
	if v := pickFloat(body.FrequencyPenalty, model.FrequencyPenalty); v != nil {
		set("frequency_penalty", *v)
	}
	if v := pickFloat(body.PresencePenalty, model.PresencePenalty); v != nil {
		set("presence_penalty", *v)
	}
	return out, err
}

func pickFloat(override, def *float64) *float64 {
	if override != nil {
		return override
	}
	return def
}

func pickInt(override, def *int) *int {
	if override != nil {
		return override
	}
	return def
}

// writeUpstreamError maps an upstream failure onto the client response.
func writeUpstreamError(c *gin.Context, target catalog.Target, err error) {
	entry := log.WithError(err).WithFields(log.Fields{
		"request_id":  logging.GinRequestID(c),
		"provider_id": target.Provider.ID,
		"model":       target.Model.ModelID,
	})

	var upstreamErr *upstream.Error
	switch {
	case errors.As(err, &upstreamErr):
		entry.WithField("status", upstreamErr.Status).Warn("chat: upstream rejected request")
		if gjson.Valid(upstreamErr.Body) {
			c.Data(upstreamErr.Status, "application/json", []byte(upstreamErr.Body))
			return
		}
		msg := strings.TrimSpace(upstreamErr.Body)
		if msg == "" {
			msg = http.StatusText(upstreamErr.Status)
		}
		c.JSON(upstreamErr.Status, gin.H{"error": msg, "kind": "upstream"})
	case upstream.IsTimeout(err):
		entry.Warn("chat: upstream timeout")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream timeout", "kind": "timeout"})
	default:
		entry.Error("chat: upstream request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed", "kind": "upstream"})
	}
}
