// Package relay re-streams OpenAI-compatible server-sent events to clients
// while collecting the reply text and token usage.
package relay

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const doneMarker = "[DONE]"

// strippedFields are removed from every forwarded chunk.
var strippedFields = []string{"user", "provider", "system_fingerprint"}

// ErrMalformedChunk marks a data payload that is not a JSON object.
var ErrMalformedChunk = errors.New("relay: malformed chunk")

// Usage is a token count, authoritative or estimated.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	IsEstimated      bool  `json:"is_estimated,omitempty"`
}

// Event is one parsed upstream chunk, ready to forward.
type Event struct {
	Payload []byte // Sanitized JSON.
	Content string // choices.0.delta.content, if any.
	Usage   *Usage // Present when the chunk carried usage.
}

// ParseError describes a chunk that was dropped.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: %q", e.Err, truncate(e.Payload, 128))
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Chunk is the outcome of parsing one data payload: exactly one of Event,
// Err or Done is set.
type Chunk struct {
	Event *Event
	Err   *ParseError
	Done  bool
}

// ParseData parses the payload of one "data:" line.
func ParseData(payload []byte) Chunk {
	payload = bytes.TrimSpace(payload)
	if string(payload) == doneMarker {
		return Chunk{Done: true}
	}
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return Chunk{Err: &ParseError{Payload: string(payload), Err: ErrMalformedChunk}}
	}
	parsed := gjson.ParseBytes(payload)
	if !parsed.IsObject() {
		return Chunk{Err: &ParseError{Payload: string(payload), Err: ErrMalformedChunk}}
	}

	clean, errStrip := Sanitize(payload)
	if errStrip != nil {
		return Chunk{Err: &ParseError{Payload: string(payload), Err: errStrip}}
	}
	ev := &Event{
		Payload: clean,
		Content: parsed.Get("choices.0.delta.content").String(),
		Usage:   usageFrom(parsed),
	}
	return Chunk{Event: ev}
}

// Sanitize removes fields that identify the upstream account or caller.
func Sanitize(payload []byte) ([]byte, error) {
	out := payload
	for _, field := range strippedFields {
		if !gjson.GetBytes(out, field).Exists() {
			continue
		}
		next, err := sjson.DeleteBytes(out, field)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

// usageFrom reads an OpenAI usage object, or nil when absent.
func usageFrom(doc gjson.Result) *Usage {
	u := doc.Get("usage")
	if !u.IsObject() {
		return nil
	}
	prompt, completion := u.Get("prompt_tokens"), u.Get("completion_tokens")
	if !prompt.Exists() && !completion.Exists() {
		return nil
	}
	out := &Usage{PromptTokens: prompt.Int(), CompletionTokens: completion.Int()}
	out.TotalTokens = out.PromptTokens + out.CompletionTokens
	return out
}

// ExtractCompletion reads the reply text and usage of a non-streaming
// chat completion body.
func ExtractCompletion(body []byte) (content string, usage *Usage) {
	if !gjson.ValidBytes(body) {
		return "", nil
	}
	doc := gjson.ParseBytes(body)
	return doc.Get("choices.0.message.content").String(), usageFrom(doc)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
