// Package upstream talks to OpenAI-compatible provider APIs.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 120 * time.Second
	maxErrorBodyBytes     = 64 << 10
	maxListBodyBytes      = 8 << 20
)

// ErrTimeout reports that the upstream did not answer in time or the call was aborted.
var ErrTimeout = errors.New("upstream: timeout")

// Error is a non-2xx upstream answer.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("upstream: status %d", e.Status)
}

// Endpoint identifies a provider API.
type Endpoint struct {
	BaseURL string
	APIKey  string
}

func (e Endpoint) url(path string) string {
	return strings.TrimRight(strings.TrimSpace(e.BaseURL), "/") + path
}

// RemoteModel is one entry of the provider's /models listing.
type RemoteModel struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// Client calls provider endpoints.
type Client struct {
	http           *http.Client
	requestTimeout time.Duration
}

// NewClient builds a Client. requestTimeout bounds waiting for response
// headers and whole non-streaming calls; streamed bodies are bounded by the
// caller's context only.
func NewClient(connectTimeout, requestTimeout time.Duration) *Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = requestTimeout
	return &Client{
		http:           &http.Client{Transport: transport},
		requestTimeout: requestTimeout,
	}
}

// RequestTimeout returns the configured request timeout.
func (c *Client) RequestTimeout() time.Duration { return c.requestTimeout }

// ChatCompletions posts body to /chat/completions. On success the caller owns
// the response body. Non-2xx answers are returned as *Error with the body read.
func (c *Client) ChatCompletions(ctx context.Context, ep Endpoint, body []byte, stream bool) (*http.Response, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, ep.url("/chat/completions"), bytes.NewReader(body))
	if errReq != nil {
		return nil, fmt.Errorf("upstream: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	setAuth(req, ep.APIKey)

	resp, errDo := c.http.Do(req)
	if errDo != nil {
		return nil, classify(ctx, errDo)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &Error{Status: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

// ListModels fetches the provider's model ids.
func (c *Client) ListModels(ctx context.Context, ep Endpoint) ([]RemoteModel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, ep.url("/models"), nil)
	if errReq != nil {
		return nil, fmt.Errorf("upstream: build request: %w", errReq)
	}
	req.Header.Set("Accept", "application/json")
	setAuth(req, ep.APIKey)

	resp, errDo := c.http.Do(req)
	if errDo != nil {
		return nil, classify(ctx, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	data, errRead := io.ReadAll(io.LimitReader(resp.Body, maxListBodyBytes))
	if errRead != nil {
		return nil, classify(ctx, errRead)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBodyBytes {
			data = data[:maxErrorBodyBytes]
		}
		return nil, &Error{Status: resp.StatusCode, Body: string(data)}
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("upstream: models response is not JSON")
	}

	out := []RemoteModel{}
	seen := map[string]struct{}{}
	gjson.GetBytes(data, "data").ForEach(func(_, item gjson.Result) bool {
		id := strings.TrimSpace(item.Get("id").String())
		if id == "" {
			return true
		}
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
		out = append(out, RemoteModel{ID: id, OwnedBy: item.Get("owned_by").String()})
		return true
	})
	return out, nil
}

func setAuth(req *http.Request, apiKey string) {
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

// IsTimeout reports whether err is a timeout or abort of an upstream call.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify maps transport failures onto ErrTimeout where appropriate.
func classify(ctx context.Context, err error) error {
	if IsTimeout(err) || (ctx != nil && ctx.Err() != nil) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("upstream: %w", err)
}
