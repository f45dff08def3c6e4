// Package netx is the HTTP client the admin CLI uses to push configs to and
// pull them from a running server.
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/common"
)

// maxDownload bounds what Pull reads from a response body.
const maxDownload = 1 << 20

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithToken sends an owner bearer token with every push.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PushResult is the server's answer to a successful upload.
type PushResult struct {
	Key      string `json:"key"`
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Repaired bool   `json:"repaired"`
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Message    string
	Reason     string
	Line       int
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	if e.Reason != "" {
		msg += fmt.Sprintf(" (line %d: %s)", e.Line, e.Reason)
	}
	return msg
}

// Is maps status codes back onto the shared sentinels.
func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		if e.Reason != "" {
			return target == common.ErrInvalidConfig
		}
		return target == common.ErrInvalidName || target == common.ErrInvalidConfig
	case http.StatusUnauthorized:
		return target == common.ErrInvalidToken
	case http.StatusNotFound:
		return target == common.ErrorNotFound
	case http.StatusConflict:
		return target == common.ErrAlreadyExists
	case http.StatusRequestEntityTooLarge:
		return target == common.ErrTooLarge
	}
	return false
}

// Push uploads content as the config name. typ may be empty for server.
func (c *Client) Push(ctx context.Context, name, typ string, content io.Reader) (*PushResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("name", name); err != nil {
		return nil, err
	}
	if typ != "" {
		if err := w.WriteField("type", typ); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cfg", &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(resp)
	}
	var out PushResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

// Pull downloads the config published under name.
func (c *Client) Pull(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cfg/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(resp)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return b, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &StatusError{StatusCode: resp.StatusCode, Message: resp.Status}

	var payload struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
		Line   int    `json:"line"`
	}
	if json.Unmarshal(b, &payload) == nil && payload.Error != "" {
		e.Message, e.Reason, e.Line = payload.Error, payload.Reason, payload.Line
	} else if s := strings.TrimSpace(string(b)); s != "" {
		e.Message = s
	}
	return e
}
