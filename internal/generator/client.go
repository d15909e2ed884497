// Package generator talks to the hosted AI endpoints: task generation for a
// backlog stage, idea drafts from uploaded voice notes or files, and the chat
// assistant. Responses are untrusted and validated before they are returned.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 4 << 20

var (
	// ErrNotConfigured means no generator URL was provided.
	ErrNotConfigured = errors.New("generator not configured")
	// ErrInvalidResponse means the endpoint answered with something we cannot use.
	ErrInvalidResponse = errors.New("invalid generator response")
)

// StatusError is returned for non-2xx answers.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generator %s: status %d: %s", e.Endpoint, e.Code, e.Body)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a client for baseURL. An empty baseURL yields a client whose
// calls all fail with ErrNotConfigured.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint)
}

func (c *Client) postMultipart(ctx context.Context, endpoint string, fields map[string]string, filename string, file io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if file != nil {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, fmt.Errorf("copy file part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, endpoint)
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generator %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	return data, nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
