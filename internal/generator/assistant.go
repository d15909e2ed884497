package generator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

type IdeaRequest struct {
	Source   string // voice or file
	Prompt   string
	Filename string
	Content  io.Reader
}

type IdeaDraft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GenerateIdea sends an uploaded voice note or document to the idea endpoint
// and returns the drafted idea.
func (c *Client) GenerateIdea(ctx context.Context, req IdeaRequest) (IdeaDraft, error) {
	if !c.Configured() {
		return IdeaDraft{}, ErrNotConfigured
	}
	fields := map[string]string{"source": req.Source}
	if strings.TrimSpace(req.Prompt) != "" {
		fields["prompt"] = req.Prompt
	}
	body, err := c.postMultipart(ctx, "/ideas", fields, req.Filename, req.Content)
	if err != nil {
		return IdeaDraft{}, err
	}
	if !gjson.ValidBytes(body) {
		return IdeaDraft{}, fmt.Errorf("%w: not JSON", ErrInvalidResponse)
	}
	root := gjson.ParseBytes(body)
	if root.Get("idea").IsObject() {
		root = root.Get("idea")
	}
	draft := IdeaDraft{
		Title:       strings.TrimSpace(root.Get("title").String()),
		Description: strings.TrimSpace(root.Get("description").String()),
	}
	if draft.Title == "" {
		return IdeaDraft{}, fmt.Errorf("%w: idea without title", ErrInvalidResponse)
	}
	return draft, nil
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	ProjectID string        `json:"projectId,omitempty"`
	Messages  []ChatMessage `json:"messages"`
}

// Chat forwards a conversation to the assistant endpoint and returns its reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	body, err := c.postJSON(ctx, "/chat", req)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: not JSON", ErrInvalidResponse)
	}
	result := gjson.GetManyBytes(body, "reply", "message.content", "choices.0.message.content")
	for _, candidate := range result {
		if reply := strings.TrimSpace(candidate.String()); reply != "" {
			return reply, nil
		}
	}
	return "", fmt.Errorf("%w: empty reply", ErrInvalidResponse)
}
