// Package translate maps the caller's linear chat-message history to the
// backend's turn/part conversation structure and back, including the
// artifact side-channel that lets signatures and generated images survive a
// round trip through plain-text history.
package translate

import (
	"encoding/json"
	"regexp"

	"github.com/qiuyan86/antigravity-gateway/internal/antigravity"
)

// Message is one entry of the caller's chat history, in the OpenAI wire
// shape. Content is either a plain string or a list of typed parts.
type Message struct {
	Role       string                 `json:"role"`
	Content    json.RawMessage        `json:"content"`
	ToolCalls  []antigravity.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
}

// contentItem is one element of a multimodal content array.
type contentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

var dataURIRe = regexp.MustCompile(`^data:image/(\w+);base64,(.+)$`)

// extractContent flattens a message content value into its text and any
// inline images carried as base64 data URIs.
func extractContent(raw json.RawMessage) (string, []antigravity.InlineData) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var items []contentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", nil
	}

	var text string
	var images []antigravity.InlineData
	for _, item := range items {
		switch item.Type {
		case "text":
			text += item.Text
		case "image_url":
			if item.ImageURL == nil {
				continue
			}
			m := dataURIRe.FindStringSubmatch(item.ImageURL.URL)
			if m == nil {
				continue
			}
			images = append(images, antigravity.InlineData{
				MimeType: "image/" + m[1],
				Data:     m[2],
			})
		}
	}
	return text, images
}

// Parameters are the caller-supplied sampling settings. Absent fields fall
// back to the builder defaults.
type Parameters struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ToolDef is an OpenAI-shape tool declaration.
type ToolDef struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
