package plan

import (
	"context"
	"encoding/json"

	"github.com/linnemanlabs/haven/internal/tools"
)

// Provider is the interface for any LLM backend.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is the input to an LLM provider: conversation history plus the tools on offer.
type LLMRequest struct {
	MaxTokens int
	System    string
	Messages  []Message
	Tools     []tools.ToolDef
}

// LLMResponse is the generated content, stop reason and token usage of one call.
type LLMResponse struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
	Model      string
}

// StopReason indicates why the LLM stopped generating content.
type StopReason string

const (
	StopEnd     StopReason = "end_turn"
	StopToolUse StopReason = "tool_use"
)

// Message is a single conversation message from the user or the assistant.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// text returns the concatenated text blocks of a response.
func (r *LLMResponse) text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
