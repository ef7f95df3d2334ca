// Package claude implements plan.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/haven/internal/plan"
	"github.com/linnemanlabs/haven/internal/tools"
)

const (
	DefaultModel   = "claude-sonnet-4-20250514"
	requestTimeout = 60 * time.Second
	maxRetries     = 2
)

// Client implements the plan.Provider interface for the Claude API.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude client for the given API key and model. Extra
// request options are appended after the defaults.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
		option.WithRequestTimeout(requestTimeout),
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	return &Client{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  model,
	}
}

// Send implements plan.Provider.
func (c *Client) Send(ctx context.Context, req *plan.LLMRequest) (*plan.LLMResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude api: %w", err)
	}
	return fromSDKResponse(msg), nil
}

func toSDKMessages(msgs []plan.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case "tool_use":
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toSDKTools(defs []tools.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{}
		if len(d.InputSchema) > 0 {
			var raw struct {
				Properties any      `json:"properties"`
				Required   []string `json:"required"`
			}
			if err := json.Unmarshal(d.InputSchema, &raw); err == nil {
				schema.Properties = raw.Properties
				schema.Required = raw.Required
			}
		}
		t := anthropic.ToolUnionParamOfTool(schema, d.Name)
		t.OfTool.Description = anthropic.String(d.Description)
		out = append(out, t)
	}
	return out
}

func fromSDKResponse(msg *anthropic.Message) *plan.LLMResponse {
	resp := &plan.LLMResponse{
		Content:    make([]plan.ContentBlock, 0, len(msg.Content)),
		StopReason: plan.StopReason(msg.StopReason),
		Usage: plan.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Model: string(msg.Model),
	}
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			resp.Content = append(resp.Content, plan.ContentBlock{Type: "text", Text: b.Text})
		case "tool_use":
			resp.Content = append(resp.Content, plan.ContentBlock{
				Type:  "tool_use",
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		}
	}
	return resp
}
