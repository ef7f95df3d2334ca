package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/geo"
	"github.com/linnemanlabs/haven/internal/tools"
)

const (
	MaxPlanToolCalls   = 6
	MaxPlanTokens      = 30000
	riskResponseTokens = 512
	planResponseTokens = 2048
)

// AgentHooks receives LLM and tool call observations. Nil funcs are ignored.
type AgentHooks struct {
	OnLLMCall  func(agent string, inputTokens, outputTokens int, duration float64)
	OnToolCall func(name string, duration float64, outputBytes int, isError bool)
}

// RiskAgent scores alerts with an LLM.
type RiskAgent struct {
	provider Provider
	logger   log.Logger
	hooks    AgentHooks
}

// NewRiskAgent creates a risk evaluator backed by provider.
func NewRiskAgent(provider Provider, logger log.Logger, hooks AgentHooks) *RiskAgent {
	if logger == nil {
		logger = log.Nop()
	}
	return &RiskAgent{provider: provider, logger: logger, hooks: hooks}
}

// Evaluate implements RiskEvaluator. A reply without a numeric risk in
// [0,1] is an error so the caller falls back.
func (a *RiskAgent) Evaluate(ctx context.Context, al *alert.Alert) (*Assessment, error) {
	body, err := json.Marshal(al)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}

	resp, err := send(ctx, a.provider, a.hooks, "risk", &LLMRequest{
		MaxTokens: riskResponseTokens,
		System:    riskSystemPrompt,
		Messages: []Message{{Role: "user", Content: []ContentBlock{{
			Type: "text",
			Text: "Alert JSON:\n" + string(body) + "\n\nReturn JSON: {\"risk\": <0..1>, \"explain\": \"short\"}",
		}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("risk agent: %w", err)
	}

	var out struct {
		Risk    any    `json:"risk"`
		Explain string `json:"explain"`
	}
	if err := decodeObject(resp.text(), &out); err != nil {
		return nil, fmt.Errorf("risk agent: %w", err)
	}
	risk, ok := geo.Float(out.Risk)
	if !ok || !validRisk(risk) {
		return nil, fmt.Errorf("risk agent: invalid risk %v", out.Risk)
	}
	return &Assessment{Risk: risk, Explain: out.Explain}, nil
}

// PlanAgent drafts plans with an LLM that may call the registered tools.
type PlanAgent struct {
	provider Provider
	registry *tools.Registry
	logger   log.Logger
	hooks    AgentHooks
}

// NewPlanAgent creates a planner backed by provider. registry may be nil.
func NewPlanAgent(provider Provider, registry *tools.Registry, logger log.Logger, hooks AgentHooks) *PlanAgent {
	if logger == nil {
		logger = log.Nop()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &PlanAgent{provider: provider, registry: registry, logger: logger, hooks: hooks}
}

// Plan implements Planner. The conversation runs until the model stops
// asking for tools, at most MaxPlanToolCalls tool executions, and the final
// text must carry a JSON plan.
func (a *PlanAgent) Plan(ctx context.Context, al *alert.Alert, risk float64) (*Draft, error) {
	L := a.logger.With("event_id", al.ID)

	prompt, err := buildPlanPrompt(al, risk)
	if err != nil {
		return nil, err
	}
	messages := []Message{{Role: "user", Content: []ContentBlock{{Type: "text", Text: prompt}}}}

	var totalTokens, toolCalls int
	for {
		if totalTokens >= MaxPlanTokens {
			L.Warn(ctx, "planner hit token limit", "limit", MaxPlanTokens)
			return nil, errors.New("planner: token budget exhausted")
		}

		req := &LLMRequest{
			MaxTokens: planResponseTokens,
			System:    planSystemPrompt,
			Messages:  messages,
		}
		if toolCalls < MaxPlanToolCalls {
			req.Tools = a.registry.ToToolDefs()
		}

		resp, err := send(ctx, a.provider, a.hooks, "planner", req)
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
		totalTokens += resp.Usage.InputTokens + resp.Usage.OutputTokens

		messages = append(messages, Message{Role: "assistant", Content: resp.Content})

		if resp.StopReason != StopToolUse {
			d, err := parseDraft(resp.text())
			if err != nil {
				return nil, fmt.Errorf("planner: %w", err)
			}
			L.Info(ctx, "planner drafted plan",
				"tasks", len(d.Tasks),
				"tool_calls", toolCalls,
				"tokens", totalTokens,
			)
			return d, nil
		}

		var results []ContentBlock
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}
			if toolCalls >= MaxPlanToolCalls {
				results = append(results, ContentBlock{
					Type:      "tool_result",
					ToolUseID: block.ID,
					Content:   "tool call budget exhausted, answer with the plan JSON now",
					IsError:   true,
				})
				continue
			}
			toolCalls++
			results = append(results, a.executeTool(ctx, L, block))
		}
		if len(results) == 0 {
			return nil, errors.New("planner: tool_use stop without tool calls")
		}
		messages = append(messages, Message{Role: "user", Content: results})
	}
}

func (a *PlanAgent) executeTool(ctx context.Context, L log.Logger, block ContentBlock) ContentBlock {
	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", block.Name),
		attribute.String("gen_ai.tool.call.id", block.ID),
	))
	defer span.End()

	start := time.Now()
	out := ContentBlock{Type: "tool_result", ToolUseID: block.ID}

	tool, ok := a.registry.Get(block.Name)
	if !ok {
		out.Content = fmt.Sprintf("unknown tool: %s", block.Name)
		out.IsError = true
	} else {
		L.Info(ctx, "executing tool", "tool", block.Name)
		output, err := tool.Execute(ctx, block.Input)
		if err != nil {
			L.Error(ctx, err, "tool execution failed", "tool", block.Name)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			out.Content = fmt.Sprintf("tool error: %v", err)
			out.IsError = true
		} else {
			out.Content = string(output)
		}
	}

	span.SetAttributes(attribute.Bool("haven.tool.is_error", out.IsError))
	if a.hooks.OnToolCall != nil {
		a.hooks.OnToolCall(block.Name, time.Since(start).Seconds(), len(out.Content), out.IsError)
	}
	return out
}

// send performs one provider call inside an llm.call span.
func send(ctx context.Context, provider Provider, hooks AgentHooks, agent string, req *LLMRequest) (*LLMResponse, error) {
	if provider == nil {
		return nil, errNotConfigured
	}

	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("haven.agent", agent),
		attribute.Int("gen_ai.request.max_tokens", req.MaxTokens),
	))
	defer span.End()

	start := time.Now()
	resp, err := provider.Send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp == nil {
		err := errors.New("provider returned no response")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.finish_reason", string(resp.StopReason)),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	if hooks.OnLLMCall != nil {
		hooks.OnLLMCall(agent, resp.Usage.InputTokens, resp.Usage.OutputTokens, time.Since(start).Seconds())
	}
	return resp, nil
}

// decodeObject unmarshals the outermost {...} span of text into dest.
func decodeObject(text string, dest any) error {
	i := strings.Index(text, "{")
	j := strings.LastIndex(text, "}")
	if i < 0 || j < i {
		return errors.New("no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(text[i:j+1]), dest); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

var assignmentKeys = map[string]bool{
	"status": true, "assigned": true, "required": true, "location": true, "error": true,
	"recommended_shelter": true, "route": true, "notes": true,
}

func parseDraft(text string) (*Draft, error) {
	var raw struct {
		Tasks      []map[string]any `json:"tasks"`
		Assignment map[string]any   `json:"assignment"`
	}
	if err := decodeObject(text, &raw); err != nil {
		return nil, err
	}

	d := &Draft{Tasks: make([]Task, 0, len(raw.Tasks))}
	for _, t := range raw.Tasks {
		name, _ := t["task"].(string)
		var details string
		switch v := t["details"].(type) {
		case nil:
		case string:
			details = v
		default:
			b, _ := json.Marshal(v)
			details = string(b)
		}
		d.Tasks = append(d.Tasks, Task{Task: strings.TrimSpace(name), Details: details})
	}
	if raw.Assignment != nil {
		d.Assignment = assignmentFromMap(raw.Assignment)
	}
	return d, nil
}

// assignmentFromMap maps a loosely typed assignment record onto Assignment.
// Unknown keys, and known keys of the wrong type, are kept in Notes.
func assignmentFromMap(m map[string]any) *Assignment {
	a := &Assignment{}
	b, _ := json.Marshal(m)
	if err := json.Unmarshal(b, a); err != nil {
		a = &Assignment{}
		for k, v := range m {
			if a.Notes == nil {
				a.Notes = make(map[string]any)
			}
			a.Notes[k] = v
		}
		return a
	}
	for k, v := range m {
		if assignmentKeys[k] {
			continue
		}
		if a.Notes == nil {
			a.Notes = make(map[string]any)
		}
		a.Notes[k] = v
	}
	return a
}

func buildPlanPrompt(al *alert.Alert, risk float64) (string, error) {
	body, err := json.MarshalIndent(al, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal alert: %w", err)
	}
	return fmt.Sprintf(`Alert:
%s

Risk: %.2f

Produce a JSON response plan. Use assign_volunteers when people are needed and
incident_history to check for earlier incidents at this location.`, body, risk), nil
}

const riskSystemPrompt = `You are the risk assessor of a disaster response coordinator.
Given an alert JSON, compute a risk score between 0 and 1 and give a one sentence explanation.
Answer with JSON only: {"risk": 0.72, "explain": "..."}`

const planSystemPrompt = `You are the planner of a disaster response coordinator.
Given an alert and its risk score, produce an ordered list of response tasks.
Answer with JSON only:
{"tasks": [{"task": "short_name", "details": "what to do"}], "assignment": {...}}
Include "assignment" only if you called assign_volunteers, copying its result.`
