package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/haven/internal/volunteer"
)

const maxVolunteersPerRequest = 500

// Allocator commits volunteers to a location.
type Allocator interface {
	Assign(ctx context.Context, req volunteer.Request) (*volunteer.Result, error)
}

// AssignVolunteers lets the planner allocate volunteers.
type AssignVolunteers struct {
	allocator Allocator
}

// NewAssignVolunteers creates the assign_volunteers tool.
func NewAssignVolunteers(a Allocator) *AssignVolunteers {
	return &AssignVolunteers{allocator: a}
}

// Name returns the unique name of the tool, which is used to identify it when the LLM wants to call it.
func (t *AssignVolunteers) Name() string { return "assign_volunteers" }

// Description returns an llm-friendly description of the tool.
func (t *AssignVolunteers) Description() string {
	return `Allocate volunteers from the regional pool to a location. Returns how many were assigned,
which may be fewer than required when the pool is small. Request 40 for high risk (above 0.8),
12 for elevated risk (above 0.5). Do not call it for low risk alerts.`
}

// Parameters returns the JSON schema for the tool input.
func (t *AssignVolunteers) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "location": {
                "type": "string",
                "description": "Location name exactly as it appears in the alert."
            },
            "required": {
                "type": "integer",
                "description": "Number of volunteers needed."
            }
        },
        "required": ["location", "required"]
    }`)
}

// Execute allocates volunteers and returns the allocation result.
func (t *AssignVolunteers) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req volunteer.Request
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	req.Location = strings.TrimSpace(req.Location)
	if req.Location == "" {
		return nil, fmt.Errorf("location is required")
	}
	if req.Required < 0 || req.Required > maxVolunteersPerRequest {
		return nil, fmt.Errorf("required must be between 0 and %d", maxVolunteersPerRequest)
	}

	res, err := t.allocator.Assign(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("assign volunteers: %w", err)
	}
	return json.Marshal(res)
}
