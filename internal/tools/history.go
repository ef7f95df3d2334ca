package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/haven/internal/alert"
)

const maxHistoryResults = 20

// IncidentQuerier returns recorded incidents at an exact location.
type IncidentQuerier interface {
	QueryByLocation(ctx context.Context, location string) ([]*alert.Alert, error)
}

// IncidentHistory lets the planner look up earlier incidents at a location.
type IncidentHistory struct {
	bank IncidentQuerier
}

// NewIncidentHistory creates the incident_history tool.
func NewIncidentHistory(bank IncidentQuerier) *IncidentHistory {
	return &IncidentHistory{bank: bank}
}

type historyEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Time       time.Time `json:"time"`
	Confidence float64   `json:"confidence"`
	Severity   any       `json:"severity,omitempty"`
}

// Name returns the unique name of the tool.
func (t *IncidentHistory) Name() string { return "incident_history" }

// Description returns an llm-friendly description of the tool.
func (t *IncidentHistory) Description() string {
	return `List earlier incidents recorded at a location, most recent first (at most 20).
Use it to judge whether an area is seeing repeated events before choosing tasks.`
}

// Parameters returns the JSON schema for the tool input.
func (t *IncidentHistory) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "location": {
                "type": "string",
                "description": "Location name exactly as it appears in the alert."
            }
        },
        "required": ["location"]
    }`)
}

// Execute returns the most recent incidents at the location.
func (t *IncidentHistory) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	input.Location = strings.TrimSpace(input.Location)
	if input.Location == "" {
		return nil, fmt.Errorf("location is required")
	}

	incidents, err := t.bank.QueryByLocation(ctx, input.Location)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}

	entries := make([]historyEntry, 0, min(len(incidents), maxHistoryResults))
	for i := len(incidents) - 1; i >= 0 && len(entries) < maxHistoryResults; i-- {
		a := incidents[i]
		entries = append(entries, historyEntry{
			ID:         a.ID,
			Type:       a.Type,
			Time:       a.Time,
			Confidence: a.Confidence,
			Severity:   a.Payload["severity"],
		})
	}

	return json.Marshal(map[string]any{
		"location":  input.Location,
		"total":     len(incidents),
		"incidents": entries,
		"truncated": len(incidents) > len(entries),
	})
}
