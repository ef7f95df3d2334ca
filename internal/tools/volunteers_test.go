package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/haven/internal/volunteer"
)

type mockAllocator struct {
	mu    sync.Mutex
	calls []volunteer.Request
	err   error
}

func (m *mockAllocator) Assign(_ context.Context, req volunteer.Request) (*volunteer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return &volunteer.Result{Status: volunteer.StatusOK, Assigned: min(req.Required, 10), Location: req.Location, Required: req.Required}, nil
}

func TestAssignVolunteers_Execute(t *testing.T) {
	t.Parallel()

	alloc := &mockAllocator{}
	tool := NewAssignVolunteers(alloc)

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"location":" Mumbai ","required":40}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var res volunteer.Result
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Assigned != 10 || res.Required != 40 || res.Location != "Mumbai" {
		t.Errorf("result = %+v", res)
	}
	if len(alloc.calls) != 1 || alloc.calls[0].Location != "Mumbai" {
		t.Errorf("calls = %+v", alloc.calls)
	}
}

func TestAssignVolunteers_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params string
	}{
		{"bad json", `{`},
		{"missing location", `{"required":5}`},
		{"negative", `{"location":"x","required":-1}`},
		{"too many", `{"location":"x","required":100000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			alloc := &mockAllocator{}
			if _, err := NewAssignVolunteers(alloc).Execute(context.Background(), json.RawMessage(tt.params)); err == nil {
				t.Fatal("expected error")
			}
			if len(alloc.calls) != 0 {
				t.Error("allocator should not be called for invalid input")
			}
		})
	}
}

func TestAssignVolunteers_AllocatorError(t *testing.T) {
	t.Parallel()

	tool := NewAssignVolunteers(&mockAllocator{err: errors.New("backend down")})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"location":"x","required":1}`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestAssignVolunteers_SchemaIsValidJSON(t *testing.T) {
	t.Parallel()

	var schema map[string]any
	if err := json.Unmarshal(NewAssignVolunteers(nil).Parameters(), &schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("type = %v", schema["type"])
	}
}
