package plan

import (
	"maps"
	"time"

	"github.com/linnemanlabs/haven/internal/geo"
)

// Task names produced by the pipeline itself.
const (
	TaskMonitor          = "monitor"
	TaskAssignVolunteers = "assign_volunteers"
	TaskRecommendShelter = "recommend_shelter"
)

// AssignmentStatusError marks an assignment whose volunteer allocation failed.
const AssignmentStatusError = "error"

// Plan is a response plan for one alert. Plans are immutable once returned
// and several may exist for the same event.
type Plan struct {
	ID         string      `json:"id"`
	EventID    string      `json:"event_id"`
	Risk       float64     `json:"risk"`
	Tasks      []Task      `json:"tasks"`
	Assignment *Assignment `json:"assignment"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Task is one ordered step of a plan.
type Task struct {
	Task    string `json:"task"`
	Details string `json:"details"`
}

// Assignment describes the resources committed to a plan: volunteer counts,
// a recommended shelter and the route to it. Any field may be empty.
type Assignment struct {
	Status             string         `json:"status,omitempty"`
	Assigned           int            `json:"assigned"`
	Required           int            `json:"required,omitempty"`
	Location           string         `json:"location,omitempty"`
	Error              string         `json:"error,omitempty"`
	RecommendedShelter *geo.Shelter   `json:"recommended_shelter,omitempty"`
	Route              *geo.Route     `json:"route,omitempty"`
	Notes              map[string]any `json:"notes,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Tasks != nil {
		cp.Tasks = append([]Task(nil), p.Tasks...)
	}
	cp.Assignment = p.Assignment.Clone()
	return &cp
}

// Clone returns a deep copy of the assignment.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	cp := *a
	if a.RecommendedShelter != nil {
		s := *a.RecommendedShelter
		cp.RecommendedShelter = &s
	}
	if a.Route != nil {
		r := *a.Route
		cp.Route = &r
	}
	cp.Notes = maps.Clone(a.Notes)
	return &cp
}
