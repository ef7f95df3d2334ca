package plan

import (
	"context"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/geo"
	"github.com/linnemanlabs/haven/internal/volunteer"
)

// AlertLookup resolves an alert id to a copy of the stored alert.
type AlertLookup interface {
	Find(id string) (*alert.Alert, bool)
}

// Assessment is a scored risk with a short explanation.
type Assessment struct {
	Risk    float64 `json:"risk"`
	Explain string  `json:"explain"`
}

// RiskEvaluator scores an alert in [0,1].
type RiskEvaluator interface {
	Evaluate(ctx context.Context, al *alert.Alert) (*Assessment, error)
}

// Draft is a planner's proposal: ordered tasks and an optional assignment.
type Draft struct {
	Tasks      []Task      `json:"tasks"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// Planner drafts tasks for an alert at a given risk.
type Planner interface {
	Plan(ctx context.Context, al *alert.Alert, risk float64) (*Draft, error)
}

// VolunteerAllocator commits volunteers to a location.
type VolunteerAllocator interface {
	Assign(ctx context.Context, req volunteer.Request) (*volunteer.Result, error)
}

// Geocoder resolves a place name. A miss is ok=false with a nil error.
type Geocoder interface {
	Geocode(ctx context.Context, name string) (geo.Point, bool, error)
}

// ShelterFinder lists shelters near a point, best match first.
type ShelterFinder interface {
	FindShelters(ctx context.Context, p geo.Point, radiusMeters int) ([]geo.Shelter, error)
}

// RouteEstimator estimates travel from origin to dest.
type RouteEstimator interface {
	EstimateRoute(ctx context.Context, origin, dest geo.Point) (*geo.Route, error)
}

// Recorder persists plans and terse log events.
type Recorder interface {
	WritePlan(ctx context.Context, p *Plan) error
	Record(ctx context.Context, typ string, fields map[string]any) error
}

// Notifier announces a created plan.
type Notifier interface {
	Notify(ctx context.Context, al *alert.Alert, p *Plan) error
}
