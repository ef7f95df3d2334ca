// Package alertapi serves the alert snapshot, plan creation and memory
// read endpoints.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/memory"
	"github.com/linnemanlabs/haven/internal/plan"
)

// AlertReader exposes the current alert set.
type AlertReader interface {
	Snapshot() []*alert.Alert
}

// PlanCreator builds a plan for a stored alert.
type PlanCreator interface {
	Create(ctx context.Context, alertID string) (*plan.Plan, error)
}

// MemoryReader is the read side of the memory bank.
type MemoryReader interface {
	Incidents(ctx context.Context) ([]*alert.Alert, error)
	RecentEvents(ctx context.Context, n int) ([]memory.Event, error)
}

// Deps are the API's collaborators. All are required.
type Deps struct {
	Alerts AlertReader
	Plans  PlanCreator
	Memory MemoryReader
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	alerts AlertReader
	plans  PlanCreator
	memory MemoryReader
}

// New creates a new API handler.
func New(logger log.Logger, deps Deps) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if deps.Alerts == nil {
		panic(xerrors.New("alert reader is required"))
	}
	if deps.Plans == nil {
		panic(xerrors.New("plan creator is required"))
	}
	if deps.Memory == nil {
		panic(xerrors.New("memory reader is required"))
	}
	return &API{
		logger: logger,
		alerts: deps.Alerts,
		plans:  deps.Plans,
		memory: deps.Memory,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/poll_alerts", a.handlePollAlerts)
		r.Post("/plan/{id}", a.handleCreatePlan)
		r.Get("/incidents", a.handleIncidents)
		r.Get("/logs", a.handleLogs)
		r.Get("/health", a.handleHealth)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
