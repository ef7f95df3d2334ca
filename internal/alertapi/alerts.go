package alertapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/plan"
)

func (a *API) handlePollAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := a.alerts.Snapshot()
	if alerts == nil {
		alerts = []*alert.Alert{}
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("haven.alerts.count", len(alerts)))
	writeJSON(w, http.StatusOK, alerts)
}

func (a *API) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("haven.alert.id", id))

	p, err := a.plans.Create(r.Context(), id)
	if errors.Is(err, plan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to create plan", "event_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(
		attribute.String("haven.plan.id", p.ID),
		attribute.Float64("haven.plan.risk", p.Risk),
	)
	writeJSON(w, http.StatusOK, p)
}
