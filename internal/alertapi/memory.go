package alertapi

import (
	"net/http"
	"time"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/memory"
)

func (a *API) handleIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.memory.Incidents(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read incidents")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if incidents == nil {
		incidents = []*alert.Alert{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	events, err := a.memory.RecentEvents(r.Context(), memory.DefaultRecentEvents)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read events")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []memory.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": events})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
