package plan

import (
	"fmt"
	"math"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/geo"
)

// Volunteer thresholds.
const (
	volunteerRiskThreshold = 0.5
	highRiskThreshold      = 0.8
	highRiskVolunteers     = 40
	lowRiskVolunteers      = 12
)

// HeuristicRisk scores an alert without any collaborator. Rainfall is
// graded on rain_mm; every other type scores half its confidence.
func HeuristicRisk(al *alert.Alert) float64 {
	if al.Type == "rainfall" {
		mm, _ := geo.Float(al.Payload["rain_mm"])
		switch {
		case mm > 150:
			return 0.95
		case mm > 80:
			return 0.8
		default:
			return 0.4
		}
	}
	return clampRisk(0.5 * al.Confidence)
}

// HeuristicDraft proposes a single task: monitor at low risk, otherwise
// mobilise volunteers.
func HeuristicDraft(risk float64) *Draft {
	if risk <= volunteerRiskThreshold {
		return &Draft{Tasks: []Task{{
			Task:    TaskMonitor,
			Details: fmt.Sprintf("Risk %.2f: continue monitoring", risk),
		}}}
	}
	return &Draft{Tasks: []Task{{
		Task:    TaskAssignVolunteers,
		Details: fmt.Sprintf("Risk %.2f: mobilise volunteers", risk),
	}}}
}

// RequiredVolunteers returns how many volunteers a plan at this risk asks
// for, 0 when none are needed.
func RequiredVolunteers(risk float64) int {
	switch {
	case risk > highRiskThreshold:
		return highRiskVolunteers
	case risk > volunteerRiskThreshold:
		return lowRiskVolunteers
	default:
		return 0
	}
}

func validRisk(r float64) bool {
	return r >= 0 && r <= 1 // false for NaN
}

func clampRisk(r float64) float64 {
	switch {
	case math.IsNaN(r), r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
