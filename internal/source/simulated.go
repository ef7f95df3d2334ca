package source

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/linnemanlabs/haven/internal/alert"
)

var (
	simulatedTypes     = []string{"rainfall", "flood", "cyclone", "earthquake", "wildfire"}
	simulatedLocations = []string{"Springfield", "Hyderabad", "Mumbai", "Chennai", "Delhi", "Visakhapatnam", "Bengaluru"}
	simulatedSeverity  = []string{"low", "medium", "high"}
)

// Simulated generates one to four random alerts per poll. It stands in for
// a real feed in development.
type Simulated struct {
	rnd *rand.Rand
	now func() time.Time
}

// NewSimulated creates a simulated source. A nil rnd seeds from the runtime.
func NewSimulated(rnd *rand.Rand) *Simulated {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // not security sensitive
	}
	return &Simulated{rnd: rnd, now: time.Now}
}

// Name implements Source.
func (s *Simulated) Name() string { return KindSimulated }

// Poll implements Source. The generator is not safe for concurrent use and
// the ingestion loop is its only caller.
func (s *Simulated) Poll(ctx context.Context) ([]alert.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := 1 + s.rnd.IntN(4)
	out := make([]alert.Raw, 0, n)
	for range n {
		typ := simulatedTypes[s.rnd.IntN(len(simulatedTypes))]
		ts := s.now().UTC().Add(-time.Duration(s.rnd.IntN(31)) * time.Minute)

		payload := map[string]any{
			"severity":   simulatedSeverity[s.rnd.IntN(len(simulatedSeverity))],
			"population": 5000 + s.rnd.IntN(195001),
		}
		if typ == "rainfall" {
			payload["rain_mm"] = 20 + s.rnd.IntN(231)
		}

		out = append(out, alert.Raw{
			"id":         fmt.Sprintf("%s-%d", typ, 100+s.rnd.IntN(900)),
			"type":       typ,
			"location":   simulatedLocations[s.rnd.IntN(len(simulatedLocations))],
			"time":       ts.Format("2006-01-02T15:04:05"),
			"source":     "mock-weather-engine",
			"confidence": math.Round((0.6+s.rnd.Float64()*0.39)*100) / 100,
			"payload":    payload,
		})
	}
	return out, nil
}
