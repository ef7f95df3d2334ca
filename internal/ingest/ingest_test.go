package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/geo"
	"github.com/linnemanlabs/haven/internal/memory"
	"github.com/linnemanlabs/haven/internal/memory/memstore"
	"github.com/linnemanlabs/haven/internal/region"
)

// scriptedSource returns one scripted poll per call, repeating the last.
type scriptedSource struct {
	mu    sync.Mutex
	polls []func() ([]alert.Raw, error)
	calls int
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Poll(context.Context) ([]alert.Raw, error) {
	s.mu.Lock()
	idx := min(s.calls, len(s.polls)-1)
	s.calls++
	fn := s.polls[idx]
	s.mu.Unlock()
	return fn()
}

func batch(raws ...alert.Raw) func() ([]alert.Raw, error) {
	return func() ([]alert.Raw, error) { return raws, nil }
}

func failing(err error) func() ([]alert.Raw, error) {
	return func() ([]alert.Raw, error) { return nil, err }
}

type countingGeocoder struct {
	calls atomic.Int32
	fn    func(name string) (geo.Point, bool, error)
}

func (g *countingGeocoder) Geocode(_ context.Context, name string) (geo.Point, bool, error) {
	g.calls.Add(1)
	return g.fn(name)
}

type failingBank struct {
	records atomic.Int32
}

func (b *failingBank) WriteIncident(context.Context, *alert.Alert) error {
	return errors.New("disk full")
}

func (b *failingBank) Record(context.Context, string, map[string]any) error {
	b.records.Add(1)
	return nil
}

func raw(id, typ, location string) alert.Raw {
	return alert.Raw{
		"id":         id,
		"type":       typ,
		"location":   location,
		"time":       "2026-07-01T12:00:00Z",
		"source":     "test",
		"confidence": 0.7,
		"payload":    map[string]any{},
	}
}

func TestRunOnce_DedupAcrossCycles(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){
		batch(raw("a", "flood", "X"), raw("b", "flood", "X"), raw("a", "flood", "X")),
		batch(raw("a", "flood", "X"), raw("b", "flood", "X"), raw("c", "storm", "Y")),
		batch(raw("c", "storm", "Y")),
	}}
	store := alert.NewStore()
	bank := memstore.New()
	l := New(Config{Source: src, Store: store, Bank: bank}, log.Nop(), Hooks{})

	wantAdded := []int{2, 1, 0}
	for i, want := range wantAdded {
		res, err := l.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if res.Added != want {
			t.Errorf("cycle %d added = %d, want %d", i, res.Added, want)
		}
	}

	if store.Len() != 3 {
		t.Errorf("store len = %d, want 3", store.Len())
	}
	incidents, _ := bank.Incidents(context.Background())
	if len(incidents) != 3 {
		t.Errorf("incidents = %d, want 3", len(incidents))
	}

	events, _ := bank.RecentEvents(context.Background(), 0)
	var added []memory.Event
	for _, e := range events {
		if e.Type == "alerts_added" {
			added = append(added, e)
		}
	}
	if len(added) != 2 {
		t.Fatalf("alerts_added events = %d, want 2 (none for an empty cycle)", len(added))
	}
	if added[0].Fields["count"] != 2 {
		t.Errorf("first alerts_added count = %v, want 2", added[0].Fields["count"])
	}
}

func TestRunOnce_DerivedIDStableAcrossPolls(t *testing.T) {
	t.Parallel()

	timeless := alert.Raw{"type": "rainfall", "location": "Mumbai", "source": "feed"}
	src := &scriptedSource{polls: []func() ([]alert.Raw, error){batch(timeless)}}
	store := alert.NewStore()
	l := New(Config{Source: src, Store: store}, log.Nop(), Hooks{})

	for range 3 {
		if _, err := l.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	snap := store.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("store len = %d, want 1", len(snap))
	}
	if len(snap[0].ID) != len("alert-")+16 {
		t.Errorf("derived id = %q", snap[0].ID)
	}
}

func TestRunOnce_CoordinateBackfill(t *testing.T) {
	t.Parallel()

	withCoords := raw("p1", "flood", "Somewhere")
	withCoords["payload"] = map[string]any{"lat": 1.5, "lon": 2.5}

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){
		batch(
			withCoords,
			raw("g1", "flood", "Geoville"),
			raw("z1", "flood", "Hyderabad"),
			raw("n1", "flood", "Atlantis"),
		),
	}}
	geocoder := &countingGeocoder{fn: func(name string) (geo.Point, bool, error) {
		switch name {
		case "Geoville":
			return geo.Point{Lat: 10, Lon: 20}, true, nil
		case "Hyderabad":
			return geo.Point{}, false, errors.New("quota exceeded")
		default:
			return geo.Point{}, false, nil
		}
	}}

	var (
		mu      sync.Mutex
		sources = map[string]int{}
	)
	store := alert.NewStore()
	l := New(Config{
		Source:    src,
		Store:     store,
		Geocoder:  geocoder,
		Gazetteer: region.Default(),
	}, log.Nop(), Hooks{
		OnCoordinates: func(s string) {
			mu.Lock()
			defer mu.Unlock()
			sources[s]++
		},
	})

	if _, err := l.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	tests := []struct {
		id     string
		want   geo.Point
		wantOK bool
	}{
		{"p1", geo.Point{Lat: 1.5, Lon: 2.5}, true},
		{"g1", geo.Point{Lat: 10, Lon: 20}, true},
		{"z1", geo.Point{Lat: 17.3850, Lon: 78.4867}, true},
		{"n1", geo.Point{}, false},
	}
	for _, tt := range tests {
		al, ok := store.Find(tt.id)
		if !ok {
			t.Fatalf("alert %s not stored", tt.id)
		}
		p, ok := al.Point()
		if ok != tt.wantOK || p != tt.want {
			t.Errorf("%s point = %+v (%v), want %+v (%v)", tt.id, p, ok, tt.want, tt.wantOK)
		}
	}

	if geocoder.calls.Load() != 3 {
		t.Errorf("geocoder calls = %d, want 3 (payload coordinates skip it)", geocoder.calls.Load())
	}
	for s, want := range map[string]int{CoordsPayload: 1, CoordsGeocoder: 1, CoordsGazetteer: 1, CoordsNone: 1} {
		if sources[s] != want {
			t.Errorf("coordinate source %s = %d, want %d", s, sources[s], want)
		}
	}

	// known ids are not enriched again
	if _, err := l.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if geocoder.calls.Load() != 3 {
		t.Errorf("geocoder calls after repeat poll = %d, want 3", geocoder.calls.Load())
	}
}

func TestRunOnce_PollErrorCommitsNothing(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){failing(errors.New("feed down"))}}
	store := alert.NewStore()
	l := New(Config{Source: src, Store: store, Bank: memstore.New()}, log.Nop(), Hooks{})

	res, err := l.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Added != 0 || store.Len() != 0 {
		t.Errorf("added = %d, store = %d, want nothing committed", res.Added, store.Len())
	}
}

// stuckGeocoder ignores its context and blocks until released.
type stuckGeocoder struct{ release chan struct{} }

func (g *stuckGeocoder) Geocode(context.Context, string) (geo.Point, bool, error) {
	<-g.release
	return geo.Point{Lat: 1, Lon: 1}, true, nil
}

// stuckBank ignores its context and blocks until released.
type stuckBank struct{ release chan struct{} }

func (b *stuckBank) WriteIncident(context.Context, *alert.Alert) error {
	<-b.release
	return nil
}

func (b *stuckBank) Record(context.Context, string, map[string]any) error {
	<-b.release
	return nil
}

func TestRunOnce_StuckGeocoderFallsBackToGazetteer(t *testing.T) {
	t.Parallel()

	geocoder := &stuckGeocoder{release: make(chan struct{})}
	defer close(geocoder.release)

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){batch(raw("h1", "flood", "Hyderabad"))}}
	store := alert.NewStore()
	l := New(Config{
		Source:      src,
		Store:       store,
		Geocoder:    geocoder,
		Gazetteer:   region.Default(),
		CallTimeout: 100 * time.Millisecond,
	}, log.Nop(), Hooks{})

	start := time.Now()
	res, err := l.RunOnce(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("RunOnce took %v with a 100ms call timeout", elapsed)
	}
	if res.Added != 1 {
		t.Fatalf("added = %d, want 1", res.Added)
	}

	al, _ := store.Find("h1")
	p, ok := al.Point()
	if !ok || p != (geo.Point{Lat: 17.3850, Lon: 78.4867}) {
		t.Errorf("point = %+v (%v), want gazetteer Hyderabad", p, ok)
	}
}

func TestRunOnce_StuckSourceTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){
		func() ([]alert.Raw, error) {
			<-release
			return nil, nil
		},
	}}
	store := alert.NewStore()
	l := New(Config{Source: src, Store: store, CallTimeout: 100 * time.Millisecond}, log.Nop(), Hooks{})

	start := time.Now()
	_, err := l.RunOnce(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("RunOnce took %v with a 100ms call timeout", elapsed)
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
}

func TestRunOnce_StuckBankKeepsAlerts(t *testing.T) {
	t.Parallel()

	bank := &stuckBank{release: make(chan struct{})}
	defer close(bank.release)

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){batch(raw("a", "flood", "X"), raw("b", "flood", "X"))}}
	store := alert.NewStore()
	l := New(Config{Source: src, Store: store, Bank: bank, CallTimeout: 50 * time.Millisecond}, log.Nop(), Hooks{})

	start := time.Now()
	res, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// two incident writes plus one record, each abandoned at the timeout
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("RunOnce took %v with a 50ms call timeout", elapsed)
	}
	if res.Added != 2 || store.Len() != 2 {
		t.Errorf("added = %d, store = %d, want 2", res.Added, store.Len())
	}
}

func TestRunOnce_PanicBecomesError(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){
		func() ([]alert.Raw, error) { panic("decoder bug") },
	}}
	l := New(Config{Source: src, Store: alert.NewStore()}, log.Nop(), Hooks{})

	res, err := l.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error from panicking source")
	}
	if res.Duration <= 0 {
		t.Error("expected duration to be set")
	}
}

func TestRunOnce_BankFailureKeepsAlerts(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){batch(raw("a", "flood", "X"), nil)}}
	store := alert.NewStore()
	bank := &failingBank{}
	l := New(Config{Source: src, Store: store, Bank: bank}, log.Nop(), Hooks{})

	res, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Polled != 2 || res.Added != 1 || store.Len() != 1 {
		t.Errorf("res = %+v, store = %d", res, store.Len())
	}
	if bank.records.Load() != 1 {
		t.Errorf("alerts_added records = %d, want 1", bank.records.Load())
	}
}

func TestRun_SurvivesErrorsAndStops(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){
		failing(errors.New("timeout")),
		func() ([]alert.Raw, error) { panic("boom") },
		batch(raw("late", "flood", "X")),
	}}
	store := alert.NewStore()

	var (
		mu       sync.Mutex
		outcomes []string
	)
	l := New(Config{
		Source:   src,
		Store:    store,
		Interval: 5 * time.Millisecond,
	}, log.Nop(), Hooks{
		OnCycle: func(outcome string, _, _ int, _ float64) {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, outcome)
		},
	})

	stop := l.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("store len = %d, want 1 after errors", store.Len())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) < 3 || outcomes[0] != OutcomeError || outcomes[1] != OutcomeError || outcomes[2] != OutcomeOK {
		t.Errorf("outcomes = %v, want error, error, ok...", outcomes)
	}
}

func TestStart_StopWithStuckSource(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	polled := make(chan struct{}, 1)
	src := &scriptedSource{polls: []func() ([]alert.Raw, error){
		func() ([]alert.Raw, error) {
			select {
			case polled <- struct{}{}:
			default:
			}
			<-release
			return nil, nil
		},
	}}
	l := New(Config{
		Source:      src,
		Store:       alert.NewStore(),
		Interval:    time.Hour,
		CallTimeout: 100 * time.Millisecond,
	}, log.Nop(), Hooks{})

	stop := l.Start(context.Background())
	<-polled

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRun_CancelledContextReturns(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{polls: []func() ([]alert.Raw, error){batch()}}
	l := New(Config{Source: src, Store: alert.NewStore(), Interval: time.Hour}, log.Nop(), Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNew_RequiresSourceAndStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no source", Config{Store: alert.NewStore()}},
		{"no store", Config{Source: &scriptedSource{polls: []func() ([]alert.Raw, error){batch()}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			New(tt.cfg, log.Nop(), Hooks{})
		})
	}
}

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := m.Hooks()
	h.OnCycle(OutcomeOK, 3, 2, 0.1)
	h.OnCycle(OutcomeError, 0, 0, 0.2)
	h.OnCoordinates(CoordsGazetteer)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[f.GetName()] += c.GetValue()
			}
		}
	}
	if values["haven_ingest_cycles_total"] != 2 {
		t.Errorf("cycles = %v, want 2", values["haven_ingest_cycles_total"])
	}
	if values["haven_ingest_alerts_polled_total"] != 3 || values["haven_ingest_alerts_added_total"] != 2 {
		t.Errorf("polled/added = %v/%v", values["haven_ingest_alerts_polled_total"], values["haven_ingest_alerts_added_total"])
	}
	if values["haven_ingest_coordinates_total"] != 1 {
		t.Errorf("coordinates = %v, want 1", values["haven_ingest_coordinates_total"])
	}
}
