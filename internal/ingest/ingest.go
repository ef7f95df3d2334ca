// Package ingest runs the background loop that polls an alert source,
// normalizes and enriches new candidates, and commits them to the shared
// alert store and the memory bank.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/collab"
	"github.com/linnemanlabs/haven/internal/geo"
	"github.com/linnemanlabs/haven/internal/source"
)

var tracer = otel.Tracer("github.com/linnemanlabs/haven/internal/ingest")

const (
	DefaultInterval    = 10 * time.Second
	DefaultCallTimeout = 10 * time.Second
)

// Where an alert's coordinates came from, reported to OnCoordinates.
const (
	CoordsPayload   = "payload"
	CoordsGeocoder  = "geocoder"
	CoordsGazetteer = "gazetteer"
	CoordsNone      = "none"
)

// Cycle outcomes reported to OnCycle.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Bank receives committed incidents and the alerts_added event.
type Bank interface {
	WriteIncident(ctx context.Context, al *alert.Alert) error
	Record(ctx context.Context, typ string, fields map[string]any) error
}

// Geocoder resolves a place name. A miss is ok=false with a nil error.
type Geocoder interface {
	Geocode(ctx context.Context, name string) (geo.Point, bool, error)
}

// Gazetteer is the static last-resort coordinate table.
type Gazetteer interface {
	Lookup(name string) (geo.Point, bool)
}

// Config wires the loop. Source and Store are required; a nil Bank,
// Geocoder or Gazetteer is skipped.
type Config struct {
	Source      source.Source
	Store       *alert.Store
	Bank        Bank
	Geocoder    Geocoder
	Gazetteer   Gazetteer
	Interval    time.Duration
	CallTimeout time.Duration
}

// Hooks receives loop observations. Nil funcs are ignored.
type Hooks struct {
	OnCycle       func(outcome string, polled, added int, seconds float64)
	OnCoordinates func(source string)
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	Polled   int
	Added    int
	Duration time.Duration
}

// Loop is the alert ingestion loop.
type Loop struct {
	cfg    Config
	logger log.Logger
	hooks  Hooks
}

// New creates a loop. It panics if Source or Store is missing.
func New(cfg Config, logger log.Logger, hooks Hooks) *Loop {
	if cfg.Source == nil {
		panic(xerrors.New("alert source is required"))
	}
	if cfg.Store == nil {
		panic(xerrors.New("alert store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Loop{
		cfg:    cfg,
		logger: logger.With("source", cfg.Source.Name()),
		hooks:  hooks,
	}
}

// Start runs the loop in a goroutine. The returned function stops it and
// waits for the current cycle to finish, or for ctx to expire.
func (l *Loop) Start(ctx context.Context) func(context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	return func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return fmt.Errorf("ingest loop stop: %w", stopCtx.Err())
		}
	}
}

// Run polls once immediately and then every Interval until ctx is
// cancelled. Cancellation is only observed between cycles; a cycle in
// flight runs to completion. Cycle errors are logged and never end the loop.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info(ctx, "alert ingestion started", "interval", l.cfg.Interval.String())

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		l.cycle(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	l.logger.Info(context.WithoutCancel(ctx), "alert ingestion stopped")
}

func (l *Loop) cycle(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	res, err := l.RunOnce(ctx)
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
		l.logger.Error(ctx, err, "ingest cycle failed", "duration", res.Duration.Seconds())
	}
	if l.hooks.OnCycle != nil {
		l.hooks.OnCycle(outcome, res.Polled, res.Added, res.Duration.Seconds())
	}
}

// RunOnce performs a single poll cycle. On a poll error nothing is
// committed. Persistence failures are logged and do not fail the cycle.
func (l *Loop) RunOnce(ctx context.Context) (res CycleResult, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ingest.cycle", trace.WithAttributes(
		attribute.String("haven.source", l.cfg.Source.Name()),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest cycle panic: %v", r)
		}
		res.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("haven.ingest.polled", res.Polled),
			attribute.Int("haven.ingest.added", res.Added),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	raws, err := collab.Call(ctx, l.cfg.CallTimeout, l.cfg.Source.Poll)
	if err != nil {
		return res, fmt.Errorf("poll %s: %w", l.cfg.Source.Name(), err)
	}
	res.Polled = len(raws)

	now := time.Now().UTC()
	batch := make([]*alert.Alert, 0, len(raws))
	seen := make(map[string]bool, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		al := alert.Normalize(raw, now)
		// known ids are dropped by the store anyway; skip their enrichment
		if seen[al.ID] || l.cfg.Store.Contains(al.ID) {
			continue
		}
		seen[al.ID] = true
		l.enrich(ctx, al)
		batch = append(batch, al)
	}

	added := l.cfg.Store.AppendBatch(batch)
	res.Added = len(added)
	if len(added) == 0 {
		return res, nil
	}

	l.persist(ctx, added)
	l.logger.Info(ctx, "alerts added",
		"count", len(added),
		"polled", res.Polled,
		"total", l.cfg.Store.Len(),
	)
	return res, nil
}

// enrich resolves coordinates for an uncommitted alert: payload values
// first, then the geocoder, then the gazetteer.
func (l *Loop) enrich(ctx context.Context, al *alert.Alert) {
	src := CoordsNone
	defer func() {
		if l.hooks.OnCoordinates != nil {
			l.hooks.OnCoordinates(src)
		}
	}()

	if _, ok := al.Point(); ok {
		src = CoordsPayload
		return
	}
	if al.Location == "" {
		return
	}

	if l.cfg.Geocoder != nil {
		type hit struct {
			p  geo.Point
			ok bool
		}
		h, err := collab.Call(ctx, l.cfg.CallTimeout, func(ctx context.Context) (hit, error) {
			p, ok, err := l.cfg.Geocoder.Geocode(ctx, al.Location)
			return hit{p, ok}, err
		})
		switch {
		case err != nil:
			l.logger.Warn(ctx, "geocode failed", "location", al.Location, "error", err.Error())
		case h.ok && h.p.Valid():
			al.SetPoint(h.p)
			src = CoordsGeocoder
			return
		}
	}

	if l.cfg.Gazetteer != nil {
		if p, ok := l.cfg.Gazetteer.Lookup(al.Location); ok {
			al.SetPoint(p)
			src = CoordsGazetteer
		}
	}
}

func (l *Loop) persist(ctx context.Context, added []*alert.Alert) {
	if l.cfg.Bank == nil {
		return
	}
	for _, al := range added {
		err := collab.Do(ctx, l.cfg.CallTimeout, func(ctx context.Context) error {
			return l.cfg.Bank.WriteIncident(ctx, al)
		})
		if err != nil {
			l.logger.Error(ctx, err, "failed to write incident", "event_id", al.ID)
		}
	}

	err := collab.Do(ctx, l.cfg.CallTimeout, func(ctx context.Context) error {
		return l.cfg.Bank.Record(ctx, "alerts_added", map[string]any{"count": len(added)})
	})
	if err != nil {
		l.logger.Error(ctx, err, "failed to record alerts_added")
	}
}
