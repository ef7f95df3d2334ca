// Package pgstore provides a PostgreSQL implementation of memory.Bank.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/memory"
	"github.com/linnemanlabs/haven/internal/plan"
)

var tracer = otel.Tracer("github.com/linnemanlabs/haven/internal/memory/pgstore")

//go:embed schema.sql
var schema string

// Store persists the memory bank in PostgreSQL. Rows are only ever inserted.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The pool stays owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `id, type, location, time, source, confidence, payload`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// WriteIncident inserts the alert and an incident event in one transaction.
func (s *Store) WriteIncident(ctx context.Context, al *alert.Alert) error {
	ctx, span := startSpan(ctx, "pgstore.WriteIncident", "INSERT")
	defer span.End()

	payload, err := json.Marshal(al.Payload)
	if err != nil {
		return fail(span, fmt.Errorf("marshal payload: %w", err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO incidents (`+incidentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		al.ID, al.Type, al.Location, al.Time, al.Source, al.Confidence, payload,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert incident %s: %w", al.ID, err))
	}
	if err := insertEvent(ctx, tx, memory.NewEvent(memory.EventIncident, map[string]any{"id": al.ID})); err != nil {
		return fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// WritePlan inserts the plan and a plan event in one transaction.
func (s *Store) WritePlan(ctx context.Context, p *plan.Plan) error {
	ctx, span := startSpan(ctx, "pgstore.WritePlan", "INSERT")
	defer span.End()

	body, err := json.Marshal(p)
	if err != nil {
		return fail(span, fmt.Errorf("marshal plan: %w", err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO plans (id, event_id, risk, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.EventID, p.Risk, body, p.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert plan %s: %w", p.ID, err))
	}
	if err := insertEvent(ctx, tx, memory.NewEvent(memory.EventPlan, map[string]any{"id": p.EventID})); err != nil {
		return fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Record inserts a single log event.
func (s *Store) Record(ctx context.Context, typ string, fields map[string]any) error {
	ctx, span := startSpan(ctx, "pgstore.Record", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.String("haven.event.type", typ))

	if err := insertEvent(ctx, s.pool, memory.NewEvent(typ, fields)); err != nil {
		return fail(span, err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, db execer, e memory.Event) error {
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal event fields: %w", err)
	}
	if _, err := db.Exec(ctx,
		`INSERT INTO events (type, fields, time) VALUES ($1, $2, $3)`,
		e.Type, b, e.Time,
	); err != nil {
		return fmt.Errorf("insert event %s: %w", e.Type, err)
	}
	return nil
}

// Incidents returns all incidents in insertion order.
func (s *Store) Incidents(ctx context.Context) ([]*alert.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.Incidents", "SELECT")
	defer span.End()

	out, err := s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents ORDER BY seq`)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// QueryByLocation returns incidents whose location matches exactly.
func (s *Store) QueryByLocation(ctx context.Context, location string) ([]*alert.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.QueryByLocation", "SELECT")
	defer span.End()

	out, err := s.queryIncidents(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE location = $1 ORDER BY seq`, location)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (s *Store) queryIncidents(ctx context.Context, query string, args ...any) ([]*alert.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		var (
			a       alert.Alert
			payload []byte
		)
		if err := rows.Scan(&a.ID, &a.Type, &a.Location, &a.Time, &a.Source, &a.Confidence, &payload); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &a.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload %s: %w", a.ID, err)
			}
		}
		a.Time = a.Time.UTC()
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// Plans returns all plans in insertion order.
func (s *Store) Plans(ctx context.Context) ([]*plan.Plan, error) {
	ctx, span := startSpan(ctx, "pgstore.Plans", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT body FROM plans ORDER BY seq`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query plans: %w", err))
	}
	defer rows.Close()

	var out []*plan.Plan
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fail(span, fmt.Errorf("scan plan: %w", err))
		}
		var p plan.Plan
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal plan: %w", err))
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate plans: %w", err))
	}
	return out, nil
}

// RecentEvents returns the last n events in insertion order, all when n <= 0.
func (s *Store) RecentEvents(ctx context.Context, n int) ([]memory.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.RecentEvents", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.Int("haven.events.limit", n))

	var (
		rows pgx.Rows
		err  error
	)
	if n > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT type, fields, time FROM (
				SELECT seq, type, fields, time FROM events ORDER BY seq DESC LIMIT $1
			) recent ORDER BY seq`, n)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT type, fields, time FROM events ORDER BY seq`)
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	out := []memory.Event{}
	for rows.Next() {
		var (
			e      memory.Event
			fields []byte
			ts     time.Time
		)
		if err := rows.Scan(&e.Type, &fields, &ts); err != nil {
			return nil, fail(span, fmt.Errorf("scan event: %w", err))
		}
		if err := json.Unmarshal(fields, &e.Fields); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal event fields: %w", err))
		}
		e.Time = ts.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate events: %w", err))
	}
	return out, nil
}
