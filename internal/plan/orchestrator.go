package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/collab"
	"github.com/linnemanlabs/haven/internal/geo"
	"github.com/linnemanlabs/haven/internal/volunteer"
)

var tracer = otel.Tracer("github.com/linnemanlabs/haven/internal/plan")

// ErrNotFound is returned by Create for an unknown alert id. It is the only
// error Create returns.
var ErrNotFound = errors.New("alert not found")

const (
	DefaultCallTimeout  = 10 * time.Second
	ShelterRadiusMeters = 15000
)

// Pipeline stages, in order.
const (
	StageRisk       = "risk"
	StageDraft      = "draft"
	StageVolunteers = "volunteers"
	StageShelter    = "shelter"
	StagePersist    = "persist"
)

// Stage outcomes reported to hooks.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeSkipped  = "skipped"
	OutcomeError    = "error"
)

// Deps are the orchestrator's collaborators. Only Alerts is required; any
// other nil collaborator behaves as a failing one and its stage falls back.
type Deps struct {
	Alerts      AlertLookup
	Risk        RiskEvaluator
	Planner     Planner
	Volunteers  VolunteerAllocator
	Geocoder    Geocoder
	Shelters    ShelterFinder
	Routes      RouteEstimator
	Recorder    Recorder
	Notifier    Notifier
	CallTimeout time.Duration
}

// Hooks receives pipeline observations. Nil funcs are ignored.
type Hooks struct {
	OnStage    func(stage, outcome string, seconds float64)
	OnComplete func(risk float64, tasks int, seconds float64)
}

// Orchestrator runs the plan pipeline. It holds no per-request state and
// is safe for concurrent use; concurrent requests for the same alert are
// computed and persisted independently.
type Orchestrator struct {
	deps   Deps
	logger log.Logger
	hooks  Hooks
}

// New creates an orchestrator.
func New(deps Deps, logger log.Logger, hooks Hooks) *Orchestrator {
	if deps.Alerts == nil {
		panic(xerrors.New("alert lookup is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = DefaultCallTimeout
	}
	return &Orchestrator{deps: deps, logger: logger, hooks: hooks}
}

// Create builds, persists and returns a plan for the alert with the given
// id. Collaborator failures degrade to fallbacks; an unknown id returns
// ErrNotFound without touching the recorder or notifier.
func (o *Orchestrator) Create(ctx context.Context, alertID string) (*Plan, error) {
	al, ok := o.deps.Alerts.Find(alertID)
	if !ok {
		o.logger.Warn(ctx, "plan requested for unknown alert", "event_id", alertID)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}

	start := time.Now()
	p := &Plan{
		ID:        ulid.Make().String(),
		EventID:   al.ID,
		CreatedAt: start.UTC(),
	}

	ctx, span := tracer.Start(ctx, "plan.create", trace.WithAttributes(
		attribute.String("haven.plan.id", p.ID),
		attribute.String("haven.alert.id", al.ID),
		attribute.String("haven.alert.type", al.Type),
	))
	defer span.End()

	L := o.logger.With("plan_id", p.ID, "event_id", al.ID, "location", al.Location)
	L.Info(ctx, "planning for alert")

	o.stage(ctx, L, StageRisk, func(ctx context.Context) (string, error) {
		return o.scoreRisk(ctx, L, al, p)
	})
	o.stage(ctx, L, StageDraft, func(ctx context.Context) (string, error) {
		return o.draft(ctx, al, p)
	})
	o.stage(ctx, L, StageVolunteers, func(ctx context.Context) (string, error) {
		return o.assignVolunteers(ctx, al, p)
	})
	o.stage(ctx, L, StageShelter, func(ctx context.Context) (string, error) {
		return o.recommendShelter(ctx, al, p)
	})
	o.stage(ctx, L, StagePersist, func(ctx context.Context) (string, error) {
		return o.persist(ctx, L, al, p)
	})

	if p.Tasks == nil {
		p.Tasks = []Task{}
	}

	elapsed := time.Since(start).Seconds()
	span.SetAttributes(
		attribute.Float64("haven.plan.risk", p.Risk),
		attribute.Int("haven.plan.tasks", len(p.Tasks)),
	)
	if o.hooks.OnComplete != nil {
		o.hooks.OnComplete(p.Risk, len(p.Tasks), elapsed)
	}
	L.Info(ctx, "plan created",
		"risk", p.Risk,
		"tasks", len(p.Tasks),
		"duration", elapsed,
	)
	return p, nil
}

// stage runs one pipeline step in its own span and reports its outcome.
// A returned error is informational: the step has already degraded.
func (o *Orchestrator) stage(ctx context.Context, L log.Logger, name string, fn func(context.Context) (string, error)) {
	ctx, span := tracer.Start(ctx, "plan."+name)
	defer span.End()

	start := time.Now()
	outcome, err := fn(ctx)
	elapsed := time.Since(start).Seconds()

	span.SetAttributes(attribute.String("haven.plan.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Warn(ctx, "plan stage degraded", "stage", name, "outcome", outcome, "error", err.Error())
	}
	if o.hooks.OnStage != nil {
		o.hooks.OnStage(name, outcome, elapsed)
	}
}

var errNotConfigured = errors.New("collaborator not configured")

func (o *Orchestrator) scoreRisk(ctx context.Context, L log.Logger, al *alert.Alert, p *Plan) (string, error) {
	if o.deps.Risk == nil {
		p.Risk = HeuristicRisk(al)
		return OutcomeFallback, nil
	}

	a, err := collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) (*Assessment, error) {
		return o.deps.Risk.Evaluate(ctx, al.Clone())
	})
	switch {
	case err != nil:
	case a == nil:
		err = errors.New("risk evaluator returned no assessment")
	case !validRisk(a.Risk):
		err = fmt.Errorf("risk evaluator returned out of range risk %v", a.Risk)
	default:
		p.Risk = a.Risk
		L.Info(ctx, "risk scored", "risk", a.Risk, "explain", a.Explain)
		return OutcomeOK, nil
	}

	p.Risk = HeuristicRisk(al)
	return OutcomeFallback, fmt.Errorf("risk: %w", err)
}

func (o *Orchestrator) draft(ctx context.Context, al *alert.Alert, p *Plan) (string, error) {
	if o.deps.Planner == nil {
		applyDraft(p, HeuristicDraft(p.Risk))
		return OutcomeFallback, nil
	}

	d, err := collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) (*Draft, error) {
		return o.deps.Planner.Plan(ctx, al.Clone(), p.Risk)
	})
	if err == nil && d == nil {
		err = errors.New("planner returned no draft")
	}
	if err != nil {
		applyDraft(p, HeuristicDraft(p.Risk))
		return OutcomeFallback, fmt.Errorf("planner: %w", err)
	}

	applyDraft(p, d)
	return OutcomeOK, nil
}

// applyDraft copies a draft into the plan, dropping unnamed tasks.
func applyDraft(p *Plan, d *Draft) {
	p.Tasks = make([]Task, 0, len(d.Tasks)+2)
	for _, t := range d.Tasks {
		if t.Task == "" {
			continue
		}
		p.Tasks = append(p.Tasks, t)
	}
	p.Assignment = sanitizeAssignment(d.Assignment)
}

func sanitizeAssignment(a *Assignment) *Assignment {
	if a == nil {
		return nil
	}
	cp := a.Clone()
	cp.Assigned = max(cp.Assigned, 0)
	cp.Required = max(cp.Required, 0)
	if cp.RecommendedShelter != nil && !cp.RecommendedShelter.Point().Valid() {
		cp.RecommendedShelter = nil
	}
	return cp
}

func (o *Orchestrator) assignVolunteers(ctx context.Context, al *alert.Alert, p *Plan) (string, error) {
	required := RequiredVolunteers(p.Risk)
	if p.Assignment != nil || required == 0 {
		return OutcomeSkipped, nil
	}

	req := volunteer.Request{Location: al.Location, Required: required}
	var (
		result *volunteer.Result
		err    = errNotConfigured
	)
	if o.deps.Volunteers != nil {
		result, err = collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) (*volunteer.Result, error) {
			return o.deps.Volunteers.Assign(ctx, req)
		})
		if err == nil && result == nil {
			err = errors.New("allocator returned no result")
		}
	}

	outcome := OutcomeOK
	if err != nil {
		p.Assignment = &Assignment{
			Status:   AssignmentStatusError,
			Required: required,
			Location: al.Location,
			Error:    err.Error(),
		}
		outcome = OutcomeError
		err = fmt.Errorf("volunteers: %w", err)
	} else {
		p.Assignment = &Assignment{
			Status:   result.Status,
			Assigned: min(max(result.Assigned, 0), required),
			Required: required,
			Location: al.Location,
		}
	}

	p.Tasks = append(p.Tasks, Task{
		Task:    TaskAssignVolunteers,
		Details: fmt.Sprintf("Assigned %d volunteers", p.Assignment.Assigned),
	})
	return outcome, err
}

func (o *Orchestrator) recommendShelter(ctx context.Context, al *alert.Alert, p *Plan) (string, error) {
	if o.deps.Shelters == nil {
		return OutcomeSkipped, nil
	}

	// coordinates resolved here stay local to the plan
	point, ok := al.Point()
	if !ok && o.deps.Geocoder != nil && al.Location != "" {
		type hit struct {
			p  geo.Point
			ok bool
		}
		h, err := collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) (hit, error) {
			gp, gok, gerr := o.deps.Geocoder.Geocode(ctx, al.Location)
			return hit{gp, gok}, gerr
		})
		if err != nil {
			return OutcomeError, fmt.Errorf("geocode: %w", err)
		}
		point, ok = h.p, h.ok && h.p.Valid()
	}
	if !ok {
		return OutcomeSkipped, nil
	}

	shelters, err := collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) ([]geo.Shelter, error) {
		return o.deps.Shelters.FindShelters(ctx, point, ShelterRadiusMeters)
	})
	if err != nil {
		return OutcomeError, fmt.Errorf("shelters: %w", err)
	}
	if len(shelters) == 0 {
		return OutcomeOK, nil
	}

	top := shelters[0]
	if !top.Point().Valid() {
		return OutcomeError, fmt.Errorf("shelters: invalid coordinates for %q", top.Name)
	}
	p.Tasks = append(p.Tasks, Task{
		Task:    TaskRecommendShelter,
		Details: "Recommend shelter: " + top.Name,
	})
	if p.Assignment == nil {
		p.Assignment = &Assignment{}
	}
	p.Assignment.RecommendedShelter = &top

	if o.deps.Routes == nil {
		return OutcomeOK, nil
	}
	route, err := collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) (*geo.Route, error) {
		return o.deps.Routes.EstimateRoute(ctx, point, top.Point())
	})
	if err != nil {
		return OutcomeError, fmt.Errorf("route: %w", err)
	}
	if route != nil {
		r := *route
		p.Assignment.Route = &r
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) persist(ctx context.Context, L log.Logger, al *alert.Alert, p *Plan) (string, error) {
	// a plan that was computed is recorded even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	var errs []error

	if o.deps.Recorder != nil {
		_, err := collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Recorder.WritePlan(ctx, p.Clone())
		})
		if err != nil {
			L.Error(ctx, err, "failed to persist plan")
			errs = append(errs, fmt.Errorf("write plan: %w", err))
		}

		_, err = collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Recorder.Record(ctx, "plan_created", map[string]any{
				"event_id": p.EventID,
				"plan_id":  p.ID,
				"risk":     p.Risk,
			})
		})
		if err != nil {
			L.Error(ctx, err, "failed to record plan event")
			errs = append(errs, fmt.Errorf("record event: %w", err))
		}
	}

	if o.deps.Notifier != nil {
		_, err := collab.Call(ctx, o.deps.CallTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Notifier.Notify(ctx, al.Clone(), p.Clone())
		})
		if err != nil {
			L.Error(ctx, err, "failed to notify")
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}

	if o.deps.Recorder == nil && o.deps.Notifier == nil {
		return OutcomeSkipped, nil
	}
	if len(errs) > 0 {
		return OutcomeError, errors.Join(errs...)
	}
	return OutcomeOK, nil
}
