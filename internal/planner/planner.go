// Package planner runs one planning job: it loads the day's candidate
// locations, fetches travel matrices, builds and solves the routing model,
// then persists the plan and notifies downstream receivers.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/config"
	"fieldroute/internal/geo"
	"fieldroute/internal/matrix"
	"fieldroute/internal/metrics"
	"fieldroute/internal/model"
	"fieldroute/internal/obs"
	"fieldroute/internal/opt"
	"fieldroute/internal/render"
	"fieldroute/internal/source"
	"fieldroute/internal/store"
	"fieldroute/internal/webhooks"
)

// Progress event types.
const (
	EventStarted  = "plan.started"
	EventProgress = "plan.progress"
	EventDone     = "plan.done"
	EventFailed   = "plan.failed"
)

const persistTimeout = 10 * time.Second

// Sink receives progress events keyed by plan id.
type Sink interface {
	Publish(planID string, evt model.ProgressEvent)
}

// Emitter queues webhook events.
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any)
}

type Planner struct {
	Config   config.Config
	Store    store.Store
	Matrices matrix.Provider
	Sources  source.Source
	Events   Emitter // optional
	Progress Sink    // optional
	Now      func() time.Time
}

func (p *Planner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run plans one day. An empty id gets a fresh one. Input errors are returned
// without persisting anything; later failures are saved as a failed plan and
// announced before the error is returned.
func (p *Planner) Run(ctx context.Context, id string, req model.PlanRequest) (plan model.Plan, met opt.Metrics, err error) {
	if id == "" {
		id = uuid.NewString()
	}
	defer obs.Time(ctx, "plan.run")(&err)

	cfg, err := p.effectiveConfig(ctx)
	if err != nil {
		return model.Plan{}, opt.Metrics{}, fmt.Errorf("plan run: %w", err)
	}
	fleet := opt.Fleet{Bikes: req.Fleet.Bikes, Cars: req.Fleet.Cars}
	if fleet.Size() == 0 && fleet.Bikes >= 0 && fleet.Cars >= 0 {
		fleet = opt.Fleet{Bikes: cfg.Fleet.Bikes, Cars: cfg.Fleet.Cars}
	}
	planDate := req.PlanDate
	if planDate == "" {
		planDate = p.now().Format("2006-01-02")
	} else if _, perr := time.Parse("2006-01-02", planDate); perr != nil {
		return model.Plan{}, opt.Metrics{}, &opt.InputError{Field: "planDate", Reason: "want YYYY-MM-DD"}
	}

	locs, err := p.locations(ctx, req)
	if err != nil {
		return model.Plan{}, opt.Metrics{}, fmt.Errorf("plan run: %w", err)
	}
	opts, err := solveOptions(cfg, req)
	if err != nil {
		return model.Plan{}, opt.Metrics{}, err
	}

	plan = model.Plan{
		ID:        id,
		PlanDate:  planDate,
		CreatedAt: p.now().UTC(),
		Fleet:     model.FleetIn{Bikes: fleet.Bikes, Cars: fleet.Cars},
		Routes:    []model.PlanRoute{},
		Dropped:   []model.DroppedStop{},
	}
	depot := cfg.DepotLocation()
	plan.NearDepot = source.NearDepot(depot.Point(), locs, source.NearDepotMeters)
	if len(plan.NearDepot) > 0 {
		log.Printf("req_id=%s op=plan.near_depot plan=%s count=%d", obs.RequestID(ctx), id, len(plan.NearDepot))
	}
	p.publish(id, model.ProgressEvent{Type: EventStarted, PlanID: id, Status: "running"})

	m, err := p.buildModel(ctx, depot, locs, fleet, cfg.Rules.Business())
	if err != nil {
		if errors.Is(err, opt.ErrInput) {
			metrics.SolverRuns.WithLabelValues(opts.Strategy, "invalid").Inc()
			p.publish(id, model.ProgressEvent{Type: EventFailed, PlanID: id, Status: model.PlanFailed})
			return model.Plan{}, opt.Metrics{}, fmt.Errorf("plan run: %w", err)
		}
		return p.fail(ctx, plan, opts.Strategy, "error", err)
	}

	started := p.now()
	opts.Progress = func(pr opt.Progress) {
		p.publish(id, model.ProgressEvent{
			Type:      EventProgress,
			PlanID:    id,
			Worker:    pr.Worker,
			Round:     pr.Round,
			BestCost:  pr.BestCost,
			Dropped:   pr.Dropped,
			ElapsedMs: pr.Elapsed.Milliseconds(),
			Status:    "running",
		})
	}
	res, met, err := opt.Solve(ctx, m, opts)
	metrics.SolverDuration.WithLabelValues(opts.Strategy).Observe(time.Since(started).Seconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, opt.ErrInfeasible) {
			outcome = "infeasible"
		}
		return p.fail(ctx, plan, opts.Strategy, outcome, err)
	}
	log.Printf("req_id=%s op=plan.solve plan=%s strategy=%s served=%d dropped=%d objective=%.1f stop=%s iterations=%d",
		obs.RequestID(ctx), id, met.Strategy, res.Served(), len(res.Dropped), res.Objective, met.StopReason, met.Iterations)
	metrics.SolverRuns.WithLabelValues(met.Strategy, "ok").Inc()
	metrics.SolverObjective.WithLabelValues(met.Strategy).Set(res.Objective)
	metrics.SolverDropped.Add(float64(len(res.Dropped)))
	opt.RecordMetrics(id, met)

	plan = Assemble(plan, m, res)
	plan.StopReason = met.StopReason

	// a canceled run still persists its best plan
	ctx, cancel := persistContext(ctx)
	defer cancel()
	if err := p.Store.SavePlan(ctx, plan); err != nil {
		return plan, met, fmt.Errorf("plan run: save plan: %w", err)
	}
	if mm, err := metricsMap(met); err == nil {
		if err := p.Store.SavePlanMetrics(ctx, id, met.Strategy, mm); err != nil {
			log.Printf("req_id=%s op=plan.metrics.save plan=%s err=%v", obs.RequestID(ctx), id, err)
		} else {
			opt.ForgetMetrics(id)
		}
	}
	p.publish(id, model.ProgressEvent{
		Type:      EventDone,
		PlanID:    id,
		BestCost:  res.Objective,
		Dropped:   len(res.Dropped),
		ElapsedMs: met.Elapsed.Milliseconds(),
		Status:    model.PlanCompleted,
	})
	if p.Events != nil {
		p.Events.Emit(ctx, webhooks.PlanCompleted, plan)
	}
	return plan, met, nil
}

// effectiveConfig overlays the stored optimizer config on the file config.
func (p *Planner) effectiveConfig(ctx context.Context) (config.Config, error) {
	over, err := p.Store.GetOptimizerConfig(ctx)
	if err != nil {
		return config.Config{}, fmt.Errorf("optimizer config: %w", err)
	}
	cfg, err := p.Config.WithOverrides(over)
	if err != nil {
		return config.Config{}, &opt.InputError{Field: "optimizer config", Reason: err.Error()}
	}
	return cfg, nil
}

// locations prefers the request's own list over the configured sources.
func (p *Planner) locations(ctx context.Context, req model.PlanRequest) ([]opt.Location, error) {
	if len(req.Locations) > 0 {
		locs, err := source.FromInputs(req.Locations)
		if err != nil {
			return nil, &opt.InputError{Field: "locations", Reason: err.Error()}
		}
		return locs, nil
	}
	if p.Sources == nil {
		return nil, nil
	}
	locs, err := p.Sources.Locations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	return locs, nil
}

func (p *Planner) buildModel(ctx context.Context, depot opt.Location, locs []opt.Location, fleet opt.Fleet, rules opt.BusinessRules) (_ *opt.Model, err error) {
	defer obs.Time(ctx, "plan.model")(&err)
	var classes []opt.VehicleClass
	if fleet.Bikes > 0 {
		classes = append(classes, opt.Bike)
	}
	if fleet.Cars > 0 {
		classes = append(classes, opt.Car)
	}
	var mats map[opt.VehicleClass]opt.TravelMatrix
	if len(locs) > 0 && len(classes) > 0 {
		pts := make([]geo.Point, 0, len(locs)+1)
		pts = append(pts, depot.Point())
		for _, l := range locs {
			pts = append(pts, l.Point())
		}
		mats, err = matrix.ForClasses(ctx, p.Matrices, pts, classes...)
		if err != nil {
			return nil, err
		}
	}
	if len(locs) == 0 {
		// nothing to route; matrices for the depot alone are trivial
		mats = map[opt.VehicleClass]opt.TravelMatrix{}
		for _, c := range classes {
			mats[c] = matrix.Empty(1)
		}
	}
	return opt.BuildModel(depot, locs, fleet, mats, rules)
}

// fail persists a failed plan, announces it and returns err.
func (p *Planner) fail(ctx context.Context, plan model.Plan, strategy, outcome string, cause error) (model.Plan, opt.Metrics, error) {
	metrics.SolverRuns.WithLabelValues(strategy, outcome).Inc()
	ctx, cancel := persistContext(ctx)
	defer cancel()
	plan.Status = model.PlanFailed
	plan.Error = cause.Error()
	if err := p.Store.SavePlan(ctx, plan); err != nil {
		log.Printf("req_id=%s op=plan.save plan=%s err=%v", obs.RequestID(ctx), plan.ID, err)
	}
	p.publish(plan.ID, model.ProgressEvent{Type: EventFailed, PlanID: plan.ID, Status: model.PlanFailed})
	if p.Events != nil {
		p.Events.Emit(ctx, webhooks.PlanFailed, map[string]any{"id": plan.ID, "planDate": plan.PlanDate, "error": plan.Error})
	}
	return plan, opt.Metrics{}, fmt.Errorf("plan run: %w", cause)
}

func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (p *Planner) publish(id string, evt model.ProgressEvent) {
	if p.Progress != nil {
		p.Progress.Publish(id, evt)
	}
}

// Assemble fills plan with the solved routes. Idle vehicles are kept with
// zero stops so every vehicle of the fleet is listed.
func Assemble(plan model.Plan, m *opt.Model, res opt.Result) model.Plan {
	plan.Status = model.PlanCompleted
	plan.Objective = res.Objective
	plan.Breakdown = res.Breakdown
	plan.MinStops = res.MinStops
	plan.Routes = make([]model.PlanRoute, 0, len(res.Routes))
	for _, r := range res.Routes {
		stops := opt.Details(m.Locations, r)
		plan.Routes = append(plan.Routes, model.PlanRoute{
			Vehicle:         r.Label,
			Class:           r.Class,
			Stops:           stops,
			StopCount:       r.Stops,
			DurationMinutes: r.DurationMinutes,
			DistanceMeters:  r.DistanceMeters,
			Cost:            r.Cost,
			MapsURL:         render.MapsURL(stops, r.Class, false),
		})
	}
	plan.Dropped = make([]model.DroppedStop, 0, len(res.Dropped))
	for _, node := range res.Dropped {
		l := m.Locations[node]
		plan.Dropped = append(plan.Dropped, model.DroppedStop{ID: l.ID, CaseRef: l.CaseRef, Address: l.Address, Lat: l.Lat, Lng: l.Lng})
	}
	return plan
}

// solveOptions layers request settings over the configured solver options.
func solveOptions(cfg config.Config, req model.PlanRequest) (opt.Options, error) {
	o := cfg.SolveOptions()
	if req.TimeBudgetMs < 0 {
		return o, &opt.InputError{Field: "timeBudgetMs", Reason: "must be >= 0"}
	}
	if req.Workers < 0 || req.MaxIterations < 0 {
		return o, &opt.InputError{Field: "workers", Reason: "workers and maxIterations must be >= 0"}
	}
	if req.TimeBudgetMs > 0 {
		o.TimeBudget = time.Duration(req.TimeBudgetMs) * time.Millisecond
	}
	if req.Seed != 0 {
		o.Seed = req.Seed
	}
	if req.Strategy != "" {
		o.Strategy = req.Strategy
	}
	switch o.Strategy {
	case "":
		o.Strategy = opt.StrategyGLS
	case opt.StrategyGLS, opt.StrategyDescent:
	default:
		return o, &opt.InputError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", o.Strategy)}
	}
	if req.Workers > 0 {
		o.Workers = req.Workers
	}
	if req.MaxIterations > 0 {
		o.MaxIterations = req.MaxIterations
	}
	return o, nil
}

func metricsMap(m opt.Metrics) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
