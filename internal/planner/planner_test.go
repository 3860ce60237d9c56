package planner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldroute/internal/config"
	"fieldroute/internal/geo"
	"fieldroute/internal/matrix"
	"fieldroute/internal/model"
	"fieldroute/internal/opt"
	"fieldroute/internal/render"
	"fieldroute/internal/source"
	"fieldroute/internal/store"
)

type recordSink struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (r *recordSink) Publish(_ string, evt model.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type recordEmitter struct {
	mu    sync.Mutex
	types []string
}

func (r *recordEmitter) Emit(_ context.Context, eventType string, _ any) {
	r.mu.Lock()
	r.types = append(r.types, eventType)
	r.mu.Unlock()
}

type failingProvider struct{}

func (failingProvider) Matrix(context.Context, []geo.Point, opt.VehicleClass) (opt.TravelMatrix, error) {
	return opt.TravelMatrix{}, errors.New("routing engine down")
}

// Aarhus case addresses, a few km around the depot.
func stops() []model.LocationIn {
	pts := []model.GeoPoint{
		{Lat: 56.1567, Lng: 10.2108},
		{Lat: 56.1496, Lng: 10.2045},
		{Lat: 56.1629, Lng: 10.1880},
		{Lat: 56.1702, Lng: 10.1650},
		{Lat: 56.1410, Lng: 10.1705},
		{Lat: 56.1755, Lng: 10.1980},
	}
	out := make([]model.LocationIn, len(pts))
	for i := range pts {
		p := pts[i]
		out[i] = model.LocationIn{CaseRef: "K-" + string(rune('A'+i)), Address: "Gade " + string(rune('1'+i)), Location: &p}
	}
	return out
}

func newPlanner(s store.Store) (*Planner, *recordSink, *recordEmitter) {
	sink, em := &recordSink{}, &recordEmitter{}
	cfg := config.Default()
	cfg.Solver.TimeBudgetSeconds = 2
	return &Planner{
		Config:   cfg,
		Store:    s,
		Matrices: matrix.NewEstimator(),
		Sources:  source.StoreSource{Store: s},
		Events:   em,
		Progress: sink,
		Now:      func() time.Time { return time.Date(2025, 3, 4, 7, 0, 0, 0, time.UTC) },
	}, sink, em
}

func TestRunPersistsPlan(t *testing.T) {
	s := store.NewMemory()
	p, sink, em := newPlanner(s)
	ctx := context.Background()

	plan, met, err := p.Run(ctx, "plan-1", model.PlanRequest{
		Fleet:         model.FleetIn{Bikes: 1, Cars: 1},
		Locations:     stops(),
		Seed:          7,
		MaxIterations: 20,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if plan.ID != "plan-1" || plan.Status != model.PlanCompleted || plan.PlanDate != "2025-03-04" {
		t.Fatalf("unexpected plan header: %+v", plan.Summary())
	}
	if len(plan.Routes) != 2 {
		t.Fatalf("want a route per vehicle, got %d", len(plan.Routes))
	}
	sum := plan.Summary()
	if sum.Served+sum.Dropped != 6 {
		t.Fatalf("served %d + dropped %d != 6", sum.Served, sum.Dropped)
	}
	for _, r := range plan.Routes {
		if r.StopCount == 0 {
			if r.MapsURL != render.NoRoute {
				t.Fatalf("idle %s should have no route link, got %q", r.Vehicle, r.MapsURL)
			}
			continue
		}
		if !r.Stops[0].Depot || !r.Stops[len(r.Stops)-1].Depot {
			t.Fatalf("%s does not start and end at the depot", r.Vehicle)
		}
		if !strings.HasPrefix(r.MapsURL, "https://www.google.com/maps/dir/?") {
			t.Fatalf("%s bad maps link %q", r.Vehicle, r.MapsURL)
		}
	}
	if met.Strategy != opt.StrategyGLS || met.StopReason == "" {
		t.Fatalf("unexpected metrics: %+v", met)
	}
	if plan.StopReason != met.StopReason {
		t.Fatalf("plan stop reason %q, metrics %q", plan.StopReason, met.StopReason)
	}

	got, err := s.GetPlan(ctx, "plan-1")
	if err != nil || got.Objective != plan.Objective {
		t.Fatalf("stored plan: %v %+v", err, got.Summary())
	}
	mx, err := s.ListPlanMetrics(ctx, "plan-1", "")
	if err != nil || len(mx) != 1 || mx[0]["strategy"] != opt.StrategyGLS {
		t.Fatalf("stored metrics: %v %v", err, mx)
	}
	if len(opt.GetMetrics("plan-1")) != 0 {
		t.Fatal("in-process metrics should be dropped once persisted")
	}

	types := sink.types()
	if types[0] != EventStarted || types[len(types)-1] != EventDone {
		t.Fatalf("unexpected progress events: %v", types)
	}
	if len(em.types) != 1 || em.types[0] != "plan.completed" {
		t.Fatalf("unexpected webhook events: %v", em.types)
	}
}

func TestRunReadsStoredLocations(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	if _, _, err := s.AddLocations(ctx, "test", stops()[:3]); err != nil {
		t.Fatal(err)
	}
	p, _, _ := newPlanner(s)
	plan, _, err := p.Run(ctx, "", model.PlanRequest{PlanDate: "2025-03-05", Fleet: model.FleetIn{Bikes: 1}, MaxIterations: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if plan.ID == "" {
		t.Fatal("expected generated id")
	}
	sum := plan.Summary()
	if sum.Served+sum.Dropped != 3 {
		t.Fatalf("want 3 candidates from the store, got %+v", sum)
	}
	if plan.Fleet.Bikes != 1 || plan.Fleet.Cars != 0 {
		t.Fatalf("request fleet not used: %+v", plan.Fleet)
	}
}

func TestRunDefaultsFleetFromConfig(t *testing.T) {
	p, _, _ := newPlanner(store.NewMemory())
	plan, _, err := p.Run(context.Background(), "", model.PlanRequest{Locations: stops()[:2], MaxIterations: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if plan.Fleet.Bikes != 2 || plan.Fleet.Cars != 1 || len(plan.Routes) != 3 {
		t.Fatalf("config fleet not applied: %+v routes=%d", plan.Fleet, len(plan.Routes))
	}
}

func TestRunAppliesStoredOptimizerConfig(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	// shorter than a single service stop: nothing can be visited
	if err := s.SaveOptimizerConfig(ctx, map[string]any{"work_minutes": 10}); err != nil {
		t.Fatal(err)
	}
	p, _, _ := newPlanner(s)
	plan, _, err := p.Run(ctx, "", model.PlanRequest{Fleet: model.FleetIn{Bikes: 1}, Locations: stops(), MaxIterations: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(plan.Dropped) != 6 || plan.Summary().Served != 0 {
		t.Fatalf("want every stop dropped, got %+v", plan.Summary())
	}
}

func TestRunInputErrors(t *testing.T) {
	bad := stops()
	bad[2].Location = nil
	cases := []struct {
		name string
		req  model.PlanRequest
	}{
		{"missing coordinates", model.PlanRequest{Fleet: model.FleetIn{Bikes: 1}, Locations: bad}},
		{"bad date", model.PlanRequest{PlanDate: "04/03/2025", Locations: stops()}},
		{"unknown strategy", model.PlanRequest{Strategy: "tabu", Locations: stops()}},
		{"negative fleet", model.PlanRequest{Fleet: model.FleetIn{Bikes: -1, Cars: 1}, Locations: stops()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := store.NewMemory()
			p, _, em := newPlanner(s)
			_, _, err := p.Run(context.Background(), "x", tc.req)
			if !errors.Is(err, opt.ErrInput) {
				t.Fatalf("want input error, got %v", err)
			}
			if _, err := s.GetPlan(context.Background(), "x"); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("input errors must not persist a plan: %v", err)
			}
			if len(em.types) != 0 {
				t.Fatalf("unexpected webhook events: %v", em.types)
			}
		})
	}
}

func TestRunMatrixFailureSavesFailedPlan(t *testing.T) {
	s := store.NewMemory()
	p, sink, em := newPlanner(s)
	p.Matrices = failingProvider{}
	_, _, err := p.Run(context.Background(), "p-down", model.PlanRequest{Fleet: model.FleetIn{Cars: 1}, Locations: stops()})
	if err == nil || errors.Is(err, opt.ErrInput) {
		t.Fatalf("want a non-input failure, got %v", err)
	}
	got, gerr := s.GetPlan(context.Background(), "p-down")
	if gerr != nil || got.Status != model.PlanFailed || !strings.Contains(got.Error, "routing engine down") {
		t.Fatalf("failed plan not stored: %v %+v", gerr, got)
	}
	if len(em.types) != 1 || em.types[0] != "plan.failed" {
		t.Fatalf("unexpected webhook events: %v", em.types)
	}
	types := sink.types()
	if types[len(types)-1] != EventFailed {
		t.Fatalf("unexpected progress events: %v", types)
	}
}

func TestRunFlagsNearDepot(t *testing.T) {
	p, _, _ := newPlanner(store.NewMemory())
	locs := stops()[:2]
	locs = append(locs, model.LocationIn{CaseRef: "K-DEPOT", Location: &model.GeoPoint{Lat: 56.16115, Lng: 10.13456}})
	plan, _, err := p.Run(context.Background(), "", model.PlanRequest{Fleet: model.FleetIn{Bikes: 1}, Locations: locs, MaxIterations: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(plan.NearDepot) != 1 || plan.NearDepot[0] != "K-DEPOT" {
		t.Fatalf("near depot: %v", plan.NearDepot)
	}
}

func TestSolveOptionsOverlay(t *testing.T) {
	cfg := config.Default()
	o, err := solveOptions(cfg, model.PlanRequest{TimeBudgetMs: 1500, Seed: 3, Strategy: opt.StrategyDescent, Workers: 4})
	if err != nil {
		t.Fatal(err)
	}
	if o.TimeBudget != 1500*time.Millisecond || o.Seed != 3 || o.Strategy != opt.StrategyDescent || o.Workers != 4 {
		t.Fatalf("overlay not applied: %+v", o)
	}
	o, err = solveOptions(cfg, model.PlanRequest{})
	if err != nil || o.TimeBudget != 120*time.Second || o.Strategy != opt.StrategyGLS {
		t.Fatalf("defaults: %v %+v", err, o)
	}
}
