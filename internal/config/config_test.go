package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldroute/internal/opt"
)

func TestDefaultMatchesReference(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	r := c.Rules.Business()
	if r != opt.DefaultRules() {
		t.Fatalf("rules round trip mismatch:\n%+v\n%+v", r, opt.DefaultRules())
	}
	if c.SolveOptions().TimeBudget != 120*time.Second || c.Solver.Strategy != opt.StrategyGLS {
		t.Fatalf("solver defaults: %+v", c.Solver)
	}
	if d := c.DepotLocation(); d.Lat != 56.161147 || d.Lng != 10.13455 {
		t.Fatalf("depot: %+v", d)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldroute.yaml")
	body := `
port: "9090"
fleet: {bikes: 4, cars: 2}
rules:
  work_minutes: 300
  center_zone: {radius_m: 1500}
  min_stops_policy: {mode: fixed, fixed: 2, exempt_idle: false}
solver:
  strategy: descent
  time_budget_seconds: 5
matrix:
  cache_ttl: 2h
sources:
  - {kind: csv, path: stops.csv}
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("SOLVE_TIME_BUDGET_SECONDS", "1.5")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "3")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != "7070" {
		t.Fatalf("env should win over file, port=%s", c.Port)
	}
	if c.Fleet.Bikes != 4 || c.Rules.WorkMinutes != 300 || c.Rules.StopServiceMinutes != 20 {
		t.Fatalf("file overlay: %+v %+v", c.Fleet, c.Rules)
	}
	if c.Rules.CenterZone.RadiusM != 1500 || c.Rules.CenterZone.CarPenaltyMinutes != 20 {
		t.Fatalf("nested overlay should keep unset fields: %+v", c.Rules.CenterZone)
	}
	if c.Rules.Business().MinStops != (opt.MinStopsPolicy{Mode: opt.MinStopsFixed, Fixed: 2}) {
		t.Fatalf("min stops: %+v", c.Rules.MinStops)
	}
	if c.SolveOptions().TimeBudget != 1500*time.Millisecond || c.Webhook.MaxAttempts != 3 {
		t.Fatalf("env numbers: %+v %+v", c.Solver, c.Webhook)
	}
	if c.Matrix.CacheTTL != 2*time.Hour {
		t.Fatalf("cache ttl = %v", c.Matrix.CacheTTL)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("SOLVE_TIME_BUDGET_SECONDS", "soon")
	if _, err := Load(""); err == nil {
		t.Fatalf("want error for bad budget")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	c := Default()
	c.Rules.WorkMinutes = 0
	c.Solver.Strategy = "annealing"
	c.Sources = []SourceRef{{Kind: "csv"}, {Kind: "ftp"}}
	c.Auth = Auth{Mode: "hmac"}
	err := c.Validate()
	if err == nil {
		t.Fatalf("want validation error")
	}
	if !errors.Is(err, opt.ErrInput) {
		t.Fatalf("rule errors should wrap opt.ErrInput: %v", err)
	}
	for _, want := range []string{"work_minutes", "solver.strategy", "sources[0]", "sources[1]", "hmac_secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestWithOverrides(t *testing.T) {
	c := Default()
	out, err := c.WithOverrides(map[string]any{
		"drop_penalty":     25000.0,
		"center_zone":      map[string]any{"car_penalty_minutes": 30.0},
		"unknown_key":      true,
		"min_stops_policy": map[string]any{"mode": "off"},
	})
	if err != nil {
		t.Fatalf("WithOverrides: %v", err)
	}
	if out.Rules.DropPenalty != 25000 || out.Rules.CenterZone.CarPenaltyMinutes != 30 || out.Rules.CenterZone.RadiusM != 2000 {
		t.Fatalf("overlay: %+v", out.Rules)
	}
	if out.Rules.MinStops.Mode != "off" || !out.Rules.MinStops.ExemptIdle {
		t.Fatalf("min stops overlay: %+v", out.Rules.MinStops)
	}
	if c.Rules.DropPenalty != 50000 {
		t.Fatalf("receiver must not change")
	}
	if _, err := c.WithOverrides(map[string]any{"work_minutes": -1.0}); !errors.Is(err, opt.ErrInput) {
		t.Fatalf("want ErrInput, got %v", err)
	}
}
