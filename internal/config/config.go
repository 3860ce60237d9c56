// Package config loads service and solver settings from a YAML file, then
// environment overrides. Missing settings take the reference defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fieldroute/internal/geo"
	"fieldroute/internal/opt"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	Depot   Depot       `yaml:"depot"`
	Fleet   Fleet       `yaml:"fleet"`
	Rules   Rules       `yaml:"rules"`
	Solver  Solver      `yaml:"solver"`
	Matrix  Matrix      `yaml:"matrix"`
	Sources []SourceRef `yaml:"sources"`
	Webhook Webhook     `yaml:"webhook"`
	Auth    Auth        `yaml:"auth"`
}

type Depot struct {
	Lat     float64 `yaml:"lat"`
	Lng     float64 `yaml:"lng"`
	Address string  `yaml:"address"`
}

type Fleet struct {
	Bikes int `yaml:"bikes"`
	Cars  int `yaml:"cars"`
}

type Zone struct {
	Lat               float64 `yaml:"lat"`
	Lng               float64 `yaml:"lng"`
	RadiusM           float64 `yaml:"radius_m"`
	CarPenaltyMinutes float64 `yaml:"car_penalty_minutes"`
}

type MinStops struct {
	Mode       string `yaml:"mode"`
	Fixed      int    `yaml:"fixed"`
	ExemptIdle bool   `yaml:"exempt_idle"`
}

// Rules mirrors opt.BusinessRules with file names. The same names are used
// by the persisted optimizer config overrides.
type Rules struct {
	WorkMinutes               float64  `yaml:"work_minutes" json:"work_minutes"`
	StopServiceMinutes        float64  `yaml:"stop_service_minutes" json:"stop_service_minutes"`
	MaxBikeDistanceM          float64  `yaml:"max_bike_distance_m" json:"max_bike_distance_m"`
	DropPenalty               float64  `yaml:"drop_penalty" json:"drop_penalty"`
	FixedCostBike             float64  `yaml:"fixed_cost_bike" json:"fixed_cost_bike"`
	FixedCostCar              float64  `yaml:"fixed_cost_car" json:"fixed_cost_car"`
	GlobalSpanCoefficient     float64  `yaml:"global_span_coefficient" json:"global_span_coefficient"`
	VisitCountSpanCoefficient float64  `yaml:"visit_count_span_coefficient" json:"visit_count_span_coefficient"`
	MaxStopsPerVehicle        int      `yaml:"max_stops_per_vehicle" json:"max_stops_per_vehicle"`
	CenterZone                Zone     `yaml:"center_zone" json:"center_zone"`
	MinStops                  MinStops `yaml:"min_stops_policy" json:"min_stops_policy"`
}

type Solver struct {
	TimeBudgetSeconds float64 `yaml:"time_budget_seconds"`
	Strategy          string  `yaml:"strategy"`
	Workers           int     `yaml:"workers"`
	Seed              int64   `yaml:"seed"`
	Lambda            float64 `yaml:"lambda"`
	MaxIterations     int     `yaml:"max_iterations"`
}

type Matrix struct {
	GraphHopperURL string        `yaml:"graphhopper_url"`
	RPS            float64       `yaml:"rps"`
	Burst          int           `yaml:"burst"`
	Concurrency    int           `yaml:"concurrency"`
	File           string        `yaml:"file"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// SourceRef names one location feed. Kind is csv, case_export or store.
type SourceRef struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type Webhook struct {
	URL         string `yaml:"url"`
	Secret      string `yaml:"secret"`
	MaxAttempts int    `yaml:"max_attempts"`
}

type Auth struct {
	Mode       string `yaml:"mode"`
	HMACSecret string `yaml:"hmac_secret"`
}

// Default returns the reference configuration.
func Default() Config {
	r := opt.DefaultRules()
	return Config{
		Port:  "8080",
		Depot: Depot{Lat: 56.161147, Lng: 10.13455},
		Fleet: Fleet{Bikes: 2, Cars: 1},
		Rules: RulesFrom(r),
		Solver: Solver{
			TimeBudgetSeconds: 120,
			Strategy:          opt.StrategyGLS,
			Lambda:            opt.DefaultLambda,
		},
		Matrix:  Matrix{RPS: 20, Burst: 20, Concurrency: 8, CacheTTL: 7 * 24 * time.Hour},
		Sources: []SourceRef{{Kind: "store"}},
		Webhook: Webhook{MaxAttempts: 10},
		Auth:    Auth{Mode: "dev"},
	}
}

// RulesFrom converts solver rules to their file form.
func RulesFrom(r opt.BusinessRules) Rules {
	return Rules{
		WorkMinutes:               r.WorkMinutes,
		StopServiceMinutes:        r.StopServiceMinutes,
		MaxBikeDistanceM:          r.MaxBikeDistanceM,
		DropPenalty:               r.DropPenalty,
		FixedCostBike:             r.FixedCostBike,
		FixedCostCar:              r.FixedCostCar,
		GlobalSpanCoefficient:     r.GlobalSpanCoefficient,
		VisitCountSpanCoefficient: r.VisitCountSpanCoefficient,
		MaxStopsPerVehicle:        r.MaxStopsPerVehicle,
		CenterZone: Zone{
			Lat:               r.CenterZone.Center.Lat,
			Lng:               r.CenterZone.Center.Lng,
			RadiusM:           r.CenterZone.RadiusM,
			CarPenaltyMinutes: r.CenterZone.CarPenaltyMinutes,
		},
		MinStops: MinStops{Mode: string(r.MinStops.Mode), Fixed: r.MinStops.Fixed, ExemptIdle: r.MinStops.ExemptIdle},
	}
}

// Business converts file rules to solver rules.
func (r Rules) Business() opt.BusinessRules {
	return opt.BusinessRules{
		WorkMinutes:               r.WorkMinutes,
		StopServiceMinutes:        r.StopServiceMinutes,
		MaxBikeDistanceM:          r.MaxBikeDistanceM,
		DropPenalty:               r.DropPenalty,
		FixedCostBike:             r.FixedCostBike,
		FixedCostCar:              r.FixedCostCar,
		GlobalSpanCoefficient:     r.GlobalSpanCoefficient,
		VisitCountSpanCoefficient: r.VisitCountSpanCoefficient,
		MaxStopsPerVehicle:        r.MaxStopsPerVehicle,
		CenterZone: opt.Zone{
			Center:            geo.Point{Lat: r.CenterZone.Lat, Lng: r.CenterZone.Lng},
			RadiusM:           r.CenterZone.RadiusM,
			CarPenaltyMinutes: r.CenterZone.CarPenaltyMinutes,
		},
		MinStops: opt.MinStopsPolicy{Mode: opt.MinStopsMode(r.MinStops.Mode), Fixed: r.MinStops.Fixed, ExemptIdle: r.MinStops.ExemptIdle},
	}
}

// DepotLocation returns the depot as node 0 of a model.
func (c Config) DepotLocation() opt.Location {
	return opt.Location{ID: "depot", Lat: c.Depot.Lat, Lng: c.Depot.Lng, Address: c.Depot.Address, Description: "Start/End"}
}

// SolveOptions returns solver options without a progress callback.
func (c Config) SolveOptions() opt.Options {
	return opt.Options{
		TimeBudget:    time.Duration(c.Solver.TimeBudgetSeconds * float64(time.Second)),
		Seed:          c.Solver.Seed,
		Strategy:      c.Solver.Strategy,
		Workers:       c.Solver.Workers,
		MaxIterations: c.Solver.MaxIterations,
		Lambda:        c.Solver.Lambda,
	}
}

// Load reads path over the defaults (an empty path skips the file), then
// applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("GRAPHHOPPER_URL", &c.Matrix.GraphHopperURL)
	str("WEBHOOK_URL", &c.Webhook.URL)
	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("SOLVE_STRATEGY", &c.Solver.Strategy)

	if v, ok := lookup("SOLVE_TIME_BUDGET_SECONDS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: SOLVE_TIME_BUDGET_SECONDS: %w", err)
		}
		c.Solver.TimeBudgetSeconds = f
	}
	if v, ok := lookup("WEBHOOK_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: WEBHOOK_MAX_ATTEMPTS: %w", err)
		}
		c.Webhook.MaxAttempts = n
	}
	return nil
}

// Validate rejects settings no run could use. Business rules are checked
// with the solver's own validation so field names match model errors.
func (c Config) Validate() error {
	var errs []error
	if c.Depot.Lat < -90 || c.Depot.Lat > 90 || c.Depot.Lng < -180 || c.Depot.Lng > 180 {
		errs = append(errs, fmt.Errorf("depot: coordinates out of range (%v, %v)", c.Depot.Lat, c.Depot.Lng))
	}
	if c.Fleet.Bikes < 0 || c.Fleet.Cars < 0 {
		errs = append(errs, errors.New("fleet: counts must be >= 0"))
	}
	if err := c.Rules.Business().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Solver.TimeBudgetSeconds < 0 {
		errs = append(errs, errors.New("solver.time_budget_seconds: must be >= 0"))
	}
	switch c.Solver.Strategy {
	case "", opt.StrategyGLS, opt.StrategyDescent:
	default:
		errs = append(errs, fmt.Errorf("solver.strategy: unknown %q", c.Solver.Strategy))
	}
	if c.Solver.Workers < 0 {
		errs = append(errs, errors.New("solver.workers: must be >= 0"))
	}
	for i, s := range c.Sources {
		switch s.Kind {
		case "store":
		case "csv", "case_export":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: %s needs a path", i, s.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("sources[%d]: unknown kind %q", i, s.Kind))
		}
	}
	switch c.Auth.Mode {
	case "", "dev", "off":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("auth: hmac mode needs hmac_secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode: unknown %q", c.Auth.Mode))
	}
	if c.Webhook.MaxAttempts < 0 {
		errs = append(errs, errors.New("webhook.max_attempts: must be >= 0"))
	}
	return errors.Join(errs...)
}

// WithOverrides returns a copy of c whose rules are overlaid with stored
// optimizer config. Keys use the rule file names; unknown keys are ignored
// and the result is validated.
func (c Config) WithOverrides(over map[string]any) (Config, error) {
	if len(over) == 0 {
		return c, nil
	}
	b, err := yaml.Marshal(over)
	if err != nil {
		return Config{}, fmt.Errorf("optimizer config: %w", err)
	}
	out := c
	if err := yaml.Unmarshal(b, &out.Rules); err != nil {
		return Config{}, fmt.Errorf("optimizer config: %w", err)
	}
	if err := out.Rules.Business().Validate(); err != nil {
		return Config{}, fmt.Errorf("optimizer config: %w", err)
	}
	return out, nil
}
