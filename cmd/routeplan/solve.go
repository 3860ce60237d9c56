package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
	"github.com/spf13/cobra"

	"fieldroute/internal/config"
	"fieldroute/internal/matrix"
	"fieldroute/internal/model"
	"fieldroute/internal/opt"
	"fieldroute/internal/planner"
	"fieldroute/internal/render"
	"fieldroute/internal/source"
	"fieldroute/internal/store"
)

var (
	locationsFile string
	caseExport    bool
	matrixFile    string
	planDate      string
	bikes, cars   int
	budget        time.Duration
	strategy      string
	seed          int64
	workers       int
	jsonOut       bool
	csvDir        string
	navigate      bool
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Plan one day and print the routes",
	Long: `Reads candidate locations from a CSV file, plans them over the configured
fleet and prints one line per vehicle followed by its Google Maps link.`,
	RunE: runSolve,
}

func init() {
	f := solveCmd.Flags()
	f.StringVarP(&locationsFile, "locations", "l", "", "CSV file of candidate locations (required)")
	f.BoolVar(&caseExport, "case-export", false, "Read the semicolon separated case export layout")
	f.StringVarP(&matrixFile, "matrix", "m", "", "Matrix file written by 'routeplan matrix'")
	f.StringVar(&planDate, "date", "", "Plan date, YYYY-MM-DD (default today)")
	f.IntVar(&bikes, "bikes", 0, "Bikes in the fleet (default from config)")
	f.IntVar(&cars, "cars", 0, "Cars in the fleet (default from config)")
	f.DurationVarP(&budget, "budget", "t", 0, "Solver time budget (default from config)")
	f.StringVar(&strategy, "strategy", "", "gls or descent")
	f.Int64Var(&seed, "seed", 0, "Random seed")
	f.IntVarP(&workers, "workers", "w", 0, "Parallel solver workers")
	f.BoolVar(&jsonOut, "json", false, "Print the plan as JSON")
	f.StringVar(&csvDir, "csv-dir", "", "Write one My Maps CSV per used vehicle into this directory")
	f.BoolVar(&navigate, "navigate", false, "Open Maps links in navigation mode")
	_ = solveCmd.MarkFlagRequired("locations")
}

// progressPrinter prints solver progress to stderr.
type progressPrinter struct{ w io.Writer }

func (p progressPrinter) Publish(_ string, evt model.ProgressEvent) {
	if evt.Type != planner.EventProgress {
		return
	}
	fmt.Fprintf(p.w, "worker=%d round=%d cost=%.1f dropped=%d elapsed=%dms\n", evt.Worker, evt.Round, evt.BestCost, evt.Dropped, evt.ElapsedMs)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}
	if matrixFile != "" {
		cfg.Matrix.File = matrixFile
	}
	return cfg, nil
}

func csvSource() source.CSVFile {
	opts := source.DefaultCSVOptions()
	if caseExport {
		opts = source.CaseExportOptions()
	}
	return source.CSVFile{Path: locationsFile, Opts: opts}
}

func runSolve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mp, closer, err := matrix.FromConfig(cfg.Matrix, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closer.Close()

	// Ctrl-C stops the search and keeps the best plan so far
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	p := &planner.Planner{Config: cfg, Store: store.NewMemory(), Matrices: mp, Sources: csvSource()}
	if verbose {
		p.Progress = progressPrinter{w: cmd.ErrOrStderr()}
	}
	req := model.PlanRequest{
		PlanDate:     planDate,
		Fleet:        model.FleetIn{Bikes: bikes, Cars: cars},
		TimeBudgetMs: int(budget / time.Millisecond),
		Strategy:     strategy,
		Seed:         seed,
		Workers:      workers,
	}
	plan, met, err := p.Run(ctx, "", req)
	if err != nil {
		return err
	}

	if csvDir != "" {
		if err := writeRouteCSVs(csvDir, plan); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"plan": plan, "metrics": met, "system": sysInfo()})
	}
	printPlan(out, plan, navigate)
	fmt.Fprintf(out, "\nobjective %.1f, stopped on %s after %d iterations\n", plan.Objective, met.StopReason, met.Iterations)
	return nil
}

func printPlan(w io.Writer, plan model.Plan, navigate bool) {
	fmt.Fprintf(w, "plan %s for %s\n", plan.ID, plan.PlanDate)
	for _, r := range plan.Routes {
		fmt.Fprintln(w, render.Summary(opt.VehicleRoute{
			Label:           r.Vehicle,
			Class:           r.Class,
			Stops:           r.StopCount,
			DurationMinutes: r.DurationMinutes,
			DistanceMeters:  r.DistanceMeters,
		}))
		if r.StopCount > 0 {
			fmt.Fprintf(w, "  %s\n", render.MapsURL(r.Stops, r.Class, navigate))
		}
	}
	if len(plan.Dropped) > 0 {
		fmt.Fprintf(w, "dropped %d:\n", len(plan.Dropped))
		for _, d := range plan.Dropped {
			fmt.Fprintf(w, "  %s %s\n", d.CaseRef, d.Address)
		}
	}
	if len(plan.NearDepot) > 0 {
		fmt.Fprintf(w, "warning: %d locations lie within %dm of the depot, check their geocoding\n", len(plan.NearDepot), source.NearDepotMeters)
	}
}

func writeRouteCSVs(dir string, plan model.Plan) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, r := range plan.Routes {
		if r.StopCount == 0 {
			continue
		}
		f, err := os.Create(filepath.Join(dir, r.Vehicle+"_route.csv"))
		if err != nil {
			return err
		}
		werr := render.WriteMyMapsCSV(f, r.Stops)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("%s: %w", r.Vehicle, werr)
		}
	}
	return nil
}

// sysInfo stamps JSON output with the machine it ran on, so timings from
// different laptops can be told apart.
func sysInfo() map[string]string {
	out := map[string]string{}
	if h, err := host.Info(); err == nil {
		out["platform"] = h.Platform
	}
	if c, err := cpu.Info(); err == nil && len(c) > 0 {
		out["cpu"] = c[0].ModelName
	}
	if v, err := mem.VirtualMemory(); err == nil {
		out["memory"] = fmt.Sprintf("%d GB", v.Total/1024/1024/1024)
	}
	return out
}
