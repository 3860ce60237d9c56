package opt

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StrategyGLS     = "gls"
	StrategyDescent = "descent"

	StopTimeBudget     = "time_budget"
	StopLocalOptimum   = "local_optimum"
	StopIterationLimit = "iteration_limit"
	StopCanceled       = "canceled"

	// DefaultLambda scales the GLS penalty weight.
	DefaultLambda = 0.1
	// defaultRounds bounds GLS when neither a time budget nor an iteration
	// limit is set.
	defaultRounds = 200
	// stallRounds ends a GLS worker after this many rounds without an
	// accepted move.
	stallRounds = 25
)

// Options control one Solve call. Zero values select defaults.
type Options struct {
	TimeBudget    time.Duration // <= 0: no wall-clock limit
	Seed          int64         // 0: time-based
	Strategy      string        // gls (default) or descent
	Workers       int           // default 1
	MaxIterations int           // local search rounds per worker, 0: unlimited
	Lambda        float64       // default DefaultLambda
	// Progress is called from worker goroutines whenever the best solution
	// improves. It must be safe for concurrent use.
	Progress func(Progress)
}

type Progress struct {
	Worker    int           `json:"worker"`
	Round     int           `json:"round"`
	BestCost  float64       `json:"bestCost"`
	Elapsed   time.Duration `json:"elapsed"`
	Dropped   int           `json:"dropped"`
	MoveCount int           `json:"moveCount"`
}

type Metrics struct {
	Strategy       string         `json:"strategy"`
	Workers        int            `json:"workers"`
	Seed           int64          `json:"seed"`
	Iterations     int            `json:"iterations"`
	Improvements   int            `json:"improvements"`
	Evaluations    int            `json:"evaluations"`
	Moves          map[string]int `json:"moves"`
	PenaltyUpdates int            `json:"penaltyUpdates"`
	InitialCost    float64        `json:"initialCost"`
	BestCost       float64        `json:"bestCost"`
	StopReason     string         `json:"stopReason"`
	Elapsed        time.Duration  `json:"elapsed"`
	Snapshots      []CostSnapshot `json:"snapshots,omitempty"`
}

type CostSnapshot struct {
	Elapsed time.Duration `json:"elapsed"`
	Worker  int           `json:"worker"`
	Cost    float64       `json:"cost"`
}

// incumbent is the best solution shared by all workers.
type incumbent struct {
	mu        sync.RWMutex
	cost      float64
	routes    [][]int
	snapshots []CostSnapshot
	improved  int
}

func (in *incumbent) offer(s *state, worker int, elapsed time.Duration) (float64, bool) {
	c := s.objective()
	in.mu.Lock()
	defer in.mu.Unlock()
	if c >= in.cost-improveEps {
		return in.cost, false
	}
	in.cost = c
	in.routes = make([][]int, len(s.routes))
	for v, r := range s.routes {
		in.routes[v] = append([]int(nil), r...)
	}
	in.improved++
	in.snapshots = append(in.snapshots, CostSnapshot{Elapsed: elapsed, Worker: worker, Cost: c})
	return c, true
}

func (in *incumbent) best() (float64, [][]int) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.cost, in.routes
}

// Solve builds an initial solution with cheapest-arc construction and then
// improves it by local search until no improving move is left, the time
// budget elapses, the iteration limit is hit or ctx is done. It always
// returns the best feasible solution seen; running out of time is not an
// error.
func Solve(ctx context.Context, m *Model, opts Options) (Result, Metrics, error) {
	if m == nil {
		return Result{}, Metrics{}, inputErr("model", "nil")
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyGLS
	}
	if opts.Strategy != StrategyGLS && opts.Strategy != StrategyDescent {
		return Result{}, Metrics{}, inputErr("strategy", "unknown strategy %q", opts.Strategy)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Lambda <= 0 {
		opts.Lambda = DefaultLambda
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Strategy == StrategyGLS && opts.TimeBudget <= 0 && opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultRounds
	}

	start := time.Now()
	var deadline time.Time
	if opts.TimeBudget > 0 {
		deadline = start.Add(opts.TimeBudget)
	}

	initial, err := construct(m)
	if err != nil {
		return Result{}, Metrics{}, fmt.Errorf("solve: %w", err)
	}
	inc := &incumbent{cost: initial.objective(), routes: initial.clone().routes}
	met := Metrics{
		Strategy:    opts.Strategy,
		Workers:     opts.Workers,
		Seed:        opts.Seed,
		InitialCost: inc.cost,
		Moves:       map[string]int{},
	}

	workers := make([]*worker, opts.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		wk := &worker{
			id:       w,
			opts:     opts,
			inc:      inc,
			start:    start,
			deadline: deadline,
		}
		if w > 0 {
			wk.rng = rand.New(rand.NewSource(opts.Seed + int64(w)))
		}
		workers[w] = wk
		g.Go(func() error {
			wk.run(gctx, initial.clone())
			return nil
		})
	}
	_ = g.Wait()

	reasons := map[string]bool{}
	for _, wk := range workers {
		met.Iterations += wk.rounds
		met.Evaluations += wk.evals
		met.PenaltyUpdates += wk.penaltyUpdates
		for k, n := range wk.moves {
			if n > 0 {
				met.Moves[moveKind(k).String()] += n
			}
		}
		reasons[wk.reason] = true
	}
	for _, r := range []string{StopCanceled, StopTimeBudget, StopIterationLimit, StopLocalOptimum} {
		if reasons[r] {
			met.StopReason = r
			break
		}
	}

	cost, routes := inc.best()
	best, ok := newState(m, routes)
	if !ok {
		return Result{}, met, fmt.Errorf("solve: best solution violates a bound: %w", ErrInfeasible)
	}
	inc.mu.RLock()
	met.Improvements = inc.improved
	met.Snapshots = append([]CostSnapshot(nil), inc.snapshots...)
	inc.mu.RUnlock()
	met.BestCost = cost
	met.Elapsed = time.Since(start)
	return extract(best), met, nil
}

type worker struct {
	id       int
	opts     Options
	inc      *incumbent
	rng      *rand.Rand
	start    time.Time
	deadline time.Time

	rounds         int
	evals          int
	penaltyUpdates int
	moves          [numMoveKinds]int
	reason         string
}

func (wk *worker) run(ctx context.Context, s *state) {
	pen := NewPenaltyTable(s.m.n)
	stop := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return !wk.deadline.IsZero() && time.Now().After(wk.deadline)
	}
	ls := newSearch(s, pen, wk.rng, stop)
	ls.applied = func() {
		elapsed := time.Since(wk.start)
		if c, ok := wk.inc.offer(s, wk.id, elapsed); ok && wk.opts.Progress != nil {
			wk.opts.Progress(Progress{
				Worker:    wk.id,
				Round:     wk.rounds,
				BestCost:  c,
				Elapsed:   elapsed,
				Dropped:   countDropped(s),
				MoveCount: ls.movesTotal(),
			})
		}
	}
	defer func() {
		wk.evals = ls.evals
		wk.moves = ls.moves
	}()

	idle := 0
	for {
		if stop() {
			wk.reason = wk.stopReason(ctx)
			return
		}
		if wk.opts.MaxIterations > 0 && wk.rounds >= wk.opts.MaxIterations {
			wk.reason = StopIterationLimit
			return
		}
		wk.rounds++
		accepted := ls.descend()
		if ls.stopped {
			wk.reason = wk.stopReason(ctx)
			return
		}
		if wk.opts.Strategy == StrategyDescent {
			wk.reason = StopLocalOptimum
			return
		}
		if accepted == 0 {
			idle++
			if idle >= stallRounds {
				wk.reason = StopLocalOptimum
				return
			}
		} else {
			idle = 0
		}
		n, arcCost, arcs := pen.penalize(s)
		if n == 0 {
			wk.reason = StopLocalOptimum
			return
		}
		if ls.lambda == 0 && arcs > 0 {
			ls.lambda = wk.opts.Lambda * arcCost / float64(arcs)
		}
		wk.penaltyUpdates += n
		ls.refreshPenalties()
	}
}

func (wk *worker) stopReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return StopCanceled
	}
	return StopTimeBudget
}

func (ls *search) movesTotal() int {
	n := 0
	for _, c := range ls.moves {
		n += c
	}
	return n
}

func countDropped(s *state) int {
	n := 0
	for j := 1; j < len(s.dropped); j++ {
		if s.dropped[j] {
			n++
		}
	}
	return n
}
