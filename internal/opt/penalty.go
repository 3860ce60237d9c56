package opt

// PenaltyTable holds guided-local-search penalty counts per directed arc.
// Each search worker owns its own table; the Model is never touched.
type PenaltyTable struct {
	n int
	w []float64
}

func NewPenaltyTable(n int) *PenaltyTable {
	return &PenaltyTable{n: n, w: make([]float64, n*n)}
}

func (p *PenaltyTable) At(i, j int) float64 { return p.w[i*p.n+j] }

func (p *PenaltyTable) Inc(i, j int) { p.w[i*p.n+j]++ }

// RouteSum is the penalty of depot → stops → depot. An empty route has none.
func (p *PenaltyTable) RouteSum(stops []int) float64 {
	if len(stops) == 0 {
		return 0
	}
	sum := 0.0
	prev := Depot
	for _, j := range stops {
		sum += p.At(prev, j)
		prev = j
	}
	return sum + p.At(prev, Depot)
}

// penalize increments the arcs of maximum utility cost/(1+penalty) in s and
// returns how many arcs were incremented, the summed arc cost of s and its
// arc count.
func (p *PenaltyTable) penalize(s *state) (incremented int, arcCost float64, arcs int) {
	type arc struct{ i, j int }
	var best []arc
	bestUtil := -1.0
	consider := func(v, i, j int) {
		c := s.m.Time.Transit(v, i, j)
		arcCost += c
		arcs++
		u := c / (1 + p.At(i, j))
		switch {
		case u > bestUtil:
			bestUtil = u
			best = append(best[:0], arc{i, j})
		case u == bestUtil:
			best = append(best, arc{i, j})
		}
	}
	for v, r := range s.routes {
		if len(r) == 0 {
			continue
		}
		prev := Depot
		for _, j := range r {
			consider(v, prev, j)
			prev = j
		}
		consider(v, prev, Depot)
	}
	for _, a := range best {
		p.Inc(a.i, a.j)
	}
	return len(best), arcCost, arcs
}
