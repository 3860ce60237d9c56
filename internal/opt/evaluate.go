package opt

import "math"

// routeStats are the end cumuls of one route. Start cumuls are 0, so time is
// also the route's summed arc cost.
type routeStats struct {
	time   float64
	dist   float64
	visits float64
}

func (s routeStats) used() bool { return s.visits > 0 }

// evalRoute walks depot → stops → depot for vehicle v and reports the end
// cumuls and whether every dimension's start and end bounds hold.
func (m *Model) evalRoute(v int, stops []int) (routeStats, bool) {
	s := m.walk(v, stops)
	if !m.startOK(v) {
		return s, false
	}
	idle := len(stops) == 0
	ok := m.Time.endOK(v, s.time, idle) &&
		m.Distance.endOK(v, s.dist, idle) &&
		m.VisitCount.endOK(v, s.visits, idle)
	return s, ok
}

// withinMax is evalRoute without the End.Min checks. Construction uses it
// while a route is still being filled up to the stop floor.
func (m *Model) withinMax(v int, stops []int) (routeStats, bool) {
	s := m.walk(v, stops)
	ok := m.startOK(v) &&
		below(s.time, m.Time.End[v].Max) &&
		below(s.dist, m.Distance.End[v].Max) &&
		below(s.visits, m.VisitCount.End[v].Max)
	return s, ok
}

func below(x, max float64) bool { return !math.IsInf(x, 0) && x <= max }

func (m *Model) startOK(v int) bool {
	return m.Time.Start[v].contains(0) && m.Distance.Start[v].contains(0) && m.VisitCount.Start[v].contains(0)
}

func (m *Model) walk(v int, stops []int) routeStats {
	var s routeStats
	if len(stops) > 0 {
		prev := Depot
		for _, j := range stops {
			s.time += m.Time.Transit(v, prev, j)
			s.dist += m.Distance.Transit(v, prev, j)
			s.visits += m.VisitCount.Transit(v, prev, j)
			prev = j
		}
		s.time += m.Time.Transit(v, prev, Depot)
		s.dist += m.Distance.Transit(v, prev, Depot)
		s.visits += m.VisitCount.Transit(v, prev, Depot)
	}
	return s
}

func (m *Model) routeCost(v int, s routeStats) float64 {
	if !s.used() {
		return 0
	}
	return s.time + m.Rules.fixedCost(m.Vehicles[v].Class)
}

// CostBreakdown splits an objective value into its terms.
type CostBreakdown struct {
	Arc       float64 `json:"arc"`
	Fixed     float64 `json:"fixed"`
	TimeSpan  float64 `json:"timeSpan"`
	VisitSpan float64 `json:"visitSpan"`
	Drop      float64 `json:"drop"`
	Total     float64 `json:"total"`
}

// state is a complete feasible assignment: one stop sequence per vehicle
// plus the set of dropped nodes.
type state struct {
	m       *Model
	routes  [][]int
	stats   []routeStats
	dropped []bool
	drop    float64 // Σ penalty of dropped nodes
}

func newState(m *Model, routes [][]int) (*state, bool) {
	s := &state{
		m:       m,
		routes:  make([][]int, len(m.Vehicles)),
		stats:   make([]routeStats, len(m.Vehicles)),
		dropped: make([]bool, m.n),
	}
	for j := 1; j < m.n; j++ {
		s.dropped[j] = true
	}
	ok := true
	for v := range s.routes {
		if v < len(routes) {
			s.routes[v] = append([]int(nil), routes[v]...)
		}
		st, feasible := m.evalRoute(v, s.routes[v])
		s.stats[v] = st
		ok = ok && feasible
		for _, j := range s.routes[v] {
			s.dropped[j] = false
		}
	}
	for _, d := range m.Disjunctions {
		if s.dropped[d.Node] {
			s.drop += d.Penalty
		}
	}
	return s, ok
}

func (s *state) clone() *state {
	c := &state{
		m:       s.m,
		routes:  make([][]int, len(s.routes)),
		stats:   append([]routeStats(nil), s.stats...),
		dropped: append([]bool(nil), s.dropped...),
		drop:    s.drop,
	}
	for v, r := range s.routes {
		c.routes[v] = append([]int(nil), r...)
	}
	return c
}

func (s *state) penalty(j int) float64 { return s.m.Disjunctions[j-1].Penalty }

// objectiveWith is the objective after replacing the stats of vehicles a and
// b (b < 0 for none) and shifting the drop total by dropDelta.
func (s *state) objectiveWith(a int, sa routeStats, b int, sb routeStats, dropDelta float64) float64 {
	total := s.drop + dropDelta
	maxTime, maxVisits := 0.0, 0.0
	for v, st := range s.stats {
		switch v {
		case a:
			st = sa
		case b:
			st = sb
		}
		total += s.m.routeCost(v, st)
		maxTime = math.Max(maxTime, st.time)
		maxVisits = math.Max(maxVisits, st.visits)
	}
	return total + s.m.Time.SpanCoefficient*maxTime + s.m.VisitCount.SpanCoefficient*maxVisits
}

func (s *state) objective() float64 {
	return s.objectiveWith(-1, routeStats{}, -1, routeStats{}, 0)
}

func (s *state) breakdown() CostBreakdown {
	var b CostBreakdown
	maxTime, maxVisits := 0.0, 0.0
	for v, st := range s.stats {
		if st.used() {
			b.Arc += st.time
			b.Fixed += s.m.Rules.fixedCost(s.m.Vehicles[v].Class)
		}
		maxTime = math.Max(maxTime, st.time)
		maxVisits = math.Max(maxVisits, st.visits)
	}
	b.TimeSpan = s.m.Time.SpanCoefficient * maxTime
	b.VisitSpan = s.m.VisitCount.SpanCoefficient * maxVisits
	b.Drop = s.drop
	b.Total = b.Arc + b.Fixed + b.TimeSpan + b.VisitSpan + b.Drop
	return b
}
