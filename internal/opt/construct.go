package opt

import (
	"fmt"
	"math"
)

// Construct runs the construction phase only. It is deterministic: equal
// inputs always give the same routes.
func Construct(m *Model) (Result, error) {
	if m == nil {
		return Result{}, inputErr("model", "nil")
	}
	s, err := construct(m)
	if err != nil {
		return Result{}, err
	}
	return extract(s), nil
}

// construct repeatedly appends the cheapest arc over all (vehicle, unrouted
// node) pairs whose append keeps the route within its upper bounds. Ties go
// to the lowest node index, then to the earlier vehicle in fleet order.
// Nodes that can never be appended start out dropped. A repair pass then
// enforces the stop floor.
func construct(m *Model) (*state, error) {
	k := len(m.Vehicles)
	type partial struct {
		last                int
		time, dist, visits float64
	}
	parts := make([]partial, k)
	routes := make([][]int, k)
	routed := make([]bool, m.n)
	for {
		bestV, bestJ, bestCost := -1, -1, math.Inf(1)
		for j := 1; j < m.n; j++ {
			if routed[j] {
				continue
			}
			for v := 0; v < k; v++ {
				p := parts[v]
				c := m.Time.Transit(v, p.last, j)
				if !(c < bestCost) {
					continue
				}
				t := p.time + c + m.Time.Transit(v, j, Depot)
				d := p.dist + m.Distance.Transit(v, p.last, j) + m.Distance.Transit(v, j, Depot)
				n := p.visits + m.VisitCount.Transit(v, p.last, j)
				if !below(t, m.Time.End[v].Max) || !below(d, m.Distance.End[v].Max) || !below(n, m.VisitCount.End[v].Max) {
					continue
				}
				bestV, bestJ, bestCost = v, j, c
			}
		}
		if bestV < 0 {
			break
		}
		p := &parts[bestV]
		p.time += m.Time.Transit(bestV, p.last, bestJ)
		p.dist += m.Distance.Transit(bestV, p.last, bestJ)
		p.visits += m.VisitCount.Transit(bestV, p.last, bestJ)
		p.last = bestJ
		routes[bestV] = append(routes[bestV], bestJ)
		routed[bestJ] = true
	}

	r := &repair{m: m, routes: routes, routed: routed}
	if err := r.floor(); err != nil {
		return nil, err
	}
	s, ok := newState(m, r.routes)
	if !ok {
		return nil, fmt.Errorf("construct: %w", ErrInfeasible)
	}
	return s, nil
}

type repair struct {
	m      *Model
	routes [][]int
	routed []bool
}

// floor brings every route with stops up to the stop floor. Idle vehicles
// are left alone when exempt. A short route is first topped up from unrouted
// nodes. When that is not enough an exempt route is dissolved into the
// routes that already satisfy the floor, dropping what does not fit, and a
// non-exempt route takes stops from routes above the floor.
func (r *repair) floor() error {
	f := r.m.MinStops
	if f == 0 {
		return nil
	}
	exempt := r.m.VisitCount.ExemptIdle
	for v := range r.routes {
		if len(r.routes[v]) >= f || (exempt && len(r.routes[v]) == 0) {
			continue
		}
		r.topUp(v, f)
		if len(r.routes[v]) >= f {
			continue
		}
		if exempt {
			r.dissolve(v, f)
			continue
		}
		r.steal(v, f)
		if len(r.routes[v]) < f {
			return fmt.Errorf("construct: %s has %d stops, floor is %d: %w",
				r.m.Vehicles[v].Label, len(r.routes[v]), f, ErrInfeasible)
		}
	}
	return nil
}

// bestInsert finds the cheapest position for x in vehicle v's route. full
// selects evalRoute over withinMax. delta is the change in route time.
func (r *repair) bestInsert(v, x int, full bool) (pos int, delta float64) {
	route := r.routes[v]
	base := r.m.walk(v, route).time
	pos, delta = -1, math.Inf(1)
	buf := make([]int, 0, len(route)+1)
	for p := 0; p <= len(route); p++ {
		buf = withInsert(buf, route, p, x)
		var st routeStats
		var ok bool
		if full {
			st, ok = r.m.evalRoute(v, buf)
		} else {
			st, ok = r.m.withinMax(v, buf)
		}
		if ok && st.time-base < delta {
			pos, delta = p, st.time-base
		}
	}
	return pos, delta
}

func (r *repair) topUp(v, f int) {
	for len(r.routes[v]) < f {
		bestX, bestPos, bestDelta := -1, -1, math.Inf(1)
		for x := 1; x < r.m.n; x++ {
			if r.routed[x] {
				continue
			}
			if p, d := r.bestInsert(v, x, false); p >= 0 && d < bestDelta {
				bestX, bestPos, bestDelta = x, p, d
			}
		}
		if bestX < 0 {
			return
		}
		r.routes[v] = withInsert(nil, r.routes[v], bestPos, bestX)
		r.routed[bestX] = true
	}
}

func (r *repair) dissolve(v, f int) {
	nodes := r.routes[v]
	r.routes[v] = nil
	for _, x := range nodes {
		bestW, bestPos, bestDelta := -1, -1, math.Inf(1)
		for w := range r.routes {
			if w == v || len(r.routes[w]) < f {
				continue
			}
			if p, d := r.bestInsert(w, x, true); p >= 0 && d < bestDelta {
				bestW, bestPos, bestDelta = w, p, d
			}
		}
		if bestW < 0 {
			r.routed[x] = false
			continue
		}
		r.routes[bestW] = withInsert(nil, r.routes[bestW], bestPos, x)
	}
}

func (r *repair) steal(v, f int) {
	for len(r.routes[v]) < f {
		bestW, bestI, bestPos, bestDelta := -1, -1, -1, math.Inf(1)
		for w := range r.routes {
			if w == v || len(r.routes[w]) <= f {
				continue
			}
			donor := r.routes[w]
			base := r.m.walk(w, donor).time
			for i, x := range donor {
				rest := withoutAt(nil, donor, i)
				st, ok := r.m.evalRoute(w, rest)
				if !ok {
					continue
				}
				p, d := r.bestInsert(v, x, false)
				if p < 0 {
					continue
				}
				if total := d + st.time - base; total < bestDelta {
					bestW, bestI, bestPos, bestDelta = w, i, p, total
				}
			}
		}
		if bestW < 0 {
			return
		}
		x := r.routes[bestW][bestI]
		r.routes[bestW] = withoutAt(nil, r.routes[bestW], bestI)
		r.routes[v] = withInsert(nil, r.routes[v], bestPos, x)
	}
}

func withInsert(dst, r []int, p, x int) []int {
	dst = append(dst[:0], r[:p]...)
	dst = append(dst, x)
	return append(dst, r[p:]...)
}

func withoutAt(dst, r []int, i int) []int {
	dst = append(dst[:0], r[:i]...)
	return append(dst, r[i+1:]...)
}

func withReplace(dst, r []int, i, x int) []int {
	dst = append(dst[:0], r...)
	dst[i] = x
	return dst
}

func withReversed(dst, r []int, i, k int) []int {
	dst = append(dst[:0], r...)
	for a, b := i, k; a < b; a, b = a+1, b-1 {
		dst[a], dst[b] = dst[b], dst[a]
	}
	return dst
}
