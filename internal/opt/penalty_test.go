package opt

import "testing"

func TestPenaltyTableRouteSum(t *testing.T) {
	p := NewPenaltyTable(4)
	p.Inc(0, 2)
	p.Inc(2, 3)
	p.Inc(2, 3)
	if got := p.RouteSum([]int{2, 3}); got != 3 {
		t.Fatalf("route sum: got %v want 3", got)
	}
	if got := p.RouteSum(nil); got != 0 {
		t.Fatalf("empty route: got %v", got)
	}
	if p.At(3, 2) != 0 {
		t.Fatalf("arcs are directed")
	}
}

func TestPenalizeMaxUtility(t *testing.T) {
	mx := uniform(4, 5, 100)
	mx.Time[1][2] = 40
	m := mustModel(t, candidates(3), Fleet{Bikes: 1}, map[VehicleClass]TravelMatrix{Bike: mx}, testRules(330))
	s, ok := newState(m, [][]int{{1, 2, 3}})
	if !ok {
		t.Fatalf("state infeasible")
	}
	p := NewPenaltyTable(m.NumNodes())
	n, cost, arcs := p.penalize(s)
	if n != 1 || p.At(1, 2) != 1 {
		t.Fatalf("first round: n=%d p(1,2)=%v", n, p.At(1, 2))
	}
	if arcs != 4 || cost != 25+60+25+5 {
		t.Fatalf("arcs=%d cost=%v", arcs, cost)
	}
	// 60/(1+1) = 30 still beats 25, so the same arc is hit again.
	p.penalize(s)
	if p.At(1, 2) != 2 {
		t.Fatalf("second round: p(1,2)=%v", p.At(1, 2))
	}
	// 60/3 = 20 < 25: the two 25-minute arcs tie.
	n, _, _ = p.penalize(s)
	if n != 2 || p.At(0, 1) != 1 || p.At(2, 3) != 1 || p.At(3, 0) != 0 {
		t.Fatalf("third round: n=%d", n)
	}
}

func TestDropAddsPenalty(t *testing.T) {
	m := mustModel(t, candidates(3), Fleet{Bikes: 1},
		map[VehicleClass]TravelMatrix{Bike: uniform(4, 5, 100)}, testRules(330))
	full, ok := newState(m, [][]int{{1, 2, 3}})
	if !ok {
		t.Fatalf("full state infeasible")
	}
	less, ok := newState(m, [][]int{{1, 3}})
	if !ok {
		t.Fatalf("reduced state infeasible")
	}
	if less.dropped[1] || !less.dropped[2] {
		t.Fatalf("dropped flags: %v", less.dropped)
	}
	if d := less.breakdown().Drop - full.breakdown().Drop; d != m.Rules.DropPenalty {
		t.Fatalf("drop term grew by %v", d)
	}
}
