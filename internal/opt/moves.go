package opt

import "math/rand"

type moveKind int

const (
	moveRelocate moveKind = iota
	moveExchange
	moveTwoOpt
	moveTwoOptStar
	moveDrop
	moveInsert
	moveReplace
	numMoveKinds
)

var moveNames = [numMoveKinds]string{
	moveRelocate:   "relocate",
	moveExchange:   "exchange",
	moveTwoOpt:     "two_opt",
	moveTwoOptStar: "two_opt_star",
	moveDrop:       "drop",
	moveInsert:     "insert",
	moveReplace:    "replace",
}

func (k moveKind) String() string { return moveNames[k] }

const (
	improveEps = 1e-6
	checkEvery = 64
)

// search is one worker's first-improvement local search over s. Moves are
// accepted when they lower the objective plus lambda times the arc penalties
// in pen. Every state it produces is feasible.
type search struct {
	s       *state
	pen     *PenaltyTable
	lambda  float64
	penSum  []float64
	rng     *rand.Rand // nil scans in index order
	stop    func() bool
	stopped bool
	evals   int
	moves   [numMoveKinds]int
	applied func() // called after every accepted move

	bufA, bufB, tmp []int
}

func newSearch(s *state, pen *PenaltyTable, rng *rand.Rand, stop func() bool) *search {
	ls := &search{s: s, pen: pen, rng: rng, stop: stop, penSum: make([]float64, len(s.routes))}
	ls.refreshPenalties()
	return ls
}

func (ls *search) refreshPenalties() {
	for v, r := range ls.s.routes {
		ls.penSum[v] = ls.pen.RouteSum(r)
	}
}

func (ls *search) augmented() float64 {
	total := ls.s.objective()
	if ls.lambda == 0 {
		return total
	}
	for _, p := range ls.penSum {
		total += ls.lambda * p
	}
	return total
}

// tick counts one evaluation and polls stop every checkEvery evaluations.
func (ls *search) tick() bool {
	ls.evals++
	if ls.evals%checkEvery == 0 && ls.stop() {
		ls.stopped = true
	}
	return ls.stopped
}

// try evaluates replacing route a by ra and, when b >= 0, route b by rb. It
// applies the change and returns true when feasible and improving.
func (ls *search) try(kind moveKind, a int, ra []int, b int, rb []int, dropDelta float64) bool {
	s := ls.s
	sa, ok := s.m.evalRoute(a, ra)
	if !ok {
		return false
	}
	var sb routeStats
	if b >= 0 {
		if sb, ok = s.m.evalRoute(b, rb); !ok {
			return false
		}
	}
	cur := ls.augmented()
	next := s.objectiveWith(a, sa, b, sb, dropDelta)
	var pa, pb float64
	if ls.lambda != 0 {
		pa = ls.pen.RouteSum(ra)
		pen := 0.0
		for v, p := range ls.penSum {
			if v != a && v != b {
				pen += p
			}
		}
		pen += pa
		if b >= 0 {
			pb = ls.pen.RouteSum(rb)
			pen += pb
		}
		next += ls.lambda * pen
	}
	if next >= cur-improveEps {
		return false
	}
	s.routes[a] = append([]int(nil), ra...)
	s.stats[a] = sa
	ls.penSum[a] = pa
	if b >= 0 {
		s.routes[b] = append([]int(nil), rb...)
		s.stats[b] = sb
		ls.penSum[b] = pb
	}
	s.drop += dropDelta
	ls.moves[kind]++
	if ls.applied != nil {
		ls.applied()
	}
	return true
}

// descend applies improving moves until none is left or stop fires. It
// returns the number of accepted moves.
func (ls *search) descend() int {
	scans := [...]func() bool{
		ls.relocate, ls.exchange, ls.twoOpt, ls.twoOptStar, ls.insert, ls.replace, ls.dropNode,
	}
	accepted := 0
	for !ls.stopped {
		improved := false
		for _, scan := range scans {
			if scan() {
				improved = true
				accepted++
				break
			}
			if ls.stopped {
				return accepted
			}
		}
		if !improved {
			break
		}
	}
	return accepted
}

// order returns 0..n-1, rotated by a random offset when the search has an rng.
func (ls *search) order(n int) []int {
	out := make([]int, n)
	off := 0
	if ls.rng != nil && n > 0 {
		off = ls.rng.Intn(n)
	}
	for i := range out {
		out[i] = (i + off) % n
	}
	return out
}

func (ls *search) relocate() bool {
	routes := ls.s.routes
	for _, a := range ls.order(len(routes)) {
		for i := 0; i < len(routes[a]); i++ {
			x := routes[a][i]
			ls.tmp = withoutAt(ls.tmp, routes[a], i)
			for b := range routes {
				if b == a {
					for p := 0; p <= len(ls.tmp); p++ {
						if p == i {
							continue
						}
						if ls.tick() {
							return false
						}
						ls.bufA = withInsert(ls.bufA, ls.tmp, p, x)
						if ls.try(moveRelocate, a, ls.bufA, -1, nil, 0) {
							return true
						}
					}
					continue
				}
				for p := 0; p <= len(routes[b]); p++ {
					if ls.tick() {
						return false
					}
					ls.bufB = withInsert(ls.bufB, routes[b], p, x)
					if ls.try(moveRelocate, a, ls.tmp, b, ls.bufB, 0) {
						return true
					}
				}
			}
		}
	}
	return false
}

func (ls *search) exchange() bool {
	routes := ls.s.routes
	for _, a := range ls.order(len(routes)) {
		for i := 0; i < len(routes[a]); i++ {
			for b := a; b < len(routes); b++ {
				j0 := 0
				if b == a {
					j0 = i + 1
				}
				for j := j0; j < len(routes[b]); j++ {
					if ls.tick() {
						return false
					}
					x, y := routes[a][i], routes[b][j]
					if b == a {
						ls.bufA = withReplace(ls.bufA, routes[a], i, y)
						ls.bufA[j] = x
						if ls.try(moveExchange, a, ls.bufA, -1, nil, 0) {
							return true
						}
						continue
					}
					ls.bufA = withReplace(ls.bufA, routes[a], i, y)
					ls.bufB = withReplace(ls.bufB, routes[b], j, x)
					if ls.try(moveExchange, a, ls.bufA, b, ls.bufB, 0) {
						return true
					}
				}
			}
		}
	}
	return false
}

func (ls *search) twoOpt() bool {
	routes := ls.s.routes
	for _, a := range ls.order(len(routes)) {
		r := routes[a]
		for i := 0; i < len(r)-1; i++ {
			for k := i + 1; k < len(r); k++ {
				if ls.tick() {
					return false
				}
				ls.bufA = withReversed(ls.bufA, r, i, k)
				if ls.try(moveTwoOpt, a, ls.bufA, -1, nil, 0) {
					return true
				}
			}
		}
	}
	return false
}

// twoOptStar swaps the tails of two routes.
func (ls *search) twoOptStar() bool {
	routes := ls.s.routes
	for _, a := range ls.order(len(routes)) {
		for b := a + 1; b < len(routes); b++ {
			ra, rb := routes[a], routes[b]
			for i := 0; i <= len(ra); i++ {
				for j := 0; j <= len(rb); j++ {
					if (i == len(ra) && j == len(rb)) || (i == 0 && j == 0) {
						continue
					}
					if ls.tick() {
						return false
					}
					ls.bufA = append(append(ls.bufA[:0], ra[:i]...), rb[j:]...)
					ls.bufB = append(append(ls.bufB[:0], rb[:j]...), ra[i:]...)
					if ls.try(moveTwoOptStar, a, ls.bufA, b, ls.bufB, 0) {
						return true
					}
				}
			}
		}
	}
	return false
}

func (ls *search) dropNode() bool {
	s := ls.s
	for _, a := range ls.order(len(s.routes)) {
		for i := 0; i < len(s.routes[a]); i++ {
			if ls.tick() {
				return false
			}
			x := s.routes[a][i]
			ls.bufA = withoutAt(ls.bufA, s.routes[a], i)
			if ls.try(moveDrop, a, ls.bufA, -1, nil, s.penalty(x)) {
				s.dropped[x] = true
				return true
			}
		}
	}
	return false
}

func (ls *search) insert() bool {
	s := ls.s
	for x := 1; x < s.m.n; x++ {
		if !s.dropped[x] {
			continue
		}
		for _, b := range ls.order(len(s.routes)) {
			for p := 0; p <= len(s.routes[b]); p++ {
				if ls.tick() {
					return false
				}
				ls.bufA = withInsert(ls.bufA, s.routes[b], p, x)
				if ls.try(moveInsert, b, ls.bufA, -1, nil, -s.penalty(x)) {
					s.dropped[x] = false
					return true
				}
			}
		}
	}
	return false
}

func (ls *search) replace() bool {
	s := ls.s
	for x := 1; x < s.m.n; x++ {
		if !s.dropped[x] {
			continue
		}
		for _, a := range ls.order(len(s.routes)) {
			for i := 0; i < len(s.routes[a]); i++ {
				if ls.tick() {
					return false
				}
				y := s.routes[a][i]
				ls.bufA = withReplace(ls.bufA, s.routes[a], i, x)
				if ls.try(moveReplace, a, ls.bufA, -1, nil, s.penalty(y)-s.penalty(x)) {
					s.dropped[x] = false
					s.dropped[y] = true
					return true
				}
			}
		}
	}
	return false
}
