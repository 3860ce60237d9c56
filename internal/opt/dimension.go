package opt

import "math"

// Bounds is an inclusive [Min, Max] range on a cumulative value.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) contains(x float64) bool { return x >= b.Min && x <= b.Max }

// Dimension is a resource accumulated along a route. Transit gives the
// increment of arc i→j for vehicle v. Cumuls start at 0 and are checked
// against Start and End only, never at interior nodes.
type Dimension struct {
	Name            string
	Transit         func(v, i, j int) float64
	Start           []Bounds
	End             []Bounds
	SpanCoefficient float64
	// ExemptIdle skips the End.Min check for a vehicle with no stops.
	ExemptIdle bool
}

// endOK reports whether end satisfies vehicle v's end bounds.
func (d *Dimension) endOK(v int, end float64, idle bool) bool {
	b := d.End[v]
	if math.IsInf(end, 0) || end > b.Max {
		return false
	}
	if end < b.Min && !(idle && d.ExemptIdle) {
		return false
	}
	return true
}

// Disjunction makes Node optional at the price of Penalty.
type Disjunction struct {
	Node    int
	Penalty float64
}

func (m *Model) buildDimensions() {
	k := len(m.Vehicles)
	r := m.Rules
	inf := math.Inf(1)
	class := func(v int) VehicleClass { return m.Vehicles[v].Class }

	m.Time = Dimension{
		Name:            "Time",
		Transit:         func(v, i, j int) float64 { return m.ArcTime(class(v), i, j) },
		Start:           fill(k, Bounds{0, r.WorkMinutes}),
		End:             fill(k, Bounds{0, r.WorkMinutes}),
		SpanCoefficient: r.GlobalSpanCoefficient,
	}

	m.Distance = Dimension{
		Name:    "Distance",
		Transit: func(v, i, j int) float64 { return m.ArcDistance(class(v), i, j) },
		Start:   fill(k, Bounds{0, 0}),
		End:     fill(k, Bounds{0, inf}),
	}
	for v, veh := range m.Vehicles {
		if veh.Class == Bike {
			m.Distance.End[v].Max = r.MaxBikeDistanceM
		}
	}

	maxStops := inf
	if r.MaxStopsPerVehicle > 0 {
		maxStops = float64(r.MaxStopsPerVehicle)
	}
	m.VisitCount = Dimension{
		Name: "VisitCount",
		Transit: func(_, _, j int) float64 {
			if j == Depot {
				return 0
			}
			return 1
		},
		Start:           fill(k, Bounds{0, 0}),
		End:             fill(k, Bounds{float64(m.MinStops), maxStops}),
		SpanCoefficient: r.VisitCountSpanCoefficient,
		ExemptIdle:      r.MinStops.ExemptIdle,
	}
}

func fill(k int, b Bounds) []Bounds {
	out := make([]Bounds, k)
	for i := range out {
		out[i] = b
	}
	return out
}
