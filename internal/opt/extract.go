package opt

// VehicleRoute is one vehicle's realized route. Path starts and ends at the
// depot; the cumul slices are aligned with Path.
type VehicleRoute struct {
	Label           string    `json:"label"`
	Class           string    `json:"class"`
	Path            []int     `json:"path"`
	Stops           int       `json:"stops"`
	StartMinutes    float64   `json:"startMinutes"`
	EndMinutes      float64   `json:"endMinutes"`
	DurationMinutes float64   `json:"durationMinutes"`
	DistanceMeters  float64   `json:"distanceMeters"`
	Cost            float64   `json:"cost"`
	TimeCumul       []float64 `json:"timeCumul"`
	DistanceCumul   []float64 `json:"distanceCumul"`
	VisitCumul      []float64 `json:"visitCumul"`
}

// Used reports whether the vehicle serves at least one stop.
func (r VehicleRoute) Used() bool { return r.Stops > 0 }

// Result is the solver output: one route per vehicle in fleet order, the
// dropped nodes in ascending order and the objective.
type Result struct {
	Routes    []VehicleRoute `json:"routes"`
	Dropped   []int          `json:"dropped"`
	Objective float64        `json:"objective"`
	Breakdown CostBreakdown  `json:"breakdown"`
	MinStops  int            `json:"minStops"`
}

// ByLabel maps vehicle labels to routes.
func (r Result) ByLabel() map[string]VehicleRoute {
	out := make(map[string]VehicleRoute, len(r.Routes))
	for _, vr := range r.Routes {
		out[vr.Label] = vr
	}
	return out
}

// Served counts the stops on all routes.
func (r Result) Served() int {
	n := 0
	for _, vr := range r.Routes {
		n += vr.Stops
	}
	return n
}

func extract(s *state) Result {
	m := s.m
	res := Result{
		Routes:    make([]VehicleRoute, len(s.routes)),
		Dropped:   []int{},
		Objective: s.objective(),
		Breakdown: s.breakdown(),
		MinStops:  m.MinStops,
	}
	for v, stops := range s.routes {
		veh := m.Vehicles[v]
		path := make([]int, 0, len(stops)+2)
		path = append(path, Depot)
		path = append(path, stops...)
		path = append(path, Depot)
		vr := VehicleRoute{
			Label:         veh.Label,
			Class:         veh.Class.String(),
			Path:          path,
			Stops:         len(stops),
			TimeCumul:     make([]float64, len(path)),
			DistanceCumul: make([]float64, len(path)),
			VisitCumul:    make([]float64, len(path)),
		}
		if len(stops) > 0 {
			for k := 1; k < len(path); k++ {
				i, j := path[k-1], path[k]
				vr.TimeCumul[k] = vr.TimeCumul[k-1] + m.Time.Transit(v, i, j)
				vr.DistanceCumul[k] = vr.DistanceCumul[k-1] + m.Distance.Transit(v, i, j)
				vr.VisitCumul[k] = vr.VisitCumul[k-1] + m.VisitCount.Transit(v, i, j)
			}
		}
		last := len(path) - 1
		vr.EndMinutes = vr.TimeCumul[last]
		vr.DurationMinutes = vr.EndMinutes - vr.StartMinutes
		vr.DistanceMeters = vr.DistanceCumul[last]
		vr.Cost = m.routeCost(v, s.stats[v])
		res.Routes[v] = vr
	}
	for j := 1; j < m.n; j++ {
		if s.dropped[j] {
			res.Dropped = append(res.Dropped, j)
		}
	}
	return res
}

// Stop is a path node joined with its location record.
type Stop struct {
	Node           int     `json:"node"`
	Depot          bool    `json:"depot"`
	ID             string  `json:"id"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	CaseRef        string  `json:"caseRef,omitempty"`
	Address        string  `json:"address,omitempty"`
	Description    string  `json:"description,omitempty"`
	ArrivalMinutes float64 `json:"arrivalMinutes"`
}

// Details resolves a route's path against locs, which is indexed by node
// (depot first, as in Model.Locations).
func Details(locs []Location, r VehicleRoute) []Stop {
	out := make([]Stop, 0, len(r.Path))
	for k, node := range r.Path {
		if node < 0 || node >= len(locs) {
			continue
		}
		l := locs[node]
		st := Stop{
			Node:        node,
			Depot:       node == Depot,
			ID:          l.ID,
			Lat:         l.Lat,
			Lng:         l.Lng,
			CaseRef:     l.CaseRef,
			Address:     l.Address,
			Description: l.Description,
		}
		if k < len(r.TimeCumul) {
			st.ArrivalMinutes = r.TimeCumul[k]
		}
		out = append(out, st)
	}
	return out
}
