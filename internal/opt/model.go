package opt

import (
	"fmt"
	"math"
	"strings"

	"fieldroute/internal/geo"
)

// Depot is the fixed node index of the shared start/end location.
const Depot = 0

// VehicleClass selects the cost structure and travel matrix of a vehicle.
type VehicleClass int

const (
	Bike VehicleClass = iota
	Car
	numClasses
)

func (c VehicleClass) String() string {
	switch c {
	case Bike:
		return "bike"
	case Car:
		return "car"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseVehicleClass accepts "bike" or "car" in any case.
func ParseVehicleClass(s string) (VehicleClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bike":
		return Bike, nil
	case "car":
		return Car, nil
	}
	return 0, inputErr("vehicle class", "unknown class %q", s)
}

// Location is a candidate stop, or the depot, with its opaque case metadata.
type Location struct {
	ID          string
	Lat         float64
	Lng         float64
	CaseRef     string
	Address     string
	Description string
}

// Point returns the coordinates of l.
func (l Location) Point() geo.Point { return geo.Point{Lat: l.Lat, Lng: l.Lng} }

type Vehicle struct {
	Class VehicleClass
	Label string
}

// Fleet is the day's vehicle composition. Vehicles are ordered bikes first,
// then cars, and labeled 1-indexed within their class.
type Fleet struct {
	Bikes int
	Cars  int
}

func (f Fleet) Size() int { return f.Bikes + f.Cars }

func (f Fleet) Vehicles() []Vehicle {
	out := make([]Vehicle, 0, f.Size())
	for i := 1; i <= f.Bikes; i++ {
		out = append(out, Vehicle{Class: Bike, Label: fmt.Sprintf("bike_%d", i)})
	}
	for i := 1; i <= f.Cars; i++ {
		out = append(out, Vehicle{Class: Car, Label: fmt.Sprintf("car_%d", i)})
	}
	return out
}

// TravelMatrix holds one vehicle class's N×N travel times (minutes) and
// distances (meters). Non-finite entries mean there is no usable edge.
type TravelMatrix struct {
	Time [][]float64
	Dist [][]float64
}

// Zone adds a time penalty to car arcs entering the area around Center.
type Zone struct {
	Center            geo.Point
	RadiusM           float64
	CarPenaltyMinutes float64
}

type MinStopsMode string

const (
	MinStopsAuto  MinStopsMode = "auto"
	MinStopsFixed MinStopsMode = "fixed"
	MinStopsOff   MinStopsMode = "off"
)

// MinStopsPolicy sets the VisitCount end floor. ExemptIdle lets a vehicle
// with no stops at all ignore the floor.
type MinStopsPolicy struct {
	Mode       MinStopsMode
	Fixed      int
	ExemptIdle bool
}

// BusinessRules are the per-run parameters of the routing model.
type BusinessRules struct {
	WorkMinutes               float64
	StopServiceMinutes        float64
	MaxBikeDistanceM          float64
	DropPenalty               float64
	FixedCostBike             float64
	FixedCostCar              float64
	GlobalSpanCoefficient     float64
	VisitCountSpanCoefficient float64
	MaxStopsPerVehicle        int // 0 means unbounded
	CenterZone                Zone
	MinStops                  MinStopsPolicy
}

// DefaultRules returns the reference parameter set.
func DefaultRules() BusinessRules {
	return BusinessRules{
		WorkMinutes:               330,
		StopServiceMinutes:        20,
		MaxBikeDistanceM:          30000,
		DropPenalty:               50000,
		FixedCostBike:             200,
		FixedCostCar:              1000,
		GlobalSpanCoefficient:     500,
		VisitCountSpanCoefficient: 500,
		MaxStopsPerVehicle:        100,
		CenterZone: Zone{
			Center:            geo.Point{Lat: 56.15625426608341, Lng: 10.214135214922244},
			RadiusM:           2000,
			CarPenaltyMinutes: 20,
		},
		MinStops: MinStopsPolicy{Mode: MinStopsAuto, ExemptIdle: true},
	}
}

func (r BusinessRules) fixedCost(c VehicleClass) float64 {
	if c == Car {
		return r.FixedCostCar
	}
	return r.FixedCostBike
}

// Validate rejects negative values and zero values where a positive one is
// required.
func (r BusinessRules) Validate() error {
	if !(r.WorkMinutes > 0) || math.IsInf(r.WorkMinutes, 0) {
		return inputErr("work_minutes", "must be positive and finite, got %v", r.WorkMinutes)
	}
	if !(r.DropPenalty > 0) {
		return inputErr("drop_penalty", "must be positive, got %v", r.DropPenalty)
	}
	nonNeg := []struct {
		name string
		v    float64
	}{
		{"stop_service_minutes", r.StopServiceMinutes},
		{"max_bike_distance_m", r.MaxBikeDistanceM},
		{"fixed_cost_bike", r.FixedCostBike},
		{"fixed_cost_car", r.FixedCostCar},
		{"global_span_coefficient", r.GlobalSpanCoefficient},
		{"visit_count_span_coefficient", r.VisitCountSpanCoefficient},
		{"center_zone.radius_m", r.CenterZone.RadiusM},
		{"center_zone.car_penalty_minutes", r.CenterZone.CarPenaltyMinutes},
	}
	for _, f := range nonNeg {
		if !(f.v >= 0) {
			return inputErr(f.name, "must be >= 0, got %v", f.v)
		}
	}
	if r.MaxStopsPerVehicle < 0 {
		return inputErr("max_stops_per_vehicle", "must be >= 0, got %d", r.MaxStopsPerVehicle)
	}
	switch r.MinStops.Mode {
	case MinStopsAuto, MinStopsOff, "":
	case MinStopsFixed:
		if r.MinStops.Fixed < 0 {
			return inputErr("min_stops_policy.fixed", "must be >= 0, got %d", r.MinStops.Fixed)
		}
	default:
		return inputErr("min_stops_policy.mode", "unknown mode %q", r.MinStops.Mode)
	}
	return nil
}

// MinStopsFloor applies the policy to total candidates and k vehicles.
// Auto: 4 when total >= 5k, else max(1, floor(total/k) - 2).
func MinStopsFloor(p MinStopsPolicy, total, k int) int {
	switch p.Mode {
	case MinStopsOff:
		return 0
	case MinStopsFixed:
		return p.Fixed
	}
	if k <= 0 || total <= 0 {
		return 0
	}
	if total >= 5*k {
		return 4
	}
	f := total/k - 2
	if f < 1 {
		f = 1
	}
	return f
}

// Model is the immutable optimization input of one planning run. Node 0 is
// the depot; node i > 0 is candidate i-1.
type Model struct {
	Locations    []Location
	Vehicles     []Vehicle
	Rules        BusinessRules
	MinStops     int
	Time         Dimension
	Distance     Dimension
	VisitCount   Dimension
	Disjunctions []Disjunction

	n       int
	inZone  []bool
	timeArc [numClasses][]float64
	distArc [numClasses][]float64
}

// NumNodes returns 1 + candidate count.
func (m *Model) NumNodes() int { return m.n }

// InZone reports whether node j lies inside the center zone.
func (m *Model) InZone(j int) bool { return m.inZone[j] }

// ArcTime is the Time transit of i→j for class c: base time plus service
// time at j plus the center-zone penalty for cars.
func (m *Model) ArcTime(c VehicleClass, i, j int) float64 { return m.timeArc[c][i*m.n+j] }

// ArcDistance is the Distance transit of i→j for class c, in meters.
func (m *Model) ArcDistance(c VehicleClass, i, j int) float64 { return m.distArc[c][i*m.n+j] }

// BuildModel assembles a Model from the depot, the day's candidates, the
// fleet, one travel matrix per vehicle class in the fleet and the rules.
func BuildModel(depot Location, candidates []Location, fleet Fleet, matrices map[VehicleClass]TravelMatrix, rules BusinessRules) (*Model, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if fleet.Bikes < 0 || fleet.Cars < 0 {
		return nil, inputErr("fleet", "negative vehicle count (bikes=%d cars=%d)", fleet.Bikes, fleet.Cars)
	}
	if fleet.Size() == 0 && len(candidates) > 0 {
		return nil, inputErr("fleet", "empty fleet with %d candidates", len(candidates))
	}
	if fleet.Bikes > 0 && !(rules.MaxBikeDistanceM > 0) {
		return nil, inputErr("max_bike_distance_m", "must be positive when bikes are in the fleet")
	}
	seen := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		if c.ID == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			return nil, inputErr("locations", "duplicate candidate id %q at position %d", c.ID, i)
		}
		seen[c.ID] = struct{}{}
	}

	n := 1 + len(candidates)
	m := &Model{
		Locations: append([]Location{depot}, candidates...),
		Vehicles:  fleet.Vehicles(),
		Rules:     rules,
		n:         n,
	}

	classes := map[VehicleClass]bool{}
	for _, v := range m.Vehicles {
		classes[v.Class] = true
	}
	for c := range classes {
		tm, ok := matrices[c]
		if !ok {
			return nil, inputErr("matrix", "no travel matrix for class %s", c)
		}
		if err := checkMatrix(c, "time", tm.Time, n); err != nil {
			return nil, err
		}
		if err := checkMatrix(c, "dist", tm.Dist, n); err != nil {
			return nil, err
		}
	}

	m.inZone = make([]bool, n)
	if z := rules.CenterZone; z.RadiusM > 0 && z.CarPenaltyMinutes > 0 {
		pts := make([]geo.Point, n)
		for i, l := range m.Locations {
			pts[i] = l.Point()
		}
		for _, j := range geo.NewZoneIndex(pts).Within(z.Center, z.RadiusM) {
			m.inZone[j] = true
		}
	}

	for c := range classes {
		tm := matrices[c]
		ta := make([]float64, n*n)
		da := make([]float64, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				t, d := tm.Time[i][j], tm.Dist[i][j]
				if i == j || !finite(t) || !finite(d) {
					ta[i*n+j] = math.Inf(1)
					da[i*n+j] = math.Inf(1)
					continue
				}
				if j != Depot {
					t += rules.StopServiceMinutes
					if c == Car && m.inZone[j] {
						t += rules.CenterZone.CarPenaltyMinutes
					}
				}
				ta[i*n+j] = t
				da[i*n+j] = d
			}
		}
		m.timeArc[c] = ta
		m.distArc[c] = da
	}

	m.MinStops = MinStopsFloor(rules.MinStops, len(candidates), len(m.Vehicles))
	m.buildDimensions()
	m.Disjunctions = make([]Disjunction, 0, len(candidates))
	for j := 1; j < n; j++ {
		m.Disjunctions = append(m.Disjunctions, Disjunction{Node: j, Penalty: rules.DropPenalty})
	}
	return m, nil
}

func checkMatrix(c VehicleClass, kind string, mx [][]float64, n int) error {
	field := fmt.Sprintf("matrix[%s].%s", c, kind)
	if len(mx) != n {
		return inputErr(field, "has %d rows, want %d", len(mx), n)
	}
	for i, row := range mx {
		if len(row) != n {
			return inputErr(field, "row %d has %d columns, want %d", i, len(row), n)
		}
		for j, x := range row {
			// any non-finite entry means no usable edge
			if finite(x) && x < 0 {
				return inputErr(field, "negative entry %v at [%d][%d]", x, i, j)
			}
		}
	}
	return nil
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
