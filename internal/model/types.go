package model

import (
	"time"

	"fieldroute/internal/opt"
)

// Wire types for the HTTP API and the persisted plan documents.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationIn is a candidate stop as submitted by a client or a feed.
type LocationIn struct {
	CaseRef     string    `json:"caseRef"`
	Address     string    `json:"address,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    *GeoPoint `json:"location"`
}

// Location is a stored candidate stop.
type Location struct {
	ID          string    `json:"id"`
	CaseRef     string    `json:"caseRef"`
	Address     string    `json:"address,omitempty"`
	Description string    `json:"description,omitempty"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type FleetIn struct {
	Bikes int `json:"bikes"`
	Cars  int `json:"cars"`
}

// PlanRequest starts one planning run. Locations, when given, replace the
// stored candidates for this run only.
type PlanRequest struct {
	PlanDate      string       `json:"planDate"`
	Fleet         FleetIn      `json:"fleet"`
	Locations     []LocationIn `json:"locations,omitempty"`
	TimeBudgetMs  int          `json:"timeBudgetMs,omitempty"`
	Seed          int64        `json:"seed,omitempty"`
	Strategy      string       `json:"strategy,omitempty"`
	Workers       int          `json:"workers,omitempty"`
	MaxIterations int          `json:"maxIterations,omitempty"`
}

// PlanRoute is one vehicle's route in a stored plan.
type PlanRoute struct {
	Vehicle         string     `json:"vehicle"`
	Class           string     `json:"class"`
	Stops           []opt.Stop `json:"stops"`
	StopCount       int        `json:"stopCount"`
	DurationMinutes float64    `json:"durationMinutes"`
	DistanceMeters  float64    `json:"distanceMeters"`
	Cost            float64    `json:"cost"`
	MapsURL         string     `json:"mapsUrl,omitempty"`
}

// DroppedStop is a candidate the plan leaves unserved.
type DroppedStop struct {
	ID      string  `json:"id"`
	CaseRef string  `json:"caseRef,omitempty"`
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type Plan struct {
	ID         string            `json:"id"`
	PlanDate   string            `json:"planDate"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
	Fleet      FleetIn           `json:"fleet"`
	Objective  float64           `json:"objective"`
	Breakdown  opt.CostBreakdown `json:"breakdown"`
	MinStops   int               `json:"minStops"`
	Routes     []PlanRoute       `json:"routes"`
	Dropped    []DroppedStop     `json:"dropped"`
	NearDepot  []string          `json:"nearDepot,omitempty"`
	StopReason string            `json:"stopReason,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Route returns the route of vehicle label.
func (p Plan) Route(label string) (PlanRoute, bool) {
	for _, r := range p.Routes {
		if r.Vehicle == label {
			return r, true
		}
	}
	return PlanRoute{}, false
}

// PlanSummary is the list view of a plan.
type PlanSummary struct {
	ID        string    `json:"id"`
	PlanDate  string    `json:"planDate"`
	Status    string    `json:"status"`
	Objective float64   `json:"objective"`
	Served    int       `json:"served"`
	Dropped   int       `json:"dropped"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary derives the list view of p.
func (p Plan) Summary() PlanSummary {
	served := 0
	for _, r := range p.Routes {
		served += r.StopCount
	}
	return PlanSummary{
		ID:        p.ID,
		PlanDate:  p.PlanDate,
		Status:    p.Status,
		Objective: p.Objective,
		Served:    served,
		Dropped:   len(p.Dropped),
		CreatedAt: p.CreatedAt,
	}
}

const (
	PlanCompleted = "completed"
	PlanFailed    = "failed"
)

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// ProgressEvent is streamed to plan watchers while the solver runs.
type ProgressEvent struct {
	Type      string  `json:"type"`
	PlanID    string  `json:"planId"`
	Worker    int     `json:"worker,omitempty"`
	Round     int     `json:"round,omitempty"`
	BestCost  float64 `json:"bestCost,omitempty"`
	Dropped   int     `json:"dropped,omitempty"`
	ElapsedMs int64   `json:"elapsedMs"`
	Status    string  `json:"status,omitempty"`
}
