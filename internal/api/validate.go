package api

import (
	"fmt"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
)

// maxLocations bounds one request; matrices grow with the square.
const maxLocations = 2000

func validatePlanRequest(req *model.PlanRequest) error {
	if req.Fleet.Bikes < 0 || req.Fleet.Cars < 0 {
		return &opt.InputError{Field: "fleet", Reason: "counts must be >= 0"}
	}
	if req.TimeBudgetMs < 0 {
		return &opt.InputError{Field: "timeBudgetMs", Reason: "must be >= 0"}
	}
	if req.MaxIterations < 0 {
		return &opt.InputError{Field: "maxIterations", Reason: "must be >= 0"}
	}
	if req.Workers < 0 || req.Workers > 64 {
		return &opt.InputError{Field: "workers", Reason: "must be in [0,64]"}
	}
	if req.Strategy != "" && req.Strategy != opt.StrategyGLS && req.Strategy != opt.StrategyDescent {
		return &opt.InputError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", req.Strategy)}
	}
	return validateLocations(req.Locations)
}

func validateLocations(locs []model.LocationIn) error {
	if len(locs) > maxLocations {
		return &opt.InputError{Field: "locations", Reason: fmt.Sprintf("at most %d per request", maxLocations)}
	}
	for i, l := range locs {
		if l.Location == nil {
			return &opt.InputError{Field: fmt.Sprintf("locations[%d]", i), Reason: "missing location"}
		}
		if l.Location.Lat < -90 || l.Location.Lat > 90 || l.Location.Lng < -180 || l.Location.Lng > 180 {
			return &opt.InputError{Field: fmt.Sprintf("locations[%d]", i), Reason: "coordinates out of range"}
		}
	}
	return nil
}
