// Package source loads the candidate locations of a planning run from feeds:
// CSV exports, the location store and request bodies.
package source

import (
	"context"
	"fmt"
	"log"

	"fieldroute/internal/config"
	"fieldroute/internal/geo"
	"fieldroute/internal/model"
	"fieldroute/internal/obs"
	"fieldroute/internal/opt"
)

// Source yields candidate locations. Order is preserved into node order.
type Source interface {
	Name() string
	Locations(ctx context.Context) ([]opt.Location, error)
}

// Static serves a fixed list, e.g. locations posted with a plan request.
type Static struct {
	Label string
	Locs  []opt.Location
}

func (s Static) Name() string { return s.Label }

func (s Static) Locations(context.Context) ([]opt.Location, error) {
	return append([]opt.Location(nil), s.Locs...), nil
}

// Multi concatenates sources in order. A location whose ID was already seen
// from an earlier source is skipped.
type Multi []Source

func (m Multi) Name() string { return "multi" }

func (m Multi) Locations(ctx context.Context) (_ []opt.Location, err error) {
	defer obs.Time(ctx, "source.multi")(&err)
	var out []opt.Location
	seen := map[string]bool{}
	for _, s := range m {
		locs, err := s.Locations(ctx)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", s.Name(), err)
		}
		dups := 0
		for _, l := range locs {
			if seen[l.ID] {
				dups++
				continue
			}
			seen[l.ID] = true
			out = append(out, l)
		}
		log.Printf("req_id=%s op=source.load source=%s locations=%d duplicates=%d", obs.RequestID(ctx), s.Name(), len(locs)-dups, dups)
	}
	return out, nil
}

// FromInputs converts request locations. Entries without coordinates are
// rejected; missing case references get positional ids.
func FromInputs(in []model.LocationIn) ([]opt.Location, error) {
	out := make([]opt.Location, 0, len(in))
	for i, l := range in {
		if l.Location == nil {
			return nil, fmt.Errorf("locations[%d]: missing location", i)
		}
		id := l.CaseRef
		if id == "" {
			id = fmt.Sprintf("req-%d", i+1)
		}
		out = append(out, opt.Location{
			ID:          id,
			Lat:         l.Location.Lat,
			Lng:         l.Location.Lng,
			CaseRef:     l.CaseRef,
			Address:     l.Address,
			Description: l.Description,
		})
	}
	return out, nil
}

// ToInputs is the inverse of FromInputs, used to persist loaded feeds.
func ToInputs(locs []opt.Location) []model.LocationIn {
	out := make([]model.LocationIn, len(locs))
	for i, l := range locs {
		ref := l.CaseRef
		if ref == "" {
			ref = l.ID
		}
		out[i] = model.LocationIn{
			CaseRef:     ref,
			Address:     l.Address,
			Description: l.Description,
			Location:    &model.GeoPoint{Lat: l.Lat, Lng: l.Lng},
		}
	}
	return out
}

// NearDepotMeters is the distance under which a stop is reported as
// suspiciously close to the depot, usually a geocoding fallback.
const NearDepotMeters = 100

// NearDepot returns the ids of locations closer than thresholdM to depot.
func NearDepot(depot geo.Point, locs []opt.Location, thresholdM float64) []string {
	pts := make([]geo.Point, len(locs))
	for i, l := range locs {
		pts[i] = l.Point()
	}
	idx := geo.NewZoneIndex(pts).Within(depot, thresholdM)
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = locs[i].ID
	}
	return out
}

// FromConfig builds the feeds named in the service config, in order. A
// single feed is returned as is.
func FromConfig(refs []config.SourceRef, st Lister) (Source, error) {
	var out Multi
	for i, r := range refs {
		switch r.Kind {
		case "store":
			out = append(out, StoreSource{Store: st})
		case "csv":
			out = append(out, CSVFile{Path: r.Path, Opts: DefaultCSVOptions()})
		case "case_export":
			out = append(out, CSVFile{Path: r.Path, Opts: CaseExportOptions()})
		default:
			return nil, fmt.Errorf("sources[%d]: unknown kind %q", i, r.Kind)
		}
	}
	switch len(out) {
	case 0:
		return StoreSource{Store: st}, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}
