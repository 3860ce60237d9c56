// Package render turns solved routes into artifacts for field staff: a
// Google Maps directions link and a MyMaps import CSV.
package render

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"fieldroute/internal/opt"
)

// NoRoute is returned by MapsURL for a vehicle without stops.
const NoRoute = "No valid route."

const mapsBase = "https://www.google.com/maps/dir/"

// TravelMode maps a vehicle class to the Google Maps travel mode.
func TravelMode(class string) string {
	if class == opt.Car.String() {
		return "driving"
	}
	return "bicycling"
}

func coord(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)
}

// MapsURL builds a directions link that starts from the device's current
// location. The leading depot is left out; the route's final point (the
// depot return) is the destination and the stops are waypoints in visiting
// order.
func MapsURL(stops []opt.Stop, class string, navigate bool) string {
	if len(stops) < 2 {
		return NoRoute
	}
	pts := stops
	if pts[0].Depot {
		pts = pts[1:]
	}
	served := 0
	for _, s := range pts {
		if !s.Depot {
			served++
		}
	}
	if served == 0 {
		return NoRoute
	}
	dest := pts[len(pts)-1]
	way := make([]string, 0, len(pts)-1)
	for _, s := range pts[:len(pts)-1] {
		way = append(way, coord(s.Lat, s.Lng))
	}
	q := url.Values{}
	q.Set("api", "1")
	q.Set("destination", coord(dest.Lat, dest.Lng))
	if len(way) > 0 {
		q.Set("waypoints", strings.Join(way, "|"))
	}
	q.Set("travelmode", TravelMode(class))
	if navigate {
		q.Set("dir_action", "navigate")
	}
	return mapsBase + "?" + q.Encode()
}

// WriteMyMapsCSV writes one row per served stop with the columns MyMaps
// imports: Name, Description, Latitude, Longitude. Stops are numbered by
// their position on the route, the depot being position 0.
func WriteMyMapsCSV(w io.Writer, stops []opt.Stop) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Name", "Description", "Latitude", "Longitude"}); err != nil {
		return err
	}
	for k, s := range stops {
		if s.Depot {
			continue
		}
		desc := s.Description
		if s.CaseRef != "" {
			desc = strings.TrimRight("Case: "+s.CaseRef+"\n"+s.Description, "\n")
		}
		row := []string{
			fmt.Sprintf("Stop %d: %s", k, s.Address),
			desc,
			strconv.FormatFloat(s.Lat, 'f', -1, 64),
			strconv.FormatFloat(s.Lng, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary renders a one-line duration report per vehicle, e.g.
// "bike_1: 4 stops, 212.5 min, 18.4 km".
func Summary(r opt.VehicleRoute) string {
	return fmt.Sprintf("%s: %d stops, %.1f min, %.1f km", r.Label, r.Stops, r.DurationMinutes, r.DistanceMeters/1000)
}
