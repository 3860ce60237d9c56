package render

import (
	"bytes"
	"encoding/csv"
	"net/url"
	"strings"
	"testing"

	"fieldroute/internal/opt"
)

var depot = opt.Stop{Node: 0, Depot: true, Lat: 56.161147, Lng: 10.13455}

func stop(node int, lat, lng float64, ref, addr string) opt.Stop {
	return opt.Stop{Node: node, Lat: lat, Lng: lng, CaseRef: ref, Address: addr, Description: "Parking"}
}

func TestMapsURLBike(t *testing.T) {
	stops := []opt.Stop{depot, stop(1, 56.15, 10.2, "R1", "A 1"), stop(2, 56.14, 10.21, "R2", "B 2"), depot}
	raw := MapsURL(stops, "bike", true)
	if !strings.HasPrefix(raw, "https://www.google.com/maps/dir/?") {
		t.Fatalf("unexpected prefix: %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("api") != "1" || q.Get("travelmode") != "bicycling" || q.Get("dir_action") != "navigate" {
		t.Fatalf("query: %v", q)
	}
	if q.Get("destination") != "56.161147,10.13455" {
		t.Fatalf("destination should be the depot return, got %q", q.Get("destination"))
	}
	if q.Get("waypoints") != "56.15,10.2|56.14,10.21" {
		t.Fatalf("waypoints = %q", q.Get("waypoints"))
	}
}

func TestMapsURLCarWithoutNavigation(t *testing.T) {
	stops := []opt.Stop{depot, stop(3, 56.15, 10.2, "", ""), depot}
	u, _ := url.Parse(MapsURL(stops, "car", false))
	q := u.Query()
	if q.Get("travelmode") != "driving" || q.Has("dir_action") {
		t.Fatalf("query: %v", q)
	}
}

func TestMapsURLNoRoute(t *testing.T) {
	if got := MapsURL([]opt.Stop{depot}, "bike", true); got != NoRoute {
		t.Fatalf("single point: %q", got)
	}
	if got := MapsURL([]opt.Stop{depot, depot}, "bike", true); got != NoRoute {
		t.Fatalf("idle vehicle: %q", got)
	}
}

func TestWriteMyMapsCSV(t *testing.T) {
	stops := []opt.Stop{depot, stop(4, 56.15, 10.2, "R1", "A 1"), stop(2, 56.14, 10.21, "", "B 2"), depot}
	var buf bytes.Buffer
	if err := WriteMyMapsCSV(&buf, stops); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("want header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "Name,Description,Latitude,Longitude" {
		t.Fatalf("header: %v", rows[0])
	}
	if rows[1][0] != "Stop 1: A 1" || rows[1][1] != "Case: R1\nParking" || rows[1][2] != "56.15" {
		t.Fatalf("row 1: %q", rows[1])
	}
	if rows[2][0] != "Stop 2: B 2" || rows[2][1] != "Parking" {
		t.Fatalf("row 2: %q", rows[2])
	}
}

func TestSummary(t *testing.T) {
	got := Summary(opt.VehicleRoute{Label: "bike_1", Stops: 4, DurationMinutes: 212.5, DistanceMeters: 18400})
	if got != "bike_1: 4 stops, 212.5 min, 18.4 km" {
		t.Fatalf("Summary = %q", got)
	}
}
