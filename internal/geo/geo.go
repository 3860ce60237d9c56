// Package geo provides great-circle helpers and an R-Tree index used to
// classify candidate stops against circular zones around a center point.
package geo

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
)

const (
	earthRadiusM = 6371000.0
	tolerance    = 1e-7
	minChildren  = 4
	maxChildren  = 16
	dimensions   = 2
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

type indexedPoint struct {
	idx  int
	pt   Point
	rect *rtreego.Rect
}

func (ip *indexedPoint) Bounds() *rtreego.Rect {
	return ip.rect
}

// ZoneIndex indexes a fixed slice of points by position. Query results are
// positions into that slice. It is read-only after construction.
type ZoneIndex struct {
	tree *rtreego.Rtree
}

// NewZoneIndex builds an index over points; point i is reported as i.
func NewZoneIndex(points []Point) *ZoneIndex {
	z := &ZoneIndex{tree: rtreego.NewTree(dimensions, minChildren, maxChildren)}
	for i, p := range points {
		rect := rtreego.Point{p.Lat, p.Lng}.ToRect(tolerance)
		z.tree.Insert(&indexedPoint{idx: i, pt: p, rect: rect})
	}
	return z
}

// Within returns the ascending positions of points strictly closer than
// radiusM to center.
func (z *ZoneIndex) Within(center Point, radiusM float64) []int {
	if radiusM <= 0 {
		return nil
	}
	dLat := radiusM / earthRadiusM * 180 / math.Pi
	// longitude degrees shrink with cos(lat); widen the box accordingly
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	dLng := 180.0
	if cosLat > 1e-6 {
		dLng = math.Min(180, dLat/cosLat)
	}
	box, err := rtreego.NewRect(
		rtreego.Point{center.Lat - dLat, center.Lng - dLng},
		[]float64{2 * dLat, 2 * dLng},
	)
	if err != nil {
		return nil
	}

	var out []int
	for _, s := range z.tree.SearchIntersect(box) {
		ip, ok := s.(*indexedPoint)
		if !ok {
			continue
		}
		if Haversine(center, ip.pt) < radiusM {
			out = append(out, ip.idx)
		}
	}
	sort.Ints(out)
	return out
}
