// Package matrix supplies per-class travel time and distance matrices to the
// route optimizer: a GraphHopper client, a great-circle estimator, a static
// file source and caches in front of any of them.
package matrix

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"fieldroute/internal/geo"
	"fieldroute/internal/opt"
)

// Provider returns the travel matrices of one vehicle class over points,
// depot first. Non-finite entries mean the pair has no usable edge.
type Provider interface {
	Matrix(ctx context.Context, points []geo.Point, class opt.VehicleClass) (opt.TravelMatrix, error)
}

// ErrShape is returned when a matrix does not match the requested points.
var ErrShape = errors.New("matrix: shape mismatch")

// ForClasses fetches one matrix per class.
func ForClasses(ctx context.Context, p Provider, points []geo.Point, classes ...opt.VehicleClass) (map[opt.VehicleClass]opt.TravelMatrix, error) {
	out := make(map[opt.VehicleClass]opt.TravelMatrix, len(classes))
	for _, c := range classes {
		if _, done := out[c]; done {
			continue
		}
		m, err := p.Matrix(ctx, points, c)
		if err != nil {
			return nil, fmt.Errorf("matrix %s: %w", c, err)
		}
		out[c] = m
	}
	return out, nil
}

// Key identifies the matrix of class over points. Coordinates are rounded
// to 6 decimals (about 0.1 m).
func Key(points []geo.Point, class opt.VehicleClass) string {
	h := sha256.New()
	buf := make([]byte, 0, 32)
	for _, p := range points {
		buf = strconv.AppendFloat(buf[:0], p.Lat, 'f', 6, 64)
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, p.Lng, 'f', 6, 64)
		buf = append(buf, ';')
		h.Write(buf)
	}
	return "matrix:v1:" + class.String() + ":" + strconv.Itoa(len(points)) + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

// Empty returns an n×n matrix with zero diagonal and unusable off-diagonal
// entries.
func Empty(n int) opt.TravelMatrix {
	tm := opt.TravelMatrix{Time: make([][]float64, n), Dist: make([][]float64, n)}
	for i := 0; i < n; i++ {
		tm.Time[i] = make([]float64, n)
		tm.Dist[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i != j {
				tm.Time[i][j] = math.Inf(1)
				tm.Dist[i][j] = math.Inf(1)
			}
		}
	}
	return tm
}

func clone(tm opt.TravelMatrix) opt.TravelMatrix {
	out := opt.TravelMatrix{Time: make([][]float64, len(tm.Time)), Dist: make([][]float64, len(tm.Dist))}
	for i := range tm.Time {
		out.Time[i] = append([]float64(nil), tm.Time[i]...)
	}
	for i := range tm.Dist {
		out.Dist[i] = append([]float64(nil), tm.Dist[i]...)
	}
	return out
}

func checkShape(tm opt.TravelMatrix, n int) error {
	if len(tm.Time) != n || len(tm.Dist) != n {
		return fmt.Errorf("%w: have %dx%d rows, want %d", ErrShape, len(tm.Time), len(tm.Dist), n)
	}
	for i := 0; i < n; i++ {
		if len(tm.Time[i]) != n || len(tm.Dist[i]) != n {
			return fmt.Errorf("%w: row %d", ErrShape, i)
		}
	}
	return nil
}

// Estimator derives matrices from great-circle distance times a detour
// factor, at a fixed speed per class. It needs no network and serves as the
// fallback when no routing engine is configured.
type Estimator struct {
	MetersPerMinute map[opt.VehicleClass]float64
	Detour          float64
}

// NewEstimator uses 15 km/h for bikes, 30 km/h for cars and a 1.3 detour.
func NewEstimator() *Estimator {
	return &Estimator{
		MetersPerMinute: map[opt.VehicleClass]float64{opt.Bike: 250, opt.Car: 500},
		Detour:          1.3,
	}
}

func (e *Estimator) Matrix(ctx context.Context, points []geo.Point, class opt.VehicleClass) (opt.TravelMatrix, error) {
	speed := e.MetersPerMinute[class]
	if !(speed > 0) {
		return opt.TravelMatrix{}, fmt.Errorf("estimator: no speed for class %s", class)
	}
	detour := e.Detour
	if detour <= 0 {
		detour = 1
	}
	n := len(points)
	tm := Empty(n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return opt.TravelMatrix{}, err
		}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := geo.Haversine(points[i], points[j]) * detour
			tm.Dist[i][j] = d
			tm.Time[i][j] = d / speed
		}
	}
	return tm, nil
}
