package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"fieldroute/internal/geo"
	"fieldroute/internal/opt"
)

// wireMatrix is the JSON form of a TravelMatrix. JSON has no infinity, so
// unusable entries are encoded as null.
type wireMatrix struct {
	Time [][]*float64 `json:"time"`
	Dist [][]*float64 `json:"dist"`
}

func toWire(tm opt.TravelMatrix) wireMatrix {
	conv := func(src [][]float64) [][]*float64 {
		out := make([][]*float64, len(src))
		for i, row := range src {
			out[i] = make([]*float64, len(row))
			for j, x := range row {
				if math.IsInf(x, 0) || math.IsNaN(x) {
					continue
				}
				v := x
				out[i][j] = &v
			}
		}
		return out
	}
	return wireMatrix{Time: conv(tm.Time), Dist: conv(tm.Dist)}
}

func fromWire(w wireMatrix) opt.TravelMatrix {
	conv := func(src [][]*float64) [][]float64 {
		out := make([][]float64, len(src))
		for i, row := range src {
			out[i] = make([]float64, len(row))
			for j, x := range row {
				if x == nil {
					out[i][j] = math.Inf(1)
					continue
				}
				out[i][j] = *x
			}
		}
		return out
	}
	return opt.TravelMatrix{Time: conv(w.Time), Dist: conv(w.Dist)}
}

// Encode writes matrices keyed by class name ("bike", "car").
func Encode(w io.Writer, mats map[opt.VehicleClass]opt.TravelMatrix) error {
	out := make(map[string]wireMatrix, len(mats))
	for c, tm := range mats {
		out[c.String()] = toWire(tm)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Decode reads the format written by Encode.
func Decode(r io.Reader) (map[opt.VehicleClass]opt.TravelMatrix, error) {
	var in map[string]wireMatrix
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode matrices: %w", err)
	}
	out := make(map[opt.VehicleClass]opt.TravelMatrix, len(in))
	for name, w := range in {
		c, err := opt.ParseVehicleClass(name)
		if err != nil {
			return nil, fmt.Errorf("decode matrices: %w", err)
		}
		out[c] = fromWire(w)
	}
	return out, nil
}

// WriteFile stores matrices as JSON at path.
func WriteFile(path string, mats map[opt.VehicleClass]opt.TravelMatrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, mats); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Static serves precomputed matrices, e.g. from a file written by
// `routeplan matrix`. The points passed to Matrix only need to match in
// count.
type Static struct {
	mats map[opt.VehicleClass]opt.TravelMatrix
}

func NewStatic(mats map[opt.VehicleClass]opt.TravelMatrix) *Static {
	return &Static{mats: mats}
}

func LoadStatic(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mats, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewStatic(mats), nil
}

func (s *Static) Matrix(_ context.Context, points []geo.Point, class opt.VehicleClass) (opt.TravelMatrix, error) {
	tm, ok := s.mats[class]
	if !ok {
		return opt.TravelMatrix{}, fmt.Errorf("static matrix: no %s matrix", class)
	}
	if err := checkShape(tm, len(points)); err != nil {
		return opt.TravelMatrix{}, fmt.Errorf("static matrix %s: %w", class, err)
	}
	return clone(tm), nil
}
