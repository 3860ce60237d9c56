package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"fieldroute/internal/obs"
	"fieldroute/internal/opt"
)

// Columns names the header fields of a CSV feed. Empty names are unused;
// Lat and Lng are required. Address and HouseNumber are joined with a space.
type Columns struct {
	ID          string
	CaseRef     string
	Address     string
	HouseNumber string
	Description string
	Lat         string
	Lng         string
	Status      string
}

// CSVOptions controls how a feed is parsed.
type CSVOptions struct {
	Comma   rune
	Columns Columns
	// Keep, when set, only admits rows whose Status column equals it.
	Keep string
	// Windows1252 decodes the file from cp1252, as older case exports are.
	Windows1252 bool
}

// DefaultCSVOptions parses the plain comma separated layout
// id,case_ref,address,description,lat,lng.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Comma: ',',
		Columns: Columns{
			ID:          "id",
			CaseRef:     "case_ref",
			Address:     "address",
			Description: "description",
			Lat:         "lat",
			Lng:         "lng",
		},
	}
}

// CaseExportOptions parses the semicolon separated case export of the
// parking system, keeping only cases awaiting follow-up.
func CaseExportOptions() CSVOptions {
	return CSVOptions{
		Comma: ';',
		Columns: Columns{
			CaseRef:     "Løbenummer",
			Address:     "Gade",
			HouseNumber: "Husnummer",
			Description: "Navn på forseelse",
			Lat:         "Latitude",
			Lng:         "Longitude",
			Status:      "Status på sagen",
		},
		Keep:        "Henstilling til oppfølging",
		Windows1252: true,
	}
}

// CSVFile reads locations from a file on every call.
type CSVFile struct {
	Path string
	Opts CSVOptions
}

func (c CSVFile) Name() string { return "csv:" + c.Path }

func (c CSVFile) Locations(ctx context.Context) (_ []opt.Location, err error) {
	defer obs.Time(ctx, "source.csv")(&err)
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, c.Opts)
}

// ReadCSV parses a feed. Rows without usable coordinates are skipped and
// logged; structural problems fail the read.
func ReadCSV(r io.Reader, o CSVOptions) ([]opt.Location, error) {
	if o.Windows1252 {
		r = charmap.Windows1252.NewDecoder().Reader(r)
	}
	cr := csv.NewReader(r)
	if o.Comma != 0 {
		cr.Comma = o.Comma
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	field := func(rec []string, name string) string {
		if name == "" {
			return ""
		}
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	for _, req := range []string{o.Columns.Lat, o.Columns.Lng} {
		if _, ok := col[req]; !ok || req == "" {
			return nil, fmt.Errorf("csv header: missing column %q", req)
		}
	}
	if o.Keep != "" {
		if _, ok := col[o.Columns.Status]; !ok {
			return nil, fmt.Errorf("csv header: missing status column %q", o.Columns.Status)
		}
	}

	var out []opt.Location
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if o.Keep != "" && field(rec, o.Columns.Status) != o.Keep {
			continue
		}
		ref := field(rec, o.Columns.CaseRef)
		lat, errLat := parseCoord(field(rec, o.Columns.Lat))
		lng, errLng := parseCoord(field(rec, o.Columns.Lng))
		if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			log.Printf("op=source.csv line=%d case_ref=%q msg=%q", line, ref, "no usable lat/lng, skipping")
			continue
		}
		id := field(rec, o.Columns.ID)
		if id == "" {
			id = ref
		}
		if id == "" {
			id = "row-" + strconv.Itoa(line)
		}
		addr := strings.TrimSpace(field(rec, o.Columns.Address) + " " + field(rec, o.Columns.HouseNumber))
		out = append(out, opt.Location{
			ID:          id,
			Lat:         lat,
			Lng:         lng,
			CaseRef:     ref,
			Address:     addr,
			Description: field(rec, o.Columns.Description),
		})
	}
	return out, nil
}

// parseCoord accepts both decimal points and decimal commas.
func parseCoord(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}
