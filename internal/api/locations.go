package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
	"fieldroute/internal/source"
)

// maxUpload bounds a location import body.
const maxUpload = 16 << 20

// LocationsHandler handles POST/GET /v1/locations. POST takes either JSON
// {"locations":[...]} or a CSV body (Content-Type text/csv); ?format=case_export
// reads the municipal case export layout.
func (s *Server) LocationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.authorize(w, r, canPlan, "dispatcher or admin") {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		var (
			in     []model.LocationIn
			origin string
		)
		mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mt == "text/csv" {
			opts, name := source.DefaultCSVOptions(), "csv"
			if r.URL.Query().Get("format") == "case_export" {
				opts, name = source.CaseExportOptions(), "case_export"
			}
			locs, err := source.ReadCSV(r.Body, opts)
			if err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
				return
			}
			in, origin = source.ToInputs(locs), name
		} else {
			var req struct {
				Locations []model.LocationIn `json:"locations"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
				return
			}
			if err := validateLocations(req.Locations); err != nil {
				writeError(w, r, "Invalid locations", err)
				return
			}
			in, origin = req.Locations, "api"
		}
		created, skipped, err := s.Store.AddLocations(r.Context(), origin, in)
		if err != nil {
			writeError(w, r, "Add locations failed", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"created": created, "skipped": skipped, "source": origin})
	case http.MethodGet:
		if !s.authorize(w, r, anyRole, "") {
			return
		}
		q := r.URL.Query()
		items, next, err := s.Store.ListLocations(r.Context(), q.Get("cursor"), parseLimit(q.Get("limit")))
		if err != nil {
			writeError(w, r, "List locations failed", err)
			return
		}
		resp := map[string]any{"items": items, "nextCursor": next}
		if isTrue(q.Get("nearDepot")) {
			resp["nearDepot"] = s.nearDepot(items)
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) nearDepot(items []model.Location) []string {
	locs := make([]opt.Location, len(items))
	for i, l := range items {
		locs[i] = opt.Location{ID: l.ID, Lat: l.Lat, Lng: l.Lng}
	}
	ids := source.NearDepot(s.Config.DepotLocation().Point(), locs, source.NearDepotMeters)
	if ids == nil {
		ids = []string{}
	}
	return ids
}

// LocationByIDHandler handles DELETE /v1/locations/{id}.
func (s *Server) LocationByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/locations/"), "/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, canPlan, "dispatcher or admin") {
		return
	}
	if err := s.Store.DeleteLocation(r.Context(), id); err != nil {
		writeError(w, r, "Delete location failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
