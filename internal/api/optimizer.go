package api

import (
	"encoding/json"
	"net/http"
)

// OptimizerConfigHandler returns the business rules a plan started now
// would use: the file config overlaid with the stored overrides.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, anyRole, "") {
		return
	}
	over, err := s.Store.GetOptimizerConfig(r.Context())
	if err != nil {
		writeError(w, r, "Optimizer config unavailable", err)
		return
	}
	eff, err := s.Config.WithOverrides(over)
	if err != nil {
		// stored overrides are validated on save; this only trips when the
		// file config changed underneath them
		writeProblem(w, http.StatusInternalServerError, "Stored optimizer config invalid", err.Error(), r.URL.Path)
		return
	}
	if over == nil {
		over = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":     eff.Rules,
		"overrides": over,
		"solver": map[string]any{
			"strategy":          eff.Solver.Strategy,
			"timeBudgetSeconds": eff.Solver.TimeBudgetSeconds,
			"workers":           eff.Solver.Workers,
			"maxIterations":     eff.Solver.MaxIterations,
		},
	})
}

// AdminOptimizerConfigHandler reads and replaces the stored overrides.
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, isAdmin, "admin") {
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.Store.GetOptimizerConfig(r.Context())
		if err != nil {
			writeError(w, r, "Optimizer config unavailable", err)
			return
		}
		if cfg == nil {
			cfg = map[string]any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct {
			Config map[string]any `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, http.StatusBadRequest, "Missing config", "", r.URL.Path)
			return
		}
		if _, err := s.Config.WithOverrides(body.Config); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid optimizer config", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.SaveOptimizerConfig(r.Context(), body.Config); err != nil {
			writeError(w, r, "Save failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
