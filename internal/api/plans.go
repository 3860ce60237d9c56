package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"fieldroute/internal/model"
	"fieldroute/internal/obs"
	"fieldroute/internal/opt"
	"fieldroute/internal/render"
	"fieldroute/internal/store"
)

// PlansHandler handles POST/GET /v1/plans. POST solves synchronously unless
// ?async=true, which answers 202 with the plan id to stream.
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.authorize(w, r, canPlan, "dispatcher or admin") {
			return
		}
		var req model.PlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validatePlanRequest(&req); err != nil {
			writeError(w, r, "Invalid plan request", err)
			return
		}
		id := uuid.NewString()
		if isTrue(r.URL.Query().Get("async")) {
			s.startAsync(r.Context(), id, req)
			writeJSON(w, http.StatusAccepted, map[string]any{
				"id":     id,
				"status": "running",
				"links": map[string]string{
					"self":   "/v1/plans/" + id,
					"events": "/v1/plans/" + id + "/events/stream",
					"ws":     "/v1/plans/" + id + "/ws",
				},
			})
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		s.track(id, cancel)
		defer s.untrack(id)
		plan, _, err := s.Planner.Run(ctx, id, req)
		if err != nil {
			writeError(w, r, "Plan failed", err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	case http.MethodGet:
		if !s.authorize(w, r, anyRole, "") {
			return
		}
		q := r.URL.Query()
		items, next, err := s.Store.ListPlans(r.Context(), q.Get("planDate"), q.Get("cursor"), parseLimit(q.Get("limit")))
		if err != nil {
			writeError(w, r, "List plans failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// startAsync runs a plan detached from the request. Server.Close cancels it;
// a canceled run still persists the best plan found so far.
func (s *Server) startAsync(rctx context.Context, id string, req model.PlanRequest) {
	ctx, cancel := context.WithCancel(obs.WithRequestID(s.base, obs.RequestID(rctx)))
	s.track(id, cancel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(id)
		defer cancel()
		if _, _, err := s.Planner.Run(ctx, id, req); err != nil {
			log.Printf("req_id=%s op=plan.async plan=%s err=%v", obs.RequestID(ctx), id, err)
		}
	}()
}

// PlanByIDHandler handles /v1/plans/{id} and its sub-resources.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := parts[0]
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	sub := strings.Join(parts[1:], "/")
	switch sub {
	case "":
		s.getPlan(w, r, id)
	case "csv":
		s.planCSV(w, r, id)
	case "maps":
		s.planMaps(w, r, id)
	case "metrics":
		s.planMetrics(w, r, id)
	case "cancel":
		s.cancelPlan(w, r, id)
	case "events/stream":
		s.planEvents(w, r, id)
	case "ws":
		s.planWS(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, anyRole, "") {
		return
	}
	plan, err := s.Store.GetPlan(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		if _, ok := s.running(id); ok {
			writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "running"})
			return
		}
	}
	if err != nil {
		writeError(w, r, "Plan not found", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// vehicleRoute loads the plan and picks the route named by ?vehicle=.
func (s *Server) vehicleRoute(w http.ResponseWriter, r *http.Request, id string) (model.PlanRoute, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return model.PlanRoute{}, false
	}
	if !s.authorize(w, r, anyRole, "") {
		return model.PlanRoute{}, false
	}
	vehicle := r.URL.Query().Get("vehicle")
	if vehicle == "" {
		writeProblem(w, http.StatusBadRequest, "Missing vehicle", "vehicle query parameter required, e.g. bike_1", r.URL.Path)
		return model.PlanRoute{}, false
	}
	plan, err := s.Store.GetPlan(r.Context(), id)
	if err != nil {
		writeError(w, r, "Plan not found", err)
		return model.PlanRoute{}, false
	}
	rt, ok := plan.Route(vehicle)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Vehicle not in plan", vehicle, r.URL.Path)
		return model.PlanRoute{}, false
	}
	return rt, true
}

func (s *Server) planCSV(w http.ResponseWriter, r *http.Request, id string) {
	rt, ok := s.vehicleRoute(w, r, id)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rt.Vehicle+`_route.csv"`)
	if err := render.WriteMyMapsCSV(w, rt.Stops); err != nil {
		log.Printf("req_id=%s op=plan.csv plan=%s err=%v", obs.RequestID(r.Context()), id, err)
	}
}

func (s *Server) planMaps(w http.ResponseWriter, r *http.Request, id string) {
	rt, ok := s.vehicleRoute(w, r, id)
	if !ok {
		return
	}
	nav := isTrue(r.URL.Query().Get("navigate"))
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicle": rt.Vehicle,
		"url":     render.MapsURL(rt.Stops, rt.Class, nav),
	})
}

// planMetrics prefers persisted metrics and falls back to the in-process
// record of a run whose metrics could not be saved.
func (s *Server) planMetrics(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, anyRole, "") {
		return
	}
	strategy := r.URL.Query().Get("strategy")
	items, err := s.Store.ListPlanMetrics(r.Context(), id, strategy)
	if err != nil || len(items) == 0 {
		items = []map[string]any{}
		for st, m := range opt.GetMetrics(id) {
			if strategy != "" && st != strategy {
				continue
			}
			b, _ := json.Marshal(m)
			var item map[string]any
			if json.Unmarshal(b, &item) == nil {
				items = append(items, item)
			}
		}
	}
	if len(items) == 0 {
		if _, err := s.Store.GetPlan(r.Context(), id); err != nil {
			writeError(w, r, "Plan not found", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) cancelPlan(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, canPlan, "dispatcher or admin") {
		return
	}
	cancel, ok := s.running(id)
	if !ok {
		writeProblem(w, http.StatusConflict, "Plan not running", id, r.URL.Path)
		return
	}
	cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "canceling"})
}

func parseLimit(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func isTrue(v string) bool { return strings.EqualFold(v, "true") || v == "1" }
