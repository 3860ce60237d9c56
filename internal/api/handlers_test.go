package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fieldroute/internal/auth"
	"fieldroute/internal/config"
	"fieldroute/internal/matrix"
	"fieldroute/internal/model"
	"fieldroute/internal/planner"
	"fieldroute/internal/source"
	"fieldroute/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Solver.TimeBudgetSeconds = 2
	cfg.Solver.MaxIterations = 10
	st := store.NewMemory()
	p := &planner.Planner{Config: cfg, Matrices: matrix.NewEstimator(), Sources: source.StoreSource{Store: st}}
	s := NewServer(cfg, st, p, nil)
	t.Cleanup(s.Close)
	return s
}

const planBody = `{"planDate":"2025-03-04","fleet":{"bikes":1,"cars":1},"seed":5,"locations":[
 {"caseRef":"K1","address":"Banegårdspladsen 1","location":{"lat":56.1503,"lng":10.2045}},
 {"caseRef":"K2","address":"Åboulevarden 20","location":{"lat":56.1567,"lng":10.2108}},
 {"caseRef":"K3","address":"Vestergade 5","location":{"lat":56.1580,"lng":10.2010}},
 {"caseRef":"K4","address":"Silkeborgvej 100","location":{"lat":56.1530,"lng":10.1650}}]}`

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" && hdr["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t).Routes()
	if rr := do(t, h, http.MethodGet, "/healthz", "", nil); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/readyz", "", nil)
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestLocationsCreateListDelete(t *testing.T) {
	h := newTestServer(t).Routes()
	body := `{"locations":[{"caseRef":"A1","location":{"lat":56.15,"lng":10.2}},{"caseRef":"A2","location":{"lat":56.16,"lng":10.21}}]}`
	rr := do(t, h, http.MethodPost, "/v1/locations", body, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create: %d %s", rr.Code, rr.Body)
	}
	var res struct{ Created, Skipped int }
	decode(t, rr, &res)
	if res.Created != 2 || res.Skipped != 0 {
		t.Fatalf("create counts: %+v", res)
	}

	csv := "id,case_ref,address,description,lat,lng\n" +
		"x,A2,Dup,,56.16,10.21\n" +
		"y,A3,Ny Munkegade 1,Sign missing,56.17,10.2\n" +
		"z,A4,Depot,,56.161147,10.13455\n"
	rr = do(t, h, http.MethodPost, "/v1/locations", csv, map[string]string{"Content-Type": "text/csv"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("csv: %d %s", rr.Code, rr.Body)
	}
	decode(t, rr, &res)
	if res.Created != 2 || res.Skipped != 1 {
		t.Fatalf("csv counts: %+v", res)
	}

	rr = do(t, h, http.MethodGet, "/v1/locations?limit=10&nearDepot=true", "", nil)
	var list struct {
		Items     []model.Location `json:"items"`
		NearDepot []string         `json:"nearDepot"`
	}
	decode(t, rr, &list)
	if len(list.Items) != 4 || len(list.NearDepot) != 1 {
		t.Fatalf("list: %d items, near depot %v", len(list.Items), list.NearDepot)
	}

	rr = do(t, h, http.MethodDelete, "/v1/locations/"+list.Items[0].ID, "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	rr = do(t, h, http.MethodDelete, "/v1/locations/"+list.Items[0].ID, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rr.Code)
	}
}

func TestPlanSyncAndArtifacts(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodPost, "/v1/plans", planBody, nil)
	if rr.Code != 200 {
		t.Fatalf("plan: %d %s", rr.Code, rr.Body)
	}
	var plan model.Plan
	decode(t, rr, &plan)
	if plan.Status != model.PlanCompleted || len(plan.Routes) != 2 {
		t.Fatalf("unexpected plan: %+v", plan.Summary())
	}
	if sum := plan.Summary(); sum.Served+sum.Dropped != 4 {
		t.Fatalf("stops not conserved: %+v", sum)
	}

	rr = do(t, h, http.MethodGet, "/v1/plans?planDate=2025-03-04", "", nil)
	var list struct {
		Items []model.PlanSummary `json:"items"`
	}
	decode(t, rr, &list)
	if len(list.Items) != 1 || list.Items[0].ID != plan.ID {
		t.Fatalf("list: %+v", list.Items)
	}
	rr = do(t, h, http.MethodGet, "/v1/plans?planDate=2025-03-05", "", nil)
	decode(t, rr, &list)
	if len(list.Items) != 0 {
		t.Fatalf("date filter: %+v", list.Items)
	}

	if rr = do(t, h, http.MethodGet, "/v1/plans/"+plan.ID, "", nil); rr.Code != 200 {
		t.Fatalf("get: %d", rr.Code)
	}

	var used model.PlanRoute
	for _, r := range plan.Routes {
		if r.StopCount > 0 {
			used = r
		}
	}
	if used.Vehicle == "" {
		t.Fatalf("no vehicle served a stop: %+v", plan.Routes)
	}
	rr = do(t, h, http.MethodGet, "/v1/plans/"+plan.ID+"/csv?vehicle="+used.Vehicle, "", nil)
	if rr.Code != 200 || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("csv: %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if lines[0] != "Name,Description,Latitude,Longitude" || !strings.Contains(rr.Body.String(), "Stop 1: ") {
		t.Fatalf("csv body: %q", rr.Body.String())
	}
	if rr = do(t, h, http.MethodGet, "/v1/plans/"+plan.ID+"/csv", "", nil); rr.Code != 400 {
		t.Fatalf("csv without vehicle: %d", rr.Code)
	}
	if rr = do(t, h, http.MethodGet, "/v1/plans/"+plan.ID+"/csv?vehicle=bike_9", "", nil); rr.Code != 404 {
		t.Fatalf("csv unknown vehicle: %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/plans/"+plan.ID+"/maps?navigate=true&vehicle="+used.Vehicle, "", nil)
	var maps struct{ URL string }
	decode(t, rr, &maps)
	if !strings.Contains(maps.URL, "dir_action=navigate") {
		t.Fatalf("maps url: %q", maps.URL)
	}

	rr = do(t, h, http.MethodGet, "/v1/plans/"+plan.ID+"/metrics", "", nil)
	var mx struct {
		Items []map[string]any `json:"items"`
	}
	decode(t, rr, &mx)
	if len(mx.Items) != 1 || mx.Items[0]["strategy"] != "gls" {
		t.Fatalf("metrics: %v", mx.Items)
	}

	if rr = do(t, h, http.MethodGet, "/v1/plans/nope", "", nil); rr.Code != 404 {
		t.Fatalf("missing plan: %d", rr.Code)
	}
}

func TestPlanValidation(t *testing.T) {
	h := newTestServer(t).Routes()
	cases := map[string]string{
		"negative fleet":  `{"fleet":{"bikes":-1}}`,
		"bad strategy":    `{"strategy":"tabu"}`,
		"missing coords":  `{"locations":[{"caseRef":"A"}]}`,
		"out of range":    `{"locations":[{"caseRef":"A","location":{"lat":91,"lng":0}}]}`,
		"bad json":        `{"fleet":`,
		"bad date format": `{"planDate":"4.3.2025","locations":[{"caseRef":"A","location":{"lat":56.1,"lng":10.2}}]}`,
	}
	for name, body := range cases {
		rr := do(t, h, http.MethodPost, "/v1/plans", body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d %s", name, rr.Code, rr.Body)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Fatalf("%s: content type %q", name, ct)
		}
	}
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	rr := do(t, h, http.MethodPost, "/v1/plans", planBody, map[string]string{"X-Role": "viewer"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer plan: %d", rr.Code)
	}
	rr = do(t, h, http.MethodPut, "/v1/admin/optimizer/config", `{"config":{}}`, map[string]string{"X-Role": "dispatcher"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("dispatcher admin config: %d", rr.Code)
	}

	s.Auth = auth.New("hmac", "k")
	if rr = do(t, h, http.MethodGet, "/v1/plans", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rr.Code)
	}
	tok, _ := auth.SignHS256([]byte("k"), map[string]any{"sub": "ops", "role": "dispatcher"})
	if rr = do(t, h, http.MethodGet, "/v1/plans", "", map[string]string{"Authorization": "Bearer " + tok}); rr.Code != 200 {
		t.Fatalf("with token: %d", rr.Code)
	}
}

func TestOptimizerConfig(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodPut, "/v1/admin/optimizer/config", `{"config":{"work_minutes":-5}}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid override: %d %s", rr.Code, rr.Body)
	}
	rr = do(t, h, http.MethodPut, "/v1/admin/optimizer/config", `{"config":{"work_minutes":240,"min_stops_policy":{"mode":"off"}}}`, nil)
	if rr.Code != 200 {
		t.Fatalf("save override: %d %s", rr.Code, rr.Body)
	}
	rr = do(t, h, http.MethodGet, "/v1/optimizer/config", "", nil)
	var got struct {
		Rules config.Rules `json:"rules"`
	}
	decode(t, rr, &got)
	if got.Rules.WorkMinutes != 240 || got.Rules.MinStops.Mode != "off" || got.Rules.StopServiceMinutes != 20 {
		t.Fatalf("effective rules: %+v", got.Rules)
	}
}

func TestSubscriptions(t *testing.T) {
	h := newTestServer(t).Routes()
	if rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"ftp://x","events":["plan.completed"]}`, nil); rr.Code != 400 {
		t.Fatalf("bad url: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"https://mailer.local/hook","events":["route.started"]}`, nil); rr.Code != 400 {
		t.Fatalf("bad event: %d", rr.Code)
	}
	rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"https://mailer.local/hook","events":["plan.completed"],"secret":"x"}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body)
	}
	rr = do(t, h, http.MethodGet, "/v1/subscriptions", "", nil)
	if strings.Contains(rr.Body.String(), `"secret"`) {
		t.Fatalf("secret leaked: %s", rr.Body)
	}

	// a completed plan queues a delivery for the subscriber
	if rr = do(t, h, http.MethodPost, "/v1/plans", planBody, nil); rr.Code != 200 {
		t.Fatalf("plan: %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries?status=pending", "", nil)
	var dl struct {
		Items []map[string]any `json:"items"`
	}
	decode(t, rr, &dl)
	if len(dl.Items) != 1 || dl.Items[0]["eventType"] != "plan.completed" {
		t.Fatalf("deliveries: %v", dl.Items)
	}
}

func TestAsyncPlanStreams(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/plans?async=true", "application/json", bytes.NewReader([]byte(planBody)))
	if err != nil {
		t.Fatal(err)
	}
	var acc struct{ ID, Status string }
	_ = json.NewDecoder(resp.Body).Decode(&acc)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || acc.ID == "" {
		t.Fatalf("async: %d %+v", resp.StatusCode, acc)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err = client.Get(srv.URL + "/v1/plans/" + acc.ID + "/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	sawDone := false
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event: plan.done" {
			sawDone = true
		}
	}
	resp.Body.Close()
	if !sawDone {
		t.Fatal("stream ended without plan.done")
	}

	// once finished, the websocket replays the closing event
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/plans/" + acc.ID + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	var evt model.ProgressEvent
	if err := c.ReadJSON(&evt); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	if evt.Type != planner.EventDone || evt.Status != model.PlanCompleted {
		t.Fatalf("ws event: %+v", evt)
	}

	resp, err = client.Get(srv.URL + "/v1/plans/unknown/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown plan stream: %d", resp.StatusCode)
	}
}

func TestCancelIdlePlan(t *testing.T) {
	h := newTestServer(t).Routes()
	if rr := do(t, h, http.MethodPost, "/v1/plans/abc/cancel", "", nil); rr.Code != http.StatusConflict {
		t.Fatalf("cancel: %d", rr.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/plans/123/csv":                    "/v1/plans/{id}/csv",
		"/v1/plans":                            "/v1/plans",
		"/v1/admin/webhook-deliveries/9/retry": "/v1/admin/webhook-deliveries/{id}/retry",
		"/healthz":                             "/healthz",
		"/v1/locations/abc":                    "/v1/locations/{id}",
	}
	for in, want := range cases {
		if got := routeLabel(in); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
