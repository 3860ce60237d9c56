package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fieldroute/internal/model"
	"fieldroute/internal/planner"
)

const (
	heartbeatEvery = 15 * time.Second
	wsPingEvery    = 20 * time.Second
	wsReadTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

func terminal(evt model.ProgressEvent) bool {
	return evt.Type == planner.EventDone || evt.Type == planner.EventFailed
}

// finished returns the closing event of a plan that is no longer running.
// known is false when the id names neither a running nor a stored plan.
func (s *Server) finished(r *http.Request, id string) (evt model.ProgressEvent, done, known bool) {
	if _, ok := s.running(id); ok {
		return model.ProgressEvent{}, false, true
	}
	plan, err := s.Store.GetPlan(r.Context(), id)
	if err != nil {
		return model.ProgressEvent{}, false, false
	}
	evt = model.ProgressEvent{Type: planner.EventDone, PlanID: id, BestCost: plan.Objective, Dropped: len(plan.Dropped), Status: plan.Status}
	if plan.Status == model.PlanFailed {
		evt.Type = planner.EventFailed
	}
	return evt, true, true
}

// planEvents streams solver progress as server-sent events until the plan
// finishes or the client goes away.
func (s *Server) planEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, anyRole, "") {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	// subscribe before checking for completion so the done event cannot
	// slip between the two
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	evt, done, known := s.finished(r, id)
	if !known {
		writeProblem(w, http.StatusNotFound, "Plan not found", id, r.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	send := func(evt model.ProgressEvent) {
		b, _ := json.Marshal(evt)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"planId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}

	heartbeat()
	if done {
		send(evt)
		return
	}
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if terminal(evt) {
				return
			}
		case <-ticker.C:
			// the done event may have been published between Subscribe and
			// the plan leaving the running set
			if evt, done, _ := s.finished(r, id); done {
				send(evt)
				return
			}
			heartbeat()
		}
	}
}

// planWS is the websocket form of planEvents. Each message is one
// ProgressEvent as JSON.
func (s *Server) planWS(w http.ResponseWriter, r *http.Request, id string) {
	if !s.authorize(w, r, anyRole, "") {
		return
	}
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	last, done, known := s.finished(r, id)
	if !known {
		writeProblem(w, http.StatusNotFound, "Plan not found", id, r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// the read loop only services pongs and notices the client leaving
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	closeWith := func(evt model.ProgressEvent) {
		_ = conn.WriteJSON(evt)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, evt.Status), time.Now().Add(time.Second))
	}
	if done {
		closeWith(last)
		return
	}
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if terminal(evt) {
				closeWith(evt)
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			if evt, done, _ := s.finished(r, id); done {
				closeWith(evt)
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
