package api

import (
	"net/http"
	"runtime"
	"time"

	"fieldroute/internal/buildinfo"
)

// DebugJSON reports build data and the non-secret parts of the running
// configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, isAdmin, "admin") {
		return
	}
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build":      buildinfo.Info(),
		"time":       time.Now().UTC().Format(time.RFC3339),
		"goroutines": runtime.NumGoroutine(),
		"runningPlans": func() int {
			s.mu.Lock()
			defer s.mu.Unlock()
			return len(s.active)
		}(),
		"config": map[string]any{
			"port":             c.Port,
			"authMode":         s.Auth.Mode,
			"depot":            c.Depot,
			"fleet":            c.Fleet,
			"solver":           c.Solver,
			"sources":          c.Sources,
			"hasDatabaseURL":   c.DatabaseURL != "",
			"hasRedisURL":      c.RedisURL != "",
			"hasGraphHopper":   c.Matrix.GraphHopperURL != "",
			"matrixFile":       c.Matrix.File,
			"webhookAttempts":  c.Webhook.MaxAttempts,
			"hasWebhookTarget": c.Webhook.URL != "",
		},
	})
}
