// Package api implements the HTTP surface of the route planning service.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldroute/internal/auth"
	"fieldroute/internal/config"
	"fieldroute/internal/metrics"
	"fieldroute/internal/planner"
	"fieldroute/internal/store"
	"fieldroute/internal/webhooks"
)

type Server struct {
	Config  config.Config
	Store   store.Store
	Planner *planner.Planner
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]context.CancelFunc // running plan id -> cancel
}

// NewServer wires the planner's progress stream and webhook publisher to
// the server's broker and store.
func NewServer(cfg config.Config, st store.Store, p *planner.Planner, broker EventBroker) *Server {
	if broker == nil {
		broker = NewBroker()
	}
	pub := webhooks.NewPublisher(st)
	if cfg.Webhook.URL != "" {
		pub.Targets = append(pub.Targets, webhooks.Target{URL: cfg.Webhook.URL, Secret: cfg.Webhook.Secret})
	}
	p.Store = st
	p.Progress = broker
	p.Events = pub
	base, stop := context.WithCancel(context.Background())
	return &Server{
		Config:  cfg,
		Store:   st,
		Planner: p,
		Pub:     pub,
		Auth:    auth.New(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Broker:  broker,
		base:    base,
		stop:    stop,
		active:  map[string]context.CancelFunc{},
	}
}

// Routes registers every endpoint on a new mux wrapped in the request
// middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Plans
	mux.HandleFunc("/v1/plans", s.PlansHandler)
	mux.HandleFunc("/v1/plans/", s.PlanByIDHandler) // includes /csv, /metrics, /cancel, /events/stream, /ws

	// Candidate locations
	mux.HandleFunc("/v1/locations", s.LocationsHandler)
	mux.HandleFunc("/v1/locations/", s.LocationByIDHandler)

	// Optimizer config
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)
	mux.HandleFunc("/v1/admin/optimizer/config", s.AdminOptimizerConfigHandler)

	// Webhook subscriptions and deliveries
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)

	// Health and introspection
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/vars", s.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return withRequestID(withMetrics(logMiddleware(mux)))
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.Webhook.MaxAttempts)
}

// Close cancels running plans and waits for them to persist.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Server) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[id] = cancel
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func (s *Server) running(id string) (context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.active[id]
	return c, ok
}
