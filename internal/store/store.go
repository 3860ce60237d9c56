package store

import (
	"context"
	"errors"
	"time"

	"fieldroute/internal/model"
)

// Store is the persistence interface used by the planner and the API server.
type Store interface {
	// Candidate locations
	AddLocations(ctx context.Context, source string, locs []model.LocationIn) (created, skipped int, err error)
	ListLocations(ctx context.Context, cursor string, limit int) (items []model.Location, nextCursor string, err error)
	DeleteLocation(ctx context.Context, id string) error

	// Plans
	SavePlan(ctx context.Context, p model.Plan) error
	GetPlan(ctx context.Context, id string) (model.Plan, error)
	ListPlans(ctx context.Context, planDate, cursor string, limit int) ([]model.PlanSummary, string, error)

	// Solver metrics per plan and strategy
	SavePlanMetrics(ctx context.Context, planID, strategy string, metrics map[string]any) error
	ListPlanMetrics(ctx context.Context, planID, strategy string) ([]map[string]any, error)

	// Optimizer config overrides
	GetOptimizerConfig(ctx context.Context) (map[string]any, error)
	SaveOptimizerConfig(ctx context.Context, cfg map[string]any) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

const defaultLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultLimit
	}
	return limit
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
