package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	locs     map[string]model.Location // id -> location
	locOrder []string
	plans    map[string]model.Plan
	planIDs  []string
	planMx   map[string][]map[string]any // plan id -> per-strategy metrics
	optCfg   map[string]any
	subs     []model.Subscription
	// Webhooks queue state
	deliveries map[string]*memDelivery
	delOrder   []string
	dlq        []map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		locs:       map[string]model.Location{},
		plans:      map[string]model.Plan{},
		planMx:     map[string][]map[string]any{},
		deliveries: map[string]*memDelivery{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) Ping(context.Context) error { return nil }

// AddLocations skips entries without coordinates and entries whose case
// reference is already stored.
func (m *Memory) AddLocations(ctx context.Context, source string, locs []model.LocationIn) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, l := range m.locs {
		if l.CaseRef != "" {
			seen[l.CaseRef] = true
		}
	}
	created, skipped := 0, 0
	for _, in := range locs {
		if in.Location == nil || (in.CaseRef != "" && seen[in.CaseRef]) {
			skipped++
			continue
		}
		id := uuid.New().String()
		m.locs[id] = model.Location{
			ID:          id,
			CaseRef:     in.CaseRef,
			Address:     in.Address,
			Description: in.Description,
			Lat:         in.Location.Lat,
			Lng:         in.Location.Lng,
			Source:      source,
			CreatedAt:   time.Now().UTC(),
		}
		m.locOrder = append(m.locOrder, id)
		if in.CaseRef != "" {
			seen[in.CaseRef] = true
		}
		created++
	}
	return created, skipped, nil
}

func (m *Memory) ListLocations(ctx context.Context, cursor string, limit int) ([]model.Location, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, id := range m.locOrder {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Location{}
	var next string
	for i := start; i < len(m.locOrder) && len(out) < limit; i++ {
		out = append(out, m.locs[m.locOrder[i]])
		next = m.locOrder[i]
	}
	if start+len(out) >= len(m.locOrder) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) DeleteLocation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locs[id]; !ok {
		return ErrNotFound
	}
	delete(m.locs, id)
	m.locOrder = removeID(m.locOrder, id)
	return nil
}

func (m *Memory) SavePlan(ctx context.Context, p model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; !ok {
		m.planIDs = append(m.planIDs, p.ID)
	}
	m.plans[p.ID] = p
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return model.Plan{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPlans(ctx context.Context, planDate, cursor string, limit int) ([]model.PlanSummary, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, id := range m.planIDs {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.PlanSummary{}
	var next string
	i := start
	for ; i < len(m.planIDs) && len(out) < limit; i++ {
		p := m.plans[m.planIDs[i]]
		if planDate == "" || p.PlanDate == planDate {
			out = append(out, p.Summary())
		}
		next = p.ID
	}
	if i >= len(m.planIDs) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, planID, strategy string, metrics map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := make(map[string]any, len(metrics)+1)
	for k, v := range metrics {
		item[k] = v
	}
	item["strategy"] = strategy
	items := m.planMx[planID]
	for i := range items {
		if items[i]["strategy"] == strategy {
			items[i] = item
			return nil
		}
	}
	m.planMx[planID] = append(items, item)
	return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, planID, strategy string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, it := range m.planMx[planID] {
		if strategy == "" || it["strategy"] == strategy {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.optCfg, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, cfg map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optCfg = cfg
	return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, s := range m.subs {
			if s.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Subscription{}
	next := ""
	for i := start; i < len(m.subs) && len(out) < limit; i++ {
		out = append(out, m.subs[i])
		next = m.subs[i].ID
	}
	if start+len(out) >= len(m.subs) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.ID == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending},
		NextAttemptAt:   time.Now(),
	}
	m.delOrder = append(m.delOrder, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.delOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.dlq = append(m.dlq, map[string]any{"id": id, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []map[string]any{}
	past := cursor == ""
	next := ""
	for _, id := range m.delOrder {
		if !past {
			past = id == cursor
			continue
		}
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		if len(out) == limit {
			break
		}
		item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
		if !d.NextAttemptAt.IsZero() {
			item["nextAttemptAt"] = d.NextAttemptAt
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		if d.ResponseCode != 0 {
			item["responseCode"] = d.ResponseCode
		}
		out = append(out, item)
		next = id
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = time.Now()
	return nil
}

// DeadLetters returns the deliveries that exhausted their attempts.
func (m *Memory) DeadLetters() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.dlq...)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
