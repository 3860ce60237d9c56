package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/obs"
	"fieldroute/internal/store"
)

// Event types.
const (
	PlanCompleted = "plan.completed"
	PlanFailed    = "plan.failed"
)

// Target is a fixed receiver that gets every event, e.g. the service that
// mails route sheets to field staff.
type Target struct {
	URL    string
	Secret string
}

type Publisher struct {
	Store   store.Store
	Targets []Target
}

func NewPublisher(s store.Store, targets ...Target) *Publisher {
	return &Publisher{Store: s, Targets: targets}
}

// Emit queues an event for every matching subscription and every fixed
// target. Delivery happens on the Worker.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		log.Printf("req_id=%s op=webhooks.emit type=%s err=%v", obs.RequestID(ctx), eventType, err)
	}
	if len(subs) == 0 && len(p.Targets) == 0 {
		return
	}
	payload := map[string]any{
		"id":   "evt_" + uuid.NewString(),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("req_id=%s op=webhooks.emit type=%s err=%v", obs.RequestID(ctx), eventType, err)
		return
	}
	queued := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err == nil {
			queued++
		}
	}
	for _, t := range p.Targets {
		if _, err := p.Store.EnqueueWebhook(ctx, "", eventType, t.URL, t.Secret, body); err == nil {
			queued++
		}
	}
	log.Printf("req_id=%s op=webhooks.emit type=%s queued=%d", obs.RequestID(ctx), eventType, queued)
}
