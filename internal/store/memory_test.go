package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldroute/internal/model"
)

func pt(lat, lng float64) *model.GeoPoint { return &model.GeoPoint{Lat: lat, Lng: lng} }

func TestMemoryLocationsDedupAndPaging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	created, skipped, err := m.AddLocations(ctx, "csv", []model.LocationIn{
		{CaseRef: "A", Location: pt(56.1, 10.1)},
		{CaseRef: "B", Location: pt(56.2, 10.2)},
		{CaseRef: "A", Location: pt(56.3, 10.3)},
		{CaseRef: "C"},
		{Location: pt(56.4, 10.4)},
	})
	if err != nil || created != 3 || skipped != 2 {
		t.Fatalf("created=%d skipped=%d err=%v", created, skipped, err)
	}
	page, next, _ := m.ListLocations(ctx, "", 2)
	if len(page) != 2 || next == "" || page[0].CaseRef != "A" || page[0].Source != "csv" {
		t.Fatalf("first page: %+v next=%q", page, next)
	}
	rest, next2, _ := m.ListLocations(ctx, next, 2)
	if len(rest) != 1 || next2 != "" {
		t.Fatalf("second page: %+v next=%q", rest, next2)
	}
	if err := m.DeleteLocation(ctx, page[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteLocation(ctx, page[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	all, _, _ := m.ListLocations(ctx, "", 0)
	if len(all) != 2 {
		t.Fatalf("want 2 after delete, got %d", len(all))
	}
}

func TestMemoryPlans(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.GetPlan(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	p1 := model.Plan{ID: "p1", PlanDate: "2025-01-01", Status: model.PlanCompleted, Routes: []model.PlanRoute{{Vehicle: "bike_1", StopCount: 3}}}
	p2 := model.Plan{ID: "p2", PlanDate: "2025-01-02", Status: model.PlanCompleted, Dropped: []model.DroppedStop{{ID: "x"}}}
	_ = m.SavePlan(ctx, p1)
	_ = m.SavePlan(ctx, p2)
	p1.Objective = 7
	_ = m.SavePlan(ctx, p1)

	all, _, _ := m.ListPlans(ctx, "", "", 10)
	if len(all) != 2 || all[0].ID != "p1" || all[0].Served != 3 || all[0].Objective != 7 {
		t.Fatalf("list: %+v", all)
	}
	day, _, _ := m.ListPlans(ctx, "2025-01-02", "", 10)
	if len(day) != 1 || day[0].Dropped != 1 {
		t.Fatalf("filtered list: %+v", day)
	}
}

func TestMemoryPlanMetricsUpsertPerStrategy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.SavePlanMetrics(ctx, "p1", "gls", map[string]any{"iterations": 1})
	_ = m.SavePlanMetrics(ctx, "p1", "descent", map[string]any{"iterations": 2})
	_ = m.SavePlanMetrics(ctx, "p1", "gls", map[string]any{"iterations": 5})
	items, _ := m.ListPlanMetrics(ctx, "p1", "")
	if len(items) != 2 {
		t.Fatalf("want 2 strategies, got %d", len(items))
	}
	gls, _ := m.ListPlanMetrics(ctx, "p1", "gls")
	if len(gls) != 1 || gls[0]["iterations"] != 5 {
		t.Fatalf("gls metrics: %+v", gls)
	}
}

func TestMemoryWebhookQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, _ := m.EnqueueWebhook(ctx, "", "plan.completed", "http://x", "s", []byte(`{}`))
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due: %+v", due)
	}
	later := time.Now().Add(time.Hour)
	_ = m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3)
	if due, _ := m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("backed-off delivery should not be due")
	}
	_ = m.RetryWebhookDelivery(ctx, id)
	if due, _ := m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 1 || due[0].Attempts != 1 {
		t.Fatalf("retried delivery should be due: %+v", due)
	}
	_ = m.FailWebhookDelivery(ctx, id, "boom", 500, 3)
	items, _, _ := m.ListWebhookDeliveries(ctx, DeliveryFailed, "", 10)
	if len(items) != 1 || items[0]["attempts"] != 2 {
		t.Fatalf("failed list: %+v", items)
	}
	if len(m.DeadLetters()) != 1 {
		t.Fatalf("want 1 dead letter")
	}
}

func TestMemorySubscriptions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{"plan.completed"}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{"plan.failed"}})
	got, _ := m.GetSubscriptionsForEvent(ctx, "plan.completed")
	if len(got) != 1 || got[0].ID != s.ID {
		t.Fatalf("for event: %+v", got)
	}
	if err := m.DeleteSubscription(ctx, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteSubscription(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
