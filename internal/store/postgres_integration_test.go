//go:build postgres_integration

package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/model"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	ctx := t.Context()
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate twice: %v", err)
	}

	ref := "it-" + uuid.NewString()
	in := []model.LocationIn{{CaseRef: ref, Location: &model.GeoPoint{Lat: 56.15, Lng: 10.2}}}
	if c, s, err := p.AddLocations(ctx, "test", in); err != nil || c != 1 || s != 0 {
		t.Fatalf("AddLocations: created=%d skipped=%d err=%v", c, s, err)
	}
	if c, s, err := p.AddLocations(ctx, "test", in); err != nil || c != 0 || s != 1 {
		t.Fatalf("AddLocations dedup: created=%d skipped=%d err=%v", c, s, err)
	}

	pl := model.Plan{ID: uuid.NewString(), PlanDate: "2025-01-02", Status: model.PlanCompleted, CreatedAt: time.Now().UTC(), Objective: 42}
	if err := p.SavePlan(ctx, pl); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	got, err := p.GetPlan(ctx, pl.ID)
	if err != nil || got.Objective != 42 {
		t.Fatalf("GetPlan: %+v %v", got, err)
	}
	if err := p.SavePlanMetrics(ctx, pl.ID, "gls", map[string]any{"iterations": 3}); err != nil {
		t.Fatalf("SavePlanMetrics: %v", err)
	}
	mx, err := p.ListPlanMetrics(ctx, pl.ID, "")
	if err != nil || len(mx) != 1 || mx[0]["strategy"] != "gls" {
		t.Fatalf("ListPlanMetrics: %+v %v", mx, err)
	}
	if _, err := p.GetPlan(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
