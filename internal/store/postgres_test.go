package store

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"plan.completed"}`)
	if got := computeDedupKey(body); got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	got := computeDedupKey([]byte(`{"notId":"x"}`))
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
	if computeDedupKey([]byte(`{"notId":"x"}`)) != got {
		t.Fatalf("hash key not stable")
	}
}

func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Fatalf("empty -> nil expected")
	}
	if nullIfEmpty("a") != "a" {
		t.Fatalf("non-empty passthrough expected")
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"locations", "plans", "plan_metrics", "optimizer_config", "subscriptions", "webhook_deliveries", "webhook_dlq"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("schema missing table %s", table)
		}
	}
}
