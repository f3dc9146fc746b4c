package audit

import (
	"context"
	"fmt"
	"testing"
)

func TestRecordAndFilter(t *testing.T) {
	ctx := context.Background()
	log := NewLog(100, true)

	log.Record(ctx, EventSecretAdded, true, WithKey("API_KEY"))
	log.Record(ctx, EventAccessDenied, false, WithKey("API_KEY"), WithReason("approval required"))
	log.Record(ctx, EventAccessGranted, true, WithKey("API_KEY"))
	log.Record(ctx, EventSecretAdded, true, WithKey("DB_PASSWORD"))

	if log.Size() != 4 {
		t.Fatalf("expected 4 entries, got %d", log.Size())
	}

	t.Run("Filter by event type", func(t *testing.T) {
		entries := log.Entries(Filter{EventType: EventSecretAdded})
		if len(entries) != 2 {
			t.Fatalf("expected 2 secret_added entries, got %d", len(entries))
		}
		// 最新的在前
		if entries[0].Key != "DB_PASSWORD" {
			t.Errorf("expected newest entry first, got key %s", entries[0].Key)
		}
	})

	t.Run("Filter by key", func(t *testing.T) {
		entries := log.Entries(Filter{Key: "API_KEY"})
		if len(entries) != 3 {
			t.Fatalf("expected 3 API_KEY entries, got %d", len(entries))
		}
	})

	t.Run("Filter by success", func(t *testing.T) {
		failed := false
		entries := log.Entries(Filter{Success: &failed})
		if len(entries) != 1 {
			t.Fatalf("expected 1 failed entry, got %d", len(entries))
		}
		if entries[0].Reason != "approval required" {
			t.Errorf("unexpected reason: %s", entries[0].Reason)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		entries := log.Entries(Filter{Limit: 2})
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries with limit, got %d", len(entries))
		}
	})
}

func TestRingEviction(t *testing.T) {
	ctx := context.Background()
	log := NewLog(5, true)

	// 寫入超過上限的條目
	for i := 0; i < 8; i++ {
		log.Record(ctx, EventSecretAdded, true, WithKey(fmt.Sprintf("KEY_%d", i)))
	}

	if log.Size() != 5 {
		t.Fatalf("expected ring to hold 5 entries, got %d", log.Size())
	}

	// 最舊的 KEY_0..KEY_2 應已被淘汰
	entries := log.Entries(Filter{})
	if entries[len(entries)-1].Key != "KEY_3" {
		t.Errorf("expected oldest surviving entry KEY_3, got %s", entries[len(entries)-1].Key)
	}
	if entries[0].Key != "KEY_7" {
		t.Errorf("expected newest entry KEY_7, got %s", entries[0].Key)
	}
}

func TestDisabledLog(t *testing.T) {
	log := NewLog(10, false)
	log.Record(context.Background(), EventSecretAdded, true)

	if log.Size() != 0 {
		t.Errorf("disabled log should not record entries")
	}
}
