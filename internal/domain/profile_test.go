package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewBehaviorProfileDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewBehaviorProfile(now)

	if p.Version != ProfileVersion {
		t.Fatalf("expected version %s, got %s", ProfileVersion, p.Version)
	}
	if !p.DataRetention.CreatedAt.Equal(now) || !p.DataRetention.LastUpdated.Equal(now) {
		t.Fatalf("unexpected retention timestamps: %+v", p.DataRetention)
	}
	if want := now.AddDate(0, 0, 365); !p.DataRetention.ExpiresAt.Equal(want) {
		t.Fatalf("expected expires_at %s, got %s", want, p.DataRetention.ExpiresAt)
	}
	if p.AudienceAssignment.CurrentAudienceID != nil || p.AudienceAssignment.EvaluationCount != 0 {
		t.Fatalf("expected empty audience assignment, got %+v", p.AudienceAssignment)
	}
	if p.Expired(now) {
		t.Fatalf("fresh profile should not be expired")
	}
	if !p.Expired(now.Add(ProfileRetention)) {
		t.Fatalf("profile should be expired at expires_at")
	}
}

func TestNewBehaviorProfileSerializesEmptyCollections(t *testing.T) {
	p := NewBehaviorProfile(time.Now())
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["recent_events"].([]any); !ok {
		t.Fatalf("expected recent_events to be an array, got %#v", decoded["recent_events"])
	}
	summary := decoded["event_summary"].(map[string]any)
	cart := summary["cart_viewed"].(map[string]any)
	if cart["last_at"] != nil {
		t.Fatalf("expected null last_at, got %#v", cart["last_at"])
	}
}

func TestRecentEventFlattensPayload(t *testing.T) {
	ev := RecentEvent{
		Type:      EventProductViewed,
		Timestamp: "2025-01-01T00:00:00Z",
		Migrated:  true,
		Data:      EventData{"product_type": "Cats", "type": "spoofed"},
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if flat["type"] != "product_viewed" {
		t.Fatalf("payload must not overwrite type, got %#v", flat["type"])
	}
	if flat["product_type"] != "Cats" || flat["migrated"] != true {
		t.Fatalf("unexpected flat record: %#v", flat)
	}

	var back RecentEvent
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.Type != EventProductViewed || !back.Migrated || back.Data["product_type"] != "Cats" {
		t.Fatalf("unexpected decoded event: %+v", back)
	}
	if _, ok := back.Data["type"]; ok {
		t.Fatalf("reserved key leaked into data: %+v", back.Data)
	}
}

func TestRecentEventOmitsMigratedWhenFalse(t *testing.T) {
	raw, err := json.Marshal(RecentEvent{Type: EventPageViewed, Timestamp: "t"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var flat map[string]any
	_ = json.Unmarshal(raw, &flat)
	if _, ok := flat["migrated"]; ok {
		t.Fatalf("did not expect migrated marker: %s", raw)
	}
}
