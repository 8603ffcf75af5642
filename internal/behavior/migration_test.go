package behavior

import (
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/persway/internal/domain"
)

func TestMigrateTagsRecentEvents(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	if err := agg.Aggregate(p, []domain.RawEvent{event(domain.EventPageViewed, ts(1), nil)}); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	if err := agg.Migrate(p, []domain.RawEvent{
		event(domain.EventCartViewed, ts(2), domain.EventData{"cart_value": "25"}),
	}); err != nil {
		t.Fatalf("migrate returned error: %v", err)
	}

	if len(p.RecentEvents) != 2 {
		t.Fatalf("expected 2 recent events, got %d", len(p.RecentEvents))
	}
	migrated := 0
	for _, ev := range p.RecentEvents {
		if ev.Migrated {
			migrated++
			if ev.Type != domain.EventCartViewed {
				t.Fatalf("unexpected migrated event: %+v", ev)
			}
		}
	}
	if migrated != 1 {
		t.Fatalf("expected exactly one migrated event, got %d", migrated)
	}
	if p.EventSummary.CartViewed.Count != 1 || p.EventSummary.CartViewed.AvgCartValue != 25 {
		t.Fatalf("unexpected cart summary: %+v", p.EventSummary.CartViewed)
	}
}

func TestRecordMigrationCountsAndCaps(t *testing.T) {
	agg := newTestAggregator()

	rec := agg.RecordMigration(nil, domain.MigrationEntry{PerswayID: "anon_1", EventsCount: 1})
	if rec.MigrationStats.TotalMigrations != 1 || len(rec.Migrations) != 1 {
		t.Fatalf("unexpected record after first migration: %+v", rec)
	}
	if rec.MigrationStats.LastMigration == nil || !rec.MigrationStats.LastMigration.Equal(fixedNow) {
		t.Fatalf("unexpected last migration: %v", rec.MigrationStats.LastMigration)
	}
	if !rec.Migrations[0].MigratedAt.Equal(fixedNow) {
		t.Fatalf("expected migrated_at to default to clock, got %s", rec.Migrations[0].MigratedAt)
	}

	rec = agg.RecordMigration(rec, domain.MigrationEntry{PerswayID: "anon_2", EventsCount: 3})
	if rec.MigrationStats.TotalMigrations != 2 || len(rec.Migrations) != 2 {
		t.Fatalf("unexpected record after second migration: %+v", rec)
	}

	for i := 3; i <= 11; i++ {
		rec = agg.RecordMigration(rec, domain.MigrationEntry{PerswayID: fmt.Sprintf("anon_%d", i)})
	}
	if len(rec.Migrations) != MaxMigrationEntries {
		t.Fatalf("expected %d entries, got %d", MaxMigrationEntries, len(rec.Migrations))
	}
	if rec.Migrations[0].PerswayID != "anon_2" || rec.Migrations[9].PerswayID != "anon_11" {
		t.Fatalf("expected oldest entry evicted, got first=%s last=%s", rec.Migrations[0].PerswayID, rec.Migrations[9].PerswayID)
	}
	if rec.MigrationStats.TotalMigrations != 11 {
		t.Fatalf("expected 11 total migrations, got %d", rec.MigrationStats.TotalMigrations)
	}
}

func TestRecordMigrationKeepsExplicitTimestamp(t *testing.T) {
	agg := newTestAggregator()
	at := fixedNow.Add(-time.Minute)
	rec := agg.RecordMigration(domain.NewMigrationRecord(), domain.MigrationEntry{PerswayID: "anon", MigratedAt: at})
	if !rec.Migrations[0].MigratedAt.Equal(at) {
		t.Fatalf("expected explicit migrated_at to be kept, got %s", rec.Migrations[0].MigratedAt)
	}
}
