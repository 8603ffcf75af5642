package domain

import (
	"strings"
	"testing"
	"time"
)

func TestCreateAudienceInputValidate(t *testing.T) {
	zero := 0
	in := CreateAudienceInput{
		Name:           " ",
		CountThreshold: &zero,
		TimeframeDays:  &zero,
		RuleType:       "xor",
	}

	errs := in.Validate()
	for _, field := range []string{"name", "event_type", "value", "count_threshold", "timeframe_days", "rule_type"} {
		if _, ok := errs[field]; !ok {
			t.Fatalf("expected error for %s, got %+v", field, errs)
		}
	}
}

func TestNewAudienceAppliesDefaults(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	in := CreateAudienceInput{
		Name:      "  Cat people ",
		EventType: "product_viewed",
		Value:     "cats",
	}
	if errs := in.Validate(); len(errs) != 0 {
		t.Fatalf("expected valid input, got %+v", errs)
	}

	a := NewAudience(in, now)
	if !strings.HasPrefix(a.ID, "audience_") {
		t.Fatalf("unexpected id %q", a.ID)
	}
	if a.Name != "Cat people" || a.Priority != 1 || a.Status != AudienceActive {
		t.Fatalf("unexpected audience: %+v", a)
	}
	if a.Rules.Type != RuleAnd || len(a.Rules.Conditions) != 1 {
		t.Fatalf("unexpected rules: %+v", a.Rules)
	}
	c := a.Rules.Conditions[0]
	if c.Operator != "contains" || c.CountThreshold != 1 || c.TimeframeDays != 30 || c.Filter != nil {
		t.Fatalf("unexpected condition defaults: %+v", c)
	}
}

func TestShopAudiencesRefreshStatistics(t *testing.T) {
	doc := NewShopAudiences()
	doc.Audiences = append(doc.Audiences,
		Audience{ID: "a", Status: AudienceActive},
		Audience{ID: "b", Status: AudienceInactive},
	)
	doc.RefreshStatistics()
	if doc.Statistics.TotalAudiences != 2 || doc.Statistics.ActiveAudiences != 1 {
		t.Fatalf("unexpected statistics: %+v", doc.Statistics)
	}
}
