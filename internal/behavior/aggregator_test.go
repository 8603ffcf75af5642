package behavior

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/persway/internal/domain"
)

var fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestAggregator() *Aggregator {
	return NewAggregator(WithClock(func() time.Time { return fixedNow }))
}

func event(typ domain.EventType, ts string, data domain.EventData) domain.RawEvent {
	return domain.RawEvent{ID: "evt_" + ts, Type: typ, Timestamp: ts, Data: data}
}

func ts(i int) string {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
}

func TestAggregateNewProfileProductViewed(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow.Add(-time.Hour))

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventProductViewed, ts(1), domain.EventData{"product_type": "cats"}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	pv := p.EventSummary.ProductViewed
	if pv.Count != 1 {
		t.Fatalf("expected product_viewed count 1, got %d", pv.Count)
	}
	if len(pv.Categories) != 1 || pv.Categories["cats"] != 1 {
		t.Fatalf("unexpected categories: %+v", pv.Categories)
	}
	if len(p.AffinityScores) != 1 || p.AffinityScores["cats"] != 1 {
		t.Fatalf("unexpected affinity scores: %+v", p.AffinityScores)
	}
	if len(p.RecentEvents) != 1 || p.RecentEvents[0].Migrated {
		t.Fatalf("expected one untagged recent event, got %+v", p.RecentEvents)
	}
	if pv.LastAt == nil || *pv.LastAt != ts(1) {
		t.Fatalf("unexpected last_at: %v", pv.LastAt)
	}
}

func TestAggregateRunningMeanCartValue(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventCartViewed, ts(1), domain.EventData{"cart_value": float64(10)}),
		event(domain.EventCartViewed, ts(2), domain.EventData{"cart_value": "20"}),
		event(domain.EventCartViewed, ts(3), domain.EventData{"cart_value": float64(30)}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	cart := p.EventSummary.CartViewed
	if cart.Count != 3 {
		t.Fatalf("expected count 3, got %d", cart.Count)
	}
	if cart.AvgCartValue != 20 {
		t.Fatalf("expected avg 20, got %v", cart.AvgCartValue)
	}
}

func TestAggregateCartMeanIgnoresEventsWithoutValue(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventCartViewed, ts(1), domain.EventData{"cart_value": float64(10)}),
		event(domain.EventCartViewed, ts(2), domain.EventData{}),
		event(domain.EventCartViewed, ts(3), domain.EventData{"cart_value": "oops"}),
		event(domain.EventCartViewed, ts(4), domain.EventData{"cart_value": float64(30)}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	cart := p.EventSummary.CartViewed
	if cart.Count != 4 || cart.ValueCount != 2 {
		t.Fatalf("unexpected counts: %+v", cart)
	}
	if cart.AvgCartValue != 20 {
		t.Fatalf("expected mean over valued events of 20, got %v", cart.AvgCartValue)
	}
}

func TestAggregateCartMeanAcrossBatches(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	values := []float64{12.5, 7.25, 100, 0.1, 33}
	sum := 0.0
	for i, v := range values {
		sum += v
		if err := agg.Aggregate(p, []domain.RawEvent{
			event(domain.EventCartViewed, ts(i), domain.EventData{"cart_value": v}),
		}); err != nil {
			t.Fatalf("aggregate %d returned error: %v", i, err)
		}
	}

	want := sum / float64(len(values))
	if diff := p.EventSummary.CartViewed.AvgCartValue - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected mean %v, got %v", want, p.EventSummary.CartViewed.AvgCartValue)
	}
}

func TestAggregateConversionRate(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	// completed before any start must not divide by zero
	if err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventCheckoutCompleted, ts(1), domain.EventData{"order_value": "15.5"}),
	}); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	if p.EventSummary.CheckoutStarted.ConversionRate != 0 {
		t.Fatalf("expected 0 conversion with no starts, got %v", p.EventSummary.CheckoutStarted.ConversionRate)
	}

	if err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventCheckoutStarted, ts(2), nil),
		event(domain.EventCheckoutStarted, ts(3), nil),
		event(domain.EventCheckoutStarted, ts(4), nil),
		event(domain.EventCheckoutStarted, ts(5), nil),
		event(domain.EventCheckoutCompleted, ts(6), domain.EventData{"order_value": float64(4.5)}),
	}); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	summary := p.EventSummary
	want := float64(summary.CheckoutCompleted.Count) / float64(summary.CheckoutStarted.Count)
	if summary.CheckoutStarted.ConversionRate != want {
		t.Fatalf("expected conversion rate %v, got %v", want, summary.CheckoutStarted.ConversionRate)
	}
	if want != 0.5 {
		t.Fatalf("expected 2/4, got %v", want)
	}
	if summary.CheckoutCompleted.TotalValue != 20 {
		t.Fatalf("expected total value 20, got %v", summary.CheckoutCompleted.TotalValue)
	}
}

func TestAggregateDedupsCategoricalLists(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventCollectionViewed, ts(1), domain.EventData{"collection_handle": "summer"}),
		event(domain.EventCollectionViewed, ts(2), domain.EventData{"collection_handle": "summer"}),
		event(domain.EventSearchSubmitted, ts(3), domain.EventData{"search_term": "cat toy"}),
		event(domain.EventSearchSubmitted, ts(4), domain.EventData{"search_term": "cat toy"}),
		event(domain.EventSearchSubmitted, ts(5), domain.EventData{"search_term": "leash"}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	if got := p.EventSummary.CollectionViewed; got.Count != 2 || len(got.Collections) != 1 {
		t.Fatalf("unexpected collection summary: %+v", got)
	}
	if got := p.EventSummary.SearchSubmitted; got.Count != 3 || len(got.Terms) != 2 {
		t.Fatalf("unexpected search summary: %+v", got)
	}
}

func TestAggregateBoundsCategoricalLists(t *testing.T) {
	agg := NewAggregator(WithClock(func() time.Time { return fixedNow }), WithMaxListEntries(3))
	p := domain.NewBehaviorProfile(fixedNow)

	var events []domain.RawEvent
	for i := 0; i < 5; i++ {
		events = append(events, event(domain.EventCollectionViewed, ts(i), domain.EventData{"collection_handle": fmt.Sprintf("c%d", i)}))
	}
	if err := agg.Aggregate(p, events); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	got := p.EventSummary.CollectionViewed.Collections
	if len(got) != 3 || got[0] != "c2" || got[2] != "c4" {
		t.Fatalf("expected oldest handles evicted, got %v", got)
	}
}

func TestAggregateAffinityScores(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventProductViewed, ts(1), domain.EventData{"product_type": "Cats", "vendor": "Whiskers"}),
		event(domain.EventProductAddedToCart, ts(2), domain.EventData{"product_type": "CATS", "vendor": "whiskers"}),
		event(domain.EventProductViewed, ts(3), domain.EventData{"vendor": "Cats"}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	if p.AffinityScores["cats"] != 2.5 {
		t.Fatalf("expected cats affinity 2.5, got %v", p.AffinityScores["cats"])
	}
	if p.AffinityScores["whiskers"] != 1 {
		t.Fatalf("expected whiskers affinity 1, got %v", p.AffinityScores["whiskers"])
	}
	if p.EventSummary.ProductViewed.Categories["cats"] != 1 {
		t.Fatalf("added_to_cart must not touch product categories: %+v", p.EventSummary.ProductViewed.Categories)
	}
}

func TestAggregateUnknownAndUnsummarizedTypes(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	err := agg.Aggregate(p, []domain.RawEvent{
		event("wishlist_added", ts(1), domain.EventData{"product_id": "p1"}),
		event(domain.EventProductRemovedFromCart, ts(2), nil),
		event(domain.EventPageViewed, ts(3), domain.EventData{"url": "/"}),
		event(domain.EventPageViewed, ts(4), domain.EventData{"url": "/cart"}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	if len(p.RecentEvents) != 4 {
		t.Fatalf("expected all events in recent history, got %d", len(p.RecentEvents))
	}
	if p.SessionData.TotalSessions != 2 {
		t.Fatalf("expected 2 sessions from page views, got %d", p.SessionData.TotalSessions)
	}
	s := p.EventSummary
	if s.CartViewed.Count+s.CheckoutStarted.Count+s.CheckoutCompleted.Count+s.ProductViewed.Count+s.CollectionViewed.Count+s.SearchSubmitted.Count != 0 {
		t.Fatalf("expected no summary updates, got %+v", s)
	}
}

func TestAggregateBoundedHistoryAcrossBatches(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	// 120 events delivered out of order across several batches
	order := make([]int, 0, 120)
	for i := 0; i < 120; i++ {
		order = append(order, (i*37)%120)
	}
	for start := 0; start < len(order); start += 25 {
		end := start + 25
		if end > len(order) {
			end = len(order)
		}
		var batch []domain.RawEvent
		for _, i := range order[start:end] {
			batch = append(batch, event(domain.EventPageViewed, ts(i), nil))
		}
		if err := agg.Aggregate(p, batch); err != nil {
			t.Fatalf("aggregate returned error: %v", err)
		}
		if len(p.RecentEvents) > DefaultMaxRecentEvents {
			t.Fatalf("recent events exceeded bound: %d", len(p.RecentEvents))
		}
	}

	if len(p.RecentEvents) != DefaultMaxRecentEvents {
		t.Fatalf("expected %d recent events, got %d", DefaultMaxRecentEvents, len(p.RecentEvents))
	}
	for idx, ev := range p.RecentEvents {
		if want := ts(119 - idx); ev.Timestamp != want {
			t.Fatalf("position %d: expected %s, got %s", idx, want, ev.Timestamp)
		}
	}
}

func TestAggregateCountsNeverDecrease(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)
	kinds := []domain.EventType{
		domain.EventCartViewed, domain.EventCheckoutStarted, domain.EventCheckoutCompleted,
		domain.EventProductViewed, domain.EventCollectionViewed, domain.EventSearchSubmitted,
	}

	counts := func() []int {
		s := p.EventSummary
		return []int{s.CartViewed.Count, s.CheckoutStarted.Count, s.CheckoutCompleted.Count,
			s.ProductViewed.Count, s.CollectionViewed.Count, s.SearchSubmitted.Count}
	}

	prev := counts()
	for round := 0; round < 10; round++ {
		var batch []domain.RawEvent
		for i, kind := range kinds {
			if (round+i)%3 == 0 {
				batch = append(batch, event(kind, ts(round*10+i), nil))
			}
		}
		if len(batch) == 0 {
			continue
		}
		if err := agg.Aggregate(p, batch); err != nil {
			t.Fatalf("aggregate returned error: %v", err)
		}
		cur := counts()
		for i := range cur {
			if cur[i] < prev[i] {
				t.Fatalf("count for %s decreased from %d to %d", kinds[i], prev[i], cur[i])
			}
		}
		prev = cur
	}
}

func TestAggregateLastAtKeepsNewest(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventSearchSubmitted, ts(5), nil),
		event(domain.EventSearchSubmitted, ts(2), nil),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	if got := p.EventSummary.SearchSubmitted.LastAt; got == nil || *got != ts(5) {
		t.Fatalf("expected last_at to stay at newest timestamp, got %v", got)
	}
}

func TestAggregateStampsWallClock(t *testing.T) {
	agg := newTestAggregator()
	created := fixedNow.Add(-48 * time.Hour)
	p := domain.NewBehaviorProfile(created)
	expires := p.DataRetention.ExpiresAt

	if err := agg.Aggregate(p, []domain.RawEvent{event(domain.EventPageViewed, "2020-01-01T00:00:00Z", nil)}); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	if !p.DataRetention.LastUpdated.Equal(fixedNow) {
		t.Fatalf("expected last_updated %s, got %s", fixedNow, p.DataRetention.LastUpdated)
	}
	if p.SessionData.LastSession == nil || !p.SessionData.LastSession.Equal(fixedNow) {
		t.Fatalf("expected last_session %s, got %v", fixedNow, p.SessionData.LastSession)
	}
	if !p.DataRetention.ExpiresAt.Equal(expires) || !p.DataRetention.CreatedAt.Equal(created.UTC()) {
		t.Fatalf("retention window must not move: %+v", p.DataRetention)
	}
}

func TestAggregateLeavesAudienceAssignmentAlone(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)
	id := "audience_1"
	prio := 3
	p.AudienceAssignment = domain.AudienceAssignment{CurrentAudienceID: &id, Priority: &prio, EvaluationCount: 7}

	if err := agg.Aggregate(p, []domain.RawEvent{event(domain.EventCartViewed, ts(1), nil)}); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	if p.AudienceAssignment.CurrentAudienceID != &id || p.AudienceAssignment.EvaluationCount != 7 {
		t.Fatalf("audience assignment changed: %+v", p.AudienceAssignment)
	}
}

func TestAggregateRejectsInvalidBatchWithoutMutation(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow.Add(-time.Hour))
	before := p.DataRetention.LastUpdated

	if err := agg.Aggregate(p, nil); !errors.Is(err, domain.ErrInvalidBatch) {
		t.Fatalf("expected invalid batch error, got %v", err)
	}

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventCartViewed, ts(1), nil),
		{ID: "bad", Type: domain.EventCartViewed},
	})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || vErr.Index != 1 || vErr.Field != "timestamp" {
		t.Fatalf("expected timestamp validation error on event 1, got %v", err)
	}
	if p.EventSummary.CartViewed.Count != 0 || len(p.RecentEvents) != 0 || !p.DataRetention.LastUpdated.Equal(before) {
		t.Fatalf("profile mutated by rejected batch: %+v", p)
	}
}

func TestAggregateRecentEventsDoNotAliasPayload(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)
	data := domain.EventData{"url": "/a"}

	if err := agg.Aggregate(p, []domain.RawEvent{event(domain.EventPageViewed, ts(1), data)}); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	data["url"] = "/mutated"
	if p.RecentEvents[0].Data["url"] != "/a" {
		t.Fatalf("recent event aliased caller payload: %+v", p.RecentEvents[0].Data)
	}
}

func TestAggregateNormalizesDecodedProfile(t *testing.T) {
	agg := newTestAggregator()
	p := &domain.BehaviorProfile{}

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventProductViewed, ts(1), domain.EventData{"product_type": "dogs"}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	if p.EventSummary.ProductViewed.Categories["dogs"] != 1 || p.Version != domain.ProfileVersion {
		t.Fatalf("unexpected profile after normalize: %+v", p)
	}
}

func TestAggregateSkipsNonFiniteValues(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventProductViewed, ts(1), domain.EventData{"product_type": "cats"}),
		event(domain.EventCartViewed, ts(2), domain.EventData{"cart_value": "NaN"}),
		event(domain.EventCartViewed, ts(3), domain.EventData{"cart_value": "+Inf"}),
		event(domain.EventCheckoutCompleted, ts(4), domain.EventData{"order_value": "Inf"}),
		event(domain.EventCheckoutCompleted, ts(5), domain.EventData{"order_value": "-Infinity"}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	cart := p.EventSummary.CartViewed
	if cart.Count != 2 || cart.ValueCount != 0 || cart.AvgCartValue != 0 {
		t.Fatalf("expected non-finite cart values to be skipped, got %+v", cart)
	}
	done := p.EventSummary.CheckoutCompleted
	if done.Count != 2 || done.TotalValue != 0 {
		t.Fatalf("expected non-finite order values to be skipped, got %+v", done)
	}
	if _, err := json.Marshal(p); err != nil {
		t.Fatalf("profile no longer encodes: %v", err)
	}
}

func TestAggregateComparesTimestampsLexically(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)

	// 10:00+05:00 is 05:00Z, an hour before 06:00Z, but sorts after it as text
	offset := "2025-01-01T10:00:00+05:00"
	utc := "2025-01-01T06:00:00Z"

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventSearchSubmitted, utc, nil),
		event(domain.EventSearchSubmitted, offset, nil),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}

	if got := p.EventSummary.SearchSubmitted.LastAt; got == nil || *got != offset {
		t.Fatalf("expected last_at %s, got %v", offset, got)
	}
	if len(p.RecentEvents) != 2 || p.RecentEvents[0].Timestamp != offset || p.RecentEvents[1].Timestamp != utc {
		t.Fatalf("expected lexical newest-first order, got %+v", p.RecentEvents)
	}

	// a later batch carrying the earlier text does not move last_at back
	if err := agg.Aggregate(p, []domain.RawEvent{event(domain.EventSearchSubmitted, utc, nil)}); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	if got := p.EventSummary.SearchSubmitted.LastAt; *got != offset {
		t.Fatalf("expected last_at to stay %s, got %s", offset, *got)
	}
}

func TestAggregateEqualTimestampsPreferLatestArrival(t *testing.T) {
	agg := newTestAggregator()
	p := domain.NewBehaviorProfile(fixedNow)
	same := ts(1)

	var batch []domain.RawEvent
	for i := 0; i < DefaultMaxRecentEvents; i++ {
		batch = append(batch, event(domain.EventPageViewed, same, domain.EventData{"seq": fmt.Sprint(i)}))
	}
	if err := agg.Aggregate(p, batch); err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	if got := p.RecentEvents[0].Data["seq"]; got != fmt.Sprint(DefaultMaxRecentEvents-1) {
		t.Fatalf("expected last arrival first, got seq %v", got)
	}

	err := agg.Aggregate(p, []domain.RawEvent{
		event(domain.EventPageViewed, same, domain.EventData{"seq": "new"}),
	})
	if err != nil {
		t.Fatalf("aggregate returned error: %v", err)
	}
	if len(p.RecentEvents) != DefaultMaxRecentEvents {
		t.Fatalf("expected %d recent events, got %d", DefaultMaxRecentEvents, len(p.RecentEvents))
	}
	if got := p.RecentEvents[0].Data["seq"]; got != "new" {
		t.Fatalf("expected new event to be retained first, got seq %v", got)
	}
	if got := p.RecentEvents[1].Data["seq"]; got != fmt.Sprint(DefaultMaxRecentEvents-1) {
		t.Fatalf("expected stored order to hold, got seq %v", got)
	}
	if got := p.RecentEvents[len(p.RecentEvents)-1].Data["seq"]; got != "1" {
		t.Fatalf("expected earliest arrival to be evicted, got seq %v at the tail", got)
	}
}
