// Package behavior folds storefront events into customer behavior profiles.
//
// The aggregator is pure: it performs no I/O and has no concurrency control of
// its own. Callers run it inside a load/aggregate/save cycle and must serialize
// that cycle per customer, otherwise concurrent writers lose updates.
package behavior

import (
	"sort"
	"strings"
	"time"

	"github.com/rpattn/persway/internal/domain"
)

const (
	// DefaultMaxRecentEvents bounds BehaviorProfile.RecentEvents.
	DefaultMaxRecentEvents = 50

	// DefaultMaxListEntries bounds the collection and search term lists.
	DefaultMaxListEntries = 100

	categoryAffinity = 1.0
	vendorAffinity   = 0.5
)

// Aggregator merges event batches into profiles.
type Aggregator struct {
	now            func() time.Time
	maxRecent      int
	maxListEntries int
}

type Option func(*Aggregator)

// WithClock overrides the wall clock used for last_updated and last_session.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithMaxListEntries(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxListEntries = n
		}
	}
}

// NewAggregator creates an aggregator with default bounds.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:            time.Now,
		maxRecent:      DefaultMaxRecentEvents,
		maxListEntries: DefaultMaxListEntries,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Now returns the aggregator's clock reading in UTC.
func (a *Aggregator) Now() time.Time {
	return a.now().UTC()
}

// Aggregate folds live events into the profile.
func (a *Aggregator) Aggregate(profile *domain.BehaviorProfile, events []domain.RawEvent) error {
	return a.merge(profile, events, false)
}

// Migrate folds anonymous pre-login events into the profile, tagging every
// appended recent event as migrated.
func (a *Aggregator) Migrate(profile *domain.BehaviorProfile, events []domain.RawEvent) error {
	return a.merge(profile, events, true)
}

// ValidateBatch rejects empty batches and events without a type or timestamp.
// Unknown event types are accepted.
func ValidateBatch(events []domain.RawEvent) error {
	if len(events) == 0 {
		return &domain.ValidationError{Index: -1, Message: "no events"}
	}
	for i, ev := range events {
		if strings.TrimSpace(string(ev.Type)) == "" {
			return &domain.ValidationError{Index: i, Field: "type", Message: "is required"}
		}
		if strings.TrimSpace(ev.Timestamp) == "" {
			return &domain.ValidationError{Index: i, Field: "timestamp", Message: "is required"}
		}
	}
	return nil
}

func (a *Aggregator) merge(profile *domain.BehaviorProfile, events []domain.RawEvent, tagMigrated bool) error {
	if err := ValidateBatch(events); err != nil {
		return err
	}
	profile.Normalize()
	stored := len(profile.RecentEvents)

	for _, ev := range events {
		a.summarize(profile, ev)

		profile.RecentEvents = append(profile.RecentEvents, domain.RecentEvent{
			Type:      ev.Type,
			Timestamp: ev.Timestamp,
			Migrated:  tagMigrated,
			Data:      ev.Data.Clone(),
		})

		if category, ok := ev.Data.Category(); ok {
			profile.AffinityScores[category] += categoryAffinity
		}
		if vendor, ok := ev.Data.Vendor(); ok {
			profile.AffinityScores[vendor] += vendorAffinity
		}
	}

	profile.RecentEvents = a.retainRecent(profile.RecentEvents, stored)

	now := a.Now()
	profile.SessionData.LastSession = &now
	profile.DataRetention.LastUpdated = now
	return nil
}

func (a *Aggregator) summarize(profile *domain.BehaviorProfile, ev domain.RawEvent) {
	summary := &profile.EventSummary

	switch ev.Type {
	case domain.EventCartViewed:
		cart := &summary.CartViewed
		cart.Count++
		touch(&cart.LastAt, ev.Timestamp)
		if value, ok := ev.Data.CartValue(); ok {
			cart.ValueCount++
			cart.AvgCartValue = (cart.AvgCartValue*float64(cart.ValueCount-1) + value) / float64(cart.ValueCount)
		}

	case domain.EventCheckoutStarted:
		summary.CheckoutStarted.Count++
		touch(&summary.CheckoutStarted.LastAt, ev.Timestamp)
		refreshConversionRate(summary)

	case domain.EventCheckoutCompleted:
		summary.CheckoutCompleted.Count++
		touch(&summary.CheckoutCompleted.LastAt, ev.Timestamp)
		if value, ok := ev.Data.OrderValue(); ok {
			summary.CheckoutCompleted.TotalValue += value
		}
		refreshConversionRate(summary)

	case domain.EventProductViewed:
		summary.ProductViewed.Count++
		touch(&summary.ProductViewed.LastAt, ev.Timestamp)
		if category, ok := ev.Data.Category(); ok {
			summary.ProductViewed.Categories[category]++
		}

	case domain.EventCollectionViewed:
		summary.CollectionViewed.Count++
		touch(&summary.CollectionViewed.LastAt, ev.Timestamp)
		if handle, ok := ev.Data.CollectionHandle(); ok {
			summary.CollectionViewed.Collections = a.appendUnique(summary.CollectionViewed.Collections, handle)
		}

	case domain.EventSearchSubmitted:
		summary.SearchSubmitted.Count++
		touch(&summary.SearchSubmitted.LastAt, ev.Timestamp)
		if term, ok := ev.Data.SearchTerm(); ok {
			summary.SearchSubmitted.Terms = a.appendUnique(summary.SearchSubmitted.Terms, term)
		}

	case domain.EventPageViewed:
		profile.SessionData.TotalSessions++
	}
}

// touch moves last to ts when ts sorts after it. Timestamps compare as strings.
func touch(last **string, ts string) {
	if *last == nil || ts > **last {
		v := ts
		*last = &v
	}
}

func refreshConversionRate(summary *domain.EventSummary) {
	started := summary.CheckoutStarted.Count
	if started == 0 {
		summary.CheckoutStarted.ConversionRate = 0
		return
	}
	summary.CheckoutStarted.ConversionRate = float64(summary.CheckoutCompleted.Count) / float64(started)
}

func (a *Aggregator) appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	list = append(list, value)
	if over := len(list) - a.maxListEntries; over > 0 {
		list = append([]string(nil), list[over:]...)
	}
	return list
}

// retainRecent orders events newest first and keeps the newest maxRecent.
// events[:stored] is the previously retained history, already newest first;
// the rest were appended in arrival order. Equal timestamps go to the most
// recently received event, so a new event is not evicted by an older one.
func (a *Aggregator) retainRecent(events []domain.RecentEvent, stored int) []domain.RecentEvent {
	rank := func(i int) int {
		if i < stored {
			return i
		}
		return stored - i - 1
	}
	idx := make([]int, len(events))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(x, y int) bool {
		ex, ey := events[idx[x]], events[idx[y]]
		if ex.Timestamp != ey.Timestamp {
			return ex.Timestamp > ey.Timestamp
		}
		return rank(idx[x]) < rank(idx[y])
	})

	n := len(idx)
	if n > a.maxRecent {
		n = a.maxRecent
	}
	out := make([]domain.RecentEvent, n)
	for i := range out {
		out[i] = events[idx[i]]
	}
	return out
}
