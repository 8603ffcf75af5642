package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// ProfileVersion is the schema version stamped on new behavior profiles.
	ProfileVersion = "1.0"

	// ProfileRetention is how long a profile is kept after creation.
	ProfileRetention = 365 * 24 * time.Hour
)

// BehaviorProfile is the persisted behavior record for one customer.
type BehaviorProfile struct {
	Version            string             `json:"version"`
	AudienceAssignment AudienceAssignment `json:"audience_assignment"`
	EventSummary       EventSummary       `json:"event_summary"`
	AffinityScores     map[string]float64 `json:"affinity_scores"`
	RecentEvents       []RecentEvent      `json:"recent_events"`
	SessionData        SessionData        `json:"session_data"`
	DataRetention      DataRetention      `json:"data_retention"`
}

// AudienceAssignment is written only by audience evaluation.
type AudienceAssignment struct {
	CurrentAudienceID *string    `json:"current_audience_id"`
	AssignedAt        *time.Time `json:"assigned_at"`
	Priority          *int       `json:"priority"`
	EvaluationCount   int        `json:"evaluation_count"`
}

// EventSummary holds one rolling statistic record per summarized event kind.
type EventSummary struct {
	CartViewed        CartViewedSummary        `json:"cart_viewed"`
	CheckoutStarted   CheckoutStartedSummary   `json:"checkout_started"`
	CheckoutCompleted CheckoutCompletedSummary `json:"checkout_completed"`
	ProductViewed     ProductViewedSummary     `json:"product_viewed"`
	CollectionViewed  CollectionViewedSummary  `json:"collection_viewed"`
	SearchSubmitted   SearchSubmittedSummary   `json:"search_submitted"`
}

type CartViewedSummary struct {
	Count  int     `json:"count"`
	LastAt *string `json:"last_at"`
	// ValueCount counts the cart views that carried a cart value; it is the
	// denominator of AvgCartValue.
	ValueCount   int     `json:"value_count"`
	AvgCartValue float64 `json:"avg_cart_value"`
}

type CheckoutStartedSummary struct {
	Count          int     `json:"count"`
	LastAt         *string `json:"last_at"`
	ConversionRate float64 `json:"conversion_rate"`
}

type CheckoutCompletedSummary struct {
	Count      int     `json:"count"`
	LastAt     *string `json:"last_at"`
	TotalValue float64 `json:"total_value"`
}

type ProductViewedSummary struct {
	Count      int            `json:"count"`
	Categories map[string]int `json:"categories"`
	LastAt     *string        `json:"last_at"`
}

type CollectionViewedSummary struct {
	Count       int      `json:"count"`
	Collections []string `json:"collections"`
	LastAt      *string  `json:"last_at"`
}

type SearchSubmittedSummary struct {
	Count  int      `json:"count"`
	Terms  []string `json:"terms"`
	LastAt *string  `json:"last_at"`
}

// SessionData aggregates session level counters.
type SessionData struct {
	TotalSessions      int        `json:"total_sessions"`
	AvgSessionDuration float64    `json:"avg_session_duration"`
	LastSession        *time.Time `json:"last_session"`
	DeviceTypes        []string   `json:"device_types"`
}

// DataRetention tracks profile lifetime. ExpiresAt is fixed at creation.
type DataRetention struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewBehaviorProfile returns a zeroed profile created at now.
func NewBehaviorProfile(now time.Time) *BehaviorProfile {
	now = now.UTC()
	return &BehaviorProfile{
		Version: ProfileVersion,
		EventSummary: EventSummary{
			ProductViewed:    ProductViewedSummary{Categories: map[string]int{}},
			CollectionViewed: CollectionViewedSummary{Collections: []string{}},
			SearchSubmitted:  SearchSubmittedSummary{Terms: []string{}},
		},
		AffinityScores: map[string]float64{},
		RecentEvents:   []RecentEvent{},
		SessionData:    SessionData{DeviceTypes: []string{}},
		DataRetention: DataRetention{
			CreatedAt:   now,
			LastUpdated: now,
			ExpiresAt:   now.Add(ProfileRetention),
		},
	}
}

// Normalize fills nil collections left behind by older or hand-edited payloads.
func (p *BehaviorProfile) Normalize() {
	if p.Version == "" {
		p.Version = ProfileVersion
	}
	if p.EventSummary.ProductViewed.Categories == nil {
		p.EventSummary.ProductViewed.Categories = map[string]int{}
	}
	if p.EventSummary.CollectionViewed.Collections == nil {
		p.EventSummary.CollectionViewed.Collections = []string{}
	}
	if p.EventSummary.SearchSubmitted.Terms == nil {
		p.EventSummary.SearchSubmitted.Terms = []string{}
	}
	if p.AffinityScores == nil {
		p.AffinityScores = map[string]float64{}
	}
	if p.RecentEvents == nil {
		p.RecentEvents = []RecentEvent{}
	}
	if p.SessionData.DeviceTypes == nil {
		p.SessionData.DeviceTypes = []string{}
	}
}

// Expired reports whether the retention window has passed.
func (p *BehaviorProfile) Expired(now time.Time) bool {
	return !p.DataRetention.ExpiresAt.IsZero() && !now.Before(p.DataRetention.ExpiresAt)
}

// RecentEvent is a normalized event kept in the profile history. It serializes
// flat: type, timestamp, payload fields and the migrated marker share one object.
type RecentEvent struct {
	Type      EventType
	Timestamp string
	Migrated  bool
	Data      EventData
}

var reservedRecentEventKeys = map[string]struct{}{
	"type":      {},
	"timestamp": {},
	"migrated":  {},
}

func (e RecentEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		if _, reserved := reservedRecentEventKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	out["type"] = e.Type
	out["timestamp"] = e.Timestamp
	if e.Migrated {
		out["migrated"] = true
	}
	return json.Marshal(out)
}

func (e *RecentEvent) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("failed to decode recent event: %w", err)
	}
	data := EventData{}
	for k, v := range raw {
		switch k {
		case "type":
			s, _ := v.(string)
			e.Type = EventType(s)
		case "timestamp":
			s, _ := v.(string)
			e.Timestamp = s
		case "migrated":
			flag, _ := v.(bool)
			e.Migrated = flag
		default:
			data[k] = v
		}
	}
	e.Data = data
	return nil
}
