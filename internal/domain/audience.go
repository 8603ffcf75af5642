package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AudienceStatus is either active or inactive.
type AudienceStatus string

const (
	AudienceActive   AudienceStatus = "active"
	AudienceInactive AudienceStatus = "inactive"
)

// RuleType combines audience conditions.
type RuleType string

const (
	RuleAnd RuleType = "and"
	RuleOr  RuleType = "or"
)

// ShopAudiencesVersion is the schema version of the shop audience document.
const ShopAudiencesVersion = "1.0"

// Audience is a rule-based customer segment. Rules are evaluated elsewhere.
type Audience struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Priority           int                 `json:"priority"`
	Status             AudienceStatus      `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	Rules              AudienceRules       `json:"rules"`
	PerformanceMetrics AudiencePerformance `json:"performance_metrics"`
}

type AudienceRules struct {
	Type       RuleType            `json:"type"`
	Conditions []AudienceCondition `json:"conditions"`
}

type AudienceCondition struct {
	EventType      string  `json:"event_type"`
	Filter         *string `json:"filter,omitempty"`
	Operator       string  `json:"operator"`
	Value          string  `json:"value"`
	CountThreshold int     `json:"count_threshold"`
	TimeframeDays  int     `json:"timeframe_days"`
}

type AudiencePerformance struct {
	CustomerCount       int       `json:"customer_count"`
	LastEvaluated       time.Time `json:"last_evaluated"`
	AvgAssignmentTimeMS float64   `json:"avg_assignment_time_ms"`
}

// ShopAudiences is the shop level audience configuration document.
type ShopAudiences struct {
	Version        string                 `json:"version"`
	Audiences      []Audience             `json:"audiences"`
	GlobalSettings AudienceGlobalSettings `json:"global_settings"`
	Statistics     AudienceStatistics     `json:"statistics"`
}

type AudienceGlobalSettings struct {
	EvaluationFrequency   string `json:"evaluation_frequency"`
	MaxRecentEvents       int    `json:"max_recent_events"`
	DataRetentionDays     int    `json:"data_retention_days"`
	PrivacyMode           string `json:"privacy_mode"`
	PerformanceMonitoring bool   `json:"performance_monitoring"`
}

type AudienceStatistics struct {
	TotalAudiences         int        `json:"total_audiences"`
	ActiveAudiences        int        `json:"active_audiences"`
	TotalCustomersAssigned int        `json:"total_customers_assigned"`
	LastGlobalEvaluation   *time.Time `json:"last_global_evaluation"`
}

// NewShopAudiences returns the default, empty audience document.
func NewShopAudiences() *ShopAudiences {
	return &ShopAudiences{
		Version:   ShopAudiencesVersion,
		Audiences: []Audience{},
		GlobalSettings: AudienceGlobalSettings{
			EvaluationFrequency:   "real_time",
			MaxRecentEvents:       50,
			DataRetentionDays:     365,
			PrivacyMode:           "strict",
			PerformanceMonitoring: true,
		},
	}
}

// RefreshStatistics recomputes the audience counters from the list.
func (s *ShopAudiences) RefreshStatistics() {
	s.Statistics.TotalAudiences = len(s.Audiences)
	active := 0
	for _, a := range s.Audiences {
		if a.Status == AudienceActive {
			active++
		}
	}
	s.Statistics.ActiveAudiences = active
}

// CreateAudienceInput carries a single-condition audience definition.
type CreateAudienceInput struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Priority       int      `json:"priority"`
	RuleType       RuleType `json:"rule_type"`
	EventType      string   `json:"event_type"`
	Filter         string   `json:"filter"`
	Operator       string   `json:"operator"`
	Value          string   `json:"value"`
	CountThreshold *int     `json:"count_threshold"`
	TimeframeDays  *int     `json:"timeframe_days"`
}

// Validate returns field errors keyed by input field name; empty means valid.
func (in CreateAudienceInput) Validate() map[string]string {
	fieldErrors := map[string]string{}
	if strings.TrimSpace(in.Name) == "" {
		fieldErrors["name"] = "Audience name is required"
	}
	if strings.TrimSpace(in.EventType) == "" {
		fieldErrors["event_type"] = "Event type is required"
	}
	if strings.TrimSpace(in.Value) == "" {
		fieldErrors["value"] = "Rule value is required"
	}
	if in.CountThreshold != nil && *in.CountThreshold < 1 {
		fieldErrors["count_threshold"] = "Count threshold must be at least 1"
	}
	if in.TimeframeDays != nil && *in.TimeframeDays < 1 {
		fieldErrors["timeframe_days"] = "Timeframe must be at least 1 day"
	}
	if in.RuleType != "" && in.RuleType != RuleAnd && in.RuleType != RuleOr {
		fieldErrors["rule_type"] = "Rule type must be and or or"
	}
	return fieldErrors
}

// NewAudience builds an active audience from validated input, applying the
// form defaults for omitted fields.
func NewAudience(in CreateAudienceInput, now time.Time) Audience {
	priority := in.Priority
	if priority == 0 {
		priority = 1
	}
	ruleType := in.RuleType
	if ruleType == "" {
		ruleType = RuleAnd
	}
	operator := strings.TrimSpace(in.Operator)
	if operator == "" {
		operator = "contains"
	}
	countThreshold := 1
	if in.CountThreshold != nil {
		countThreshold = *in.CountThreshold
	}
	timeframeDays := 30
	if in.TimeframeDays != nil {
		timeframeDays = *in.TimeframeDays
	}
	var filter *string
	if f := strings.TrimSpace(in.Filter); f != "" {
		filter = &f
	}

	now = now.UTC()
	return Audience{
		ID:          "audience_" + uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Priority:    priority,
		Status:      AudienceActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rules: AudienceRules{
			Type: ruleType,
			Conditions: []AudienceCondition{{
				EventType:      strings.TrimSpace(in.EventType),
				Filter:         filter,
				Operator:       operator,
				Value:          in.Value,
				CountThreshold: countThreshold,
				TimeframeDays:  timeframeDays,
			}},
		},
		PerformanceMetrics: AudiencePerformance{LastEvaluated: now},
	}
}
