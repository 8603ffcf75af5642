package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// EventType names a storefront analytics event.
type EventType string

const (
	EventCartViewed             EventType = "cart_viewed"
	EventCheckoutStarted        EventType = "checkout_started"
	EventCheckoutCompleted      EventType = "checkout_completed"
	EventProductViewed          EventType = "product_viewed"
	EventCollectionViewed       EventType = "collection_viewed"
	EventSearchSubmitted        EventType = "search_submitted"
	EventProductAddedToCart     EventType = "product_added_to_cart"
	EventProductRemovedFromCart EventType = "product_removed_from_cart"
	EventPageViewed             EventType = "page_viewed"
)

// Known reports whether t is one of the event types the pixel emits.
func (t EventType) Known() bool {
	switch t {
	case EventCartViewed, EventCheckoutStarted, EventCheckoutCompleted,
		EventProductViewed, EventCollectionViewed, EventSearchSubmitted,
		EventProductAddedToCart, EventProductRemovedFromCart, EventPageViewed:
		return true
	default:
		return false
	}
}

const customerGIDPrefix = "gid://shopify/Customer/"

// NormalizeCustomerID strips the Admin API GID prefix from a customer id.
func NormalizeCustomerID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), customerGIDPrefix)
}

// CustomerGID returns the Admin API global id for a bare customer id.
func CustomerGID(id string) string {
	return customerGIDPrefix + NormalizeCustomerID(id)
}

// RawEvent is a behavioral event as delivered by the pixel or a migration request.
// PerswayID and CustomerID are empty for migration events; those are batch level.
type RawEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  string    `json:"timestamp"`
	PerswayID  string    `json:"persway_id,omitempty"`
	CustomerID *string   `json:"customer_id,omitempty"`
	Data       EventData `json:"data"`
}

// EventData is the free-form payload of an event. Accessors never fail; a missing
// or mistyped field reads as absent.
type EventData map[string]any

// String returns a non-blank string field.
func (d EventData) String(key string) (string, bool) {
	raw, ok := d[key]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Float returns a finite numeric field, accepting JSON numbers and numeric
// strings. NaN and infinities read as absent since they cannot be encoded.
func (d EventData) Float(key string) (float64, bool) {
	raw, ok := d[key]
	if !ok || raw == nil {
		return 0, false
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Category is the case-folded product type label.
func (d EventData) Category() (string, bool) {
	v, ok := d.String("product_type")
	if !ok {
		return "", false
	}
	return strings.ToLower(v), true
}

// Vendor is the case-folded vendor label.
func (d EventData) Vendor() (string, bool) {
	v, ok := d.String("vendor")
	if !ok {
		return "", false
	}
	return strings.ToLower(v), true
}

func (d EventData) CartValue() (float64, bool)  { return d.Float("cart_value") }
func (d EventData) OrderValue() (float64, bool) { return d.Float("order_value") }

func (d EventData) CollectionHandle() (string, bool) { return d.String("collection_handle") }
func (d EventData) SearchTerm() (string, bool)       { return d.String("search_term") }

// Clone returns a shallow copy so stored records do not alias caller maps.
func (d EventData) Clone() EventData {
	if d == nil {
		return EventData{}
	}
	out := make(EventData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
