// Package metafield stores JSON documents keyed by (owner, namespace, key), the
// way Shopify metafields are addressed.
package metafield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no value is stored under a Ref.
	ErrNotFound = errors.New("metafield not found")

	// ErrSizeLimitExceeded matches every SizeLimitError.
	ErrSizeLimitExceeded = errors.New("metafield size limit exceeded")

	// ErrListUnsupported is returned by backends that cannot enumerate owners.
	ErrListUnsupported = errors.New("metafield backend does not support listing")
)

// ShopOwner addresses shop-owned metafields. Backends that need a concrete
// owner id resolve it themselves.
const ShopOwner = "shop"

// Ref addresses a single metafield.
type Ref struct {
	OwnerID   string
	Namespace string
	Key       string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s.%s", r.OwnerID, r.Namespace, r.Key)
}

// Entry is a stored value with its owner.
type Entry struct {
	OwnerID   string
	Value     []byte
	UpdatedAt time.Time
}

// Store is a durable JSON key-value store.
type Store interface {
	Get(ctx context.Context, ref Ref) ([]byte, error)
	// GetMany returns the values found for owners; absent owners are omitted.
	GetMany(ctx context.Context, namespace, key string, ownerIDs []string) (map[string][]byte, error)
	Set(ctx context.Context, ref Ref, value []byte) error
}

// Lister enumerates every owner holding a value under namespace and key.
type Lister interface {
	List(ctx context.Context, namespace, key string) ([]Entry, error)
}

// Definition describes a metafield and its soft size budget.
type Definition struct {
	Namespace string
	Key       string
	Label     string
	LimitKB   int
}

var (
	BehaviorData = Definition{
		Namespace: "$app:persway_events",
		Key:       "behavior_data",
		Label:     "Customer behavior data",
		LimitKB:   200,
	}
	MigrationData = Definition{
		Namespace: "$app:persway_events",
		Key:       "migration_data",
		Label:     "Customer migration data",
		LimitKB:   50,
	}
	Audiences = Definition{
		Namespace: "$app:persway_config",
		Key:       "audiences",
		Label:     "Shop audiences data",
		LimitKB:   500,
	}
)

// Ref returns the reference of this definition for owner.
func (d Definition) Ref(ownerID string) Ref {
	return Ref{OwnerID: ownerID, Namespace: d.Namespace, Key: d.Key}
}

// SizeLimitError reports a value over its definition's budget.
type SizeLimitError struct {
	Label   string
	Size    int
	LimitKB int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s size (%.1fKB) exceeds limit of %dKB", e.Label, float64(e.Size)/1024, e.LimitKB)
}

func (e *SizeLimitError) Is(target error) bool {
	return target == ErrSizeLimitExceeded
}

// Encode serializes v and rejects it when it exceeds the definition's limit.
func (d Definition) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", d.Label, err)
	}
	if d.LimitKB > 0 && len(raw) > d.LimitKB*1024 {
		return nil, &SizeLimitError{Label: d.Label, Size: len(raw), LimitKB: d.LimitKB}
	}
	return raw, nil
}

// Put encodes v under the definition and writes it. Nothing is written when the
// size check fails.
func Put(ctx context.Context, store Store, d Definition, ownerID string, v any) error {
	raw, err := d.Encode(v)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, d.Ref(ownerID), raw); err != nil {
		return fmt.Errorf("failed to store %s: %w", d.Label, err)
	}
	return nil
}

// Fetch reads and decodes the definition's value into v. It returns
// ErrNotFound when nothing is stored.
func Fetch(ctx context.Context, store Store, d Definition, ownerID string, v any) error {
	raw, err := store.Get(ctx, d.Ref(ownerID))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", d.Label, err)
	}
	return nil
}
