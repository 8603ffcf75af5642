package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/metafield"
)

// profileRepository implements ProfileRepository over a metafield store
type profileRepository struct {
	store metafield.Store
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(store metafield.Store) ProfileRepository {
	return &profileRepository{store: store}
}

// Get loads a customer's profile
func (r *profileRepository) Get(ctx context.Context, customerID string) (*domain.BehaviorProfile, error) {
	var profile domain.BehaviorProfile
	if err := metafield.Fetch(ctx, r.store, metafield.BehaviorData, domain.CustomerGID(customerID), &profile); err != nil {
		if errors.Is(err, metafield.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer behavior data: %w", err)
	}
	profile.Normalize()
	return &profile, nil
}

// GetMany loads several profiles at once; absent customers are omitted
func (r *profileRepository) GetMany(ctx context.Context, customerIDs []string) (map[string]*domain.BehaviorProfile, error) {
	owners := make([]string, len(customerIDs))
	for i, id := range customerIDs {
		owners[i] = domain.CustomerGID(id)
	}

	raw, err := r.store.GetMany(ctx, metafield.BehaviorData.Namespace, metafield.BehaviorData.Key, owners)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer behavior data: %w", err)
	}

	profiles := make(map[string]*domain.BehaviorProfile, len(raw))
	for owner, value := range raw {
		profile, err := decodeProfile(value)
		if err != nil {
			return nil, fmt.Errorf("customer %s: %w", owner, err)
		}
		profiles[domain.NormalizeCustomerID(owner)] = profile
	}
	return profiles, nil
}

// Save writes the whole profile or nothing at all
func (r *profileRepository) Save(ctx context.Context, customerID string, profile *domain.BehaviorProfile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	return metafield.Put(ctx, r.store, metafield.BehaviorData, domain.CustomerGID(customerID), profile)
}

type profileLister struct {
	lister metafield.Lister
}

// NewProfileLister wires a lister for exports
func NewProfileLister(lister metafield.Lister) ProfileLister {
	return &profileLister{lister: lister}
}

func (l *profileLister) List(ctx context.Context) ([]ProfileRecord, error) {
	entries, err := l.lister.List(ctx, metafield.BehaviorData.Namespace, metafield.BehaviorData.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer behavior data: %w", err)
	}

	records := make([]ProfileRecord, 0, len(entries))
	for _, entry := range entries {
		if !strings.HasPrefix(entry.OwnerID, "gid://shopify/Customer/") {
			continue
		}
		profile, err := decodeProfile(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("customer %s: %w", entry.OwnerID, err)
		}
		records = append(records, ProfileRecord{
			CustomerID: domain.NormalizeCustomerID(entry.OwnerID),
			Profile:    profile,
			StoredAt:   entry.UpdatedAt,
		})
	}
	return records, nil
}

func decodeProfile(raw []byte) (*domain.BehaviorProfile, error) {
	var profile domain.BehaviorProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode customer behavior data: %w", err)
	}
	profile.Normalize()
	return &profile, nil
}
