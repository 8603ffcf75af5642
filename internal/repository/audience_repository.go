package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/metafield"
)

type audienceRepository struct {
	store metafield.Store
}

// NewAudienceRepository wires a repository for the shop-owned audience document.
func NewAudienceRepository(store metafield.Store) AudienceRepository {
	return &audienceRepository{store: store}
}

func (r *audienceRepository) Get(ctx context.Context) (*domain.ShopAudiences, error) {
	var doc domain.ShopAudiences
	if err := metafield.Fetch(ctx, r.store, metafield.Audiences, metafield.ShopOwner, &doc); err != nil {
		if errors.Is(err, metafield.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shop audiences: %w", err)
	}
	if doc.Audiences == nil {
		doc.Audiences = []domain.Audience{}
	}
	return &doc, nil
}

func (r *audienceRepository) Save(ctx context.Context, doc *domain.ShopAudiences) error {
	if doc == nil {
		return fmt.Errorf("audiences document is required")
	}
	return metafield.Put(ctx, r.store, metafield.Audiences, metafield.ShopOwner, doc)
}
