// Package profileloader batches profile reads issued by concurrent handlers of
// one request into a single store round trip.
package profileloader

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/repository"

	"github.com/graph-gophers/dataloader"
)

type ProfileLoader struct {
	Loader *dataloader.Loader
}

func NewProfileLoader(repo repository.ProfileRepository) *ProfileLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := keys.Keys()

		profiles, err := repo.GetMany(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Build results in the same order as keys; absent profiles yield ErrNotFound
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if p, ok := profiles[id]; ok {
				results[i] = &dataloader.Result{Data: p}
			} else {
				results[i] = &dataloader.Result{Error: repository.ErrNotFound}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &ProfileLoader{Loader: loader}
}

// Load returns the stored profile for customerID or repository.ErrNotFound.
// The result is not cached past the call, so a load after a save sees the write.
func (l *ProfileLoader) Load(ctx context.Context, customerID string) (*domain.BehaviorProfile, error) {
	key := dataloader.StringKey(domain.NormalizeCustomerID(customerID))
	defer l.Loader.Clear(ctx, key)

	value, err := l.Loader.Load(ctx, key)()
	if err != nil {
		return nil, err
	}
	profile, ok := value.(*domain.BehaviorProfile)
	if !ok || profile == nil {
		return nil, errors.New("profile loader returned unexpected value")
	}
	return profile, nil
}

type ctxKey string

const profileLoaderKey ctxKey = "profileLoader"

// WithLoader stores the loader on ctx.
func WithLoader(ctx context.Context, loader *ProfileLoader) context.Context {
	return context.WithValue(ctx, profileLoaderKey, loader)
}

// FromContext retrieves the loader from ctx, if any.
func FromContext(ctx context.Context) *ProfileLoader {
	if l, ok := ctx.Value(profileLoaderKey).(*ProfileLoader); ok {
		return l
	}
	return nil
}
