package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/logger"
	"github.com/rpattn/persway/internal/profileloader"
)

type nopProfileRepo struct{}

func (nopProfileRepo) Get(ctx context.Context, customerID string) (*domain.BehaviorProfile, error) {
	return nil, nil
}
func (nopProfileRepo) GetMany(ctx context.Context, customerIDs []string) (map[string]*domain.BehaviorProfile, error) {
	return map[string]*domain.BehaviorProfile{}, nil
}
func (nopProfileRepo) Save(ctx context.Context, customerID string, profile *domain.BehaviorProfile) error {
	return nil
}

func TestDataLoaderMiddlewareAttachesLoader(t *testing.T) {
	var seen *profileloader.ProfileLoader
	h := DataLoaderMiddleware(nopProfileRepo{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = profileloader.FromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == nil {
		t.Fatalf("expected loader on request context")
	}
}

func TestLoggingMiddlewarePassesStatusThrough(t *testing.T) {
	h := LoggingMiddleware(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}
