package audience

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/metafield"
	"github.com/rpattn/persway/internal/repository"
)

type stubAudienceRepo struct {
	doc     *domain.ShopAudiences
	saves   int
	saveErr error
}

func (s *stubAudienceRepo) Get(ctx context.Context) (*domain.ShopAudiences, error) {
	if s.doc == nil {
		return nil, repository.ErrNotFound
	}
	cp := *s.doc
	cp.Audiences = append([]domain.Audience(nil), s.doc.Audiences...)
	return &cp, nil
}

func (s *stubAudienceRepo) Save(ctx context.Context, doc *domain.ShopAudiences) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.doc = doc
	return nil
}

var testNow = time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

func newTestService(repo *stubAudienceRepo) *Service {
	return NewService(repo, WithClock(func() time.Time { return testNow }))
}

func TestServiceCreateInitializesDocument(t *testing.T) {
	repo := &stubAudienceRepo{}
	svc := newTestService(repo)

	a, err := svc.Create(context.Background(), domain.CreateAudienceInput{
		Name:      "Cat lovers",
		EventType: "product_viewed",
		Filter:    "product_type",
		Value:     "cats",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !strings.HasPrefix(a.ID, "audience_") || a.Priority != 1 || a.Status != domain.AudienceActive {
		t.Fatalf("unexpected audience: %+v", a)
	}
	cond := a.Rules.Conditions[0]
	if a.Rules.Type != domain.RuleAnd || cond.Operator != "contains" || cond.CountThreshold != 1 || cond.TimeframeDays != 30 {
		t.Fatalf("expected form defaults, got %+v / %+v", a.Rules, cond)
	}
	if !a.CreatedAt.Equal(testNow) {
		t.Fatalf("expected created_at from clock, got %s", a.CreatedAt)
	}

	if repo.doc == nil || repo.doc.GlobalSettings.MaxRecentEvents != 50 {
		t.Fatalf("expected default document to be saved, got %+v", repo.doc)
	}
	if repo.doc.Statistics.TotalAudiences != 1 || repo.doc.Statistics.ActiveAudiences != 1 {
		t.Fatalf("expected statistics refreshed, got %+v", repo.doc.Statistics)
	}
}

func TestServiceCreateRejectsInvalidInput(t *testing.T) {
	repo := &stubAudienceRepo{}
	svc := newTestService(repo)
	zero := 0

	_, err := svc.Create(context.Background(), domain.CreateAudienceInput{CountThreshold: &zero})
	if !errors.Is(err, ErrInvalidAudience) {
		t.Fatalf("expected ErrInvalidAudience, got %v", err)
	}
	var invalid *InputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InputError")
	}
	for _, field := range []string{"name", "event_type", "value", "count_threshold"} {
		if _, ok := invalid.Fields[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, invalid.Fields)
		}
	}
	if repo.saves != 0 {
		t.Fatalf("expected no writes, got %d", repo.saves)
	}
}

func TestServiceListOrdersByPriority(t *testing.T) {
	repo := &stubAudienceRepo{}
	svc := newTestService(repo)
	ctx := context.Background()

	empty, err := svc.List(ctx)
	if err != nil || len(empty.Audiences) != 0 {
		t.Fatalf("expected empty listing, got %+v, %v", empty, err)
	}

	for _, in := range []domain.CreateAudienceInput{
		{Name: "low", EventType: "cart_viewed", Value: "1", Priority: 1},
		{Name: "high", EventType: "cart_viewed", Value: "1", Priority: 5},
	} {
		if _, err := svc.Create(ctx, in); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	listing, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listing.Audiences) != 2 || listing.Audiences[0].Name != "high" {
		t.Fatalf("expected high priority first, got %+v", listing.Audiences)
	}
}

func TestHandlerCreateAndList(t *testing.T) {
	repo := &stubAudienceRepo{}
	mux := http.NewServeMux()
	NewHTTPHandler(newTestService(repo), nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/app/audiences",
		strings.NewReader(`{"name":"Searchers","event_type":"search_submitted","value":"wool","count_threshold":2}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/app/audiences", strings.NewReader(`{"name":""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Errors["name"] == "" {
		t.Fatalf("expected field errors, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/audiences", nil))
	var listing Listing
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Audiences) != 1 || listing.Audiences[0].Name != "Searchers" {
		t.Fatalf("unexpected listing: %+v", listing)
	}
}

func TestHandlerCreateSizeLimit(t *testing.T) {
	repo := &stubAudienceRepo{saveErr: &metafield.SizeLimitError{Label: "Shop Audiences", Size: 600 * 1024, LimitKB: 500}}
	mux := http.NewServeMux()
	NewHTTPHandler(newTestService(repo), nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/app/audiences",
		strings.NewReader(`{"name":"x","event_type":"cart_viewed","value":"1"}`)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
