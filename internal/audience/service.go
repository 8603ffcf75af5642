package audience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/lock"
	"github.com/rpattn/persway/internal/logger"
	"github.com/rpattn/persway/internal/repository"
)

// ErrInvalidAudience matches every InputError.
var ErrInvalidAudience = errors.New("invalid audience")

// InputError carries per-field validation messages for a create request.
type InputError struct {
	Fields map[string]string
}

func (e *InputError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid audience: " + strings.Join(parts, "; ")
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidAudience
}

// lockKey guards the single shop-level audience document.
const lockKey = "audiences:shop"

// Service manages the shop's audience definitions. Rules are stored for an
// external evaluator; nothing here evaluates them.
type Service struct {
	repo   repository.AudienceRepository
	locker lock.Locker
	log    *logger.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo repository.AudienceRepository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: lock.NewMemoryLocker(),
		log:    logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary is the list view of one audience.
type Summary struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	Priority      int                   `json:"priority"`
	Status        domain.AudienceStatus `json:"status"`
	CustomerCount int                   `json:"customer_count"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Listing is what the audience index shows.
type Listing struct {
	Audiences              []Summary `json:"audiences"`
	TotalCustomersAssigned int       `json:"total_customers_assigned"`
}

// List returns the shop's audiences ordered by priority (highest first).
// A shop without an audience document has no audiences.
func (s *Service) List(ctx context.Context) (Listing, error) {
	doc, err := s.repo.Get(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return Listing{Audiences: []Summary{}}, nil
	}
	if err != nil {
		return Listing{}, err
	}

	out := Listing{
		Audiences:              make([]Summary, 0, len(doc.Audiences)),
		TotalCustomersAssigned: doc.Statistics.TotalCustomersAssigned,
	}
	for _, a := range doc.Audiences {
		out.Audiences = append(out.Audiences, Summary{
			ID:            a.ID,
			Name:          a.Name,
			Description:   a.Description,
			Priority:      a.Priority,
			Status:        a.Status,
			CustomerCount: a.PerformanceMetrics.CustomerCount,
			CreatedAt:     a.CreatedAt,
		})
	}
	sort.SliceStable(out.Audiences, func(i, j int) bool {
		return out.Audiences[i].Priority > out.Audiences[j].Priority
	})
	return out, nil
}

// Create validates in, appends the new audience to the shop document and
// saves it. Invalid input yields an *InputError and no write.
func (s *Service) Create(ctx context.Context, in domain.CreateAudienceInput) (domain.Audience, error) {
	if fields := in.Validate(); len(fields) > 0 {
		return domain.Audience{}, &InputError{Fields: fields}
	}

	unlock, err := s.locker.Lock(ctx, lockKey)
	if err != nil {
		return domain.Audience{}, fmt.Errorf("failed to lock audiences: %w", err)
	}
	defer unlock()

	doc, err := s.repo.Get(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		doc = domain.NewShopAudiences()
	case err != nil:
		return domain.Audience{}, err
	}

	audience := domain.NewAudience(in, s.now())
	doc.Audiences = append(doc.Audiences, audience)
	doc.RefreshStatistics()

	if err := s.repo.Save(ctx, doc); err != nil {
		return domain.Audience{}, err
	}

	s.log.Info("audience created", "audience_id", audience.ID, "name", audience.Name)
	return audience, nil
}
