package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/persway/internal/behavior"
	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/lock"
	"github.com/rpattn/persway/internal/logger"
	"github.com/rpattn/persway/internal/profileloader"
	"github.com/rpattn/persway/internal/repository"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds how many customers a pixel batch updates at once.
const DefaultMaxConcurrency = 8

// Service folds incoming behavior events into stored customer profiles.
// Every read-modify-write of a profile runs under a per-customer lock.
type Service struct {
	profiles       repository.ProfileRepository
	migrations     repository.MigrationRepository
	aggregator     *behavior.Aggregator
	locker         lock.Locker
	log            *logger.Logger
	maxConcurrency int
}

type Option func(*Service)

func WithAggregator(a *behavior.Aggregator) Option {
	return func(s *Service) {
		if a != nil {
			s.aggregator = a
		}
	}
}

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

func WithMaxConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// NewService creates a new ingestion service.
func NewService(
	profiles repository.ProfileRepository,
	migrations repository.MigrationRepository,
	opts ...Option,
) *Service {
	s := &Service{
		profiles:       profiles,
		migrations:     migrations,
		aggregator:     behavior.NewAggregator(),
		locker:         lock.NewMemoryLocker(),
		log:            logger.Nop(),
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessResult summarizes one live aggregation.
type ProcessResult struct {
	Success    bool      `json:"success"`
	Processed  int       `json:"processed"`
	CustomerID string    `json:"customer_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// MigrationRequest carries an anonymous session's events into a customer profile.
type MigrationRequest struct {
	CustomerID      string                `json:"customer_id"`
	PerswayID       string                `json:"persway_id"`
	AnonymousEvents []domain.RawEvent     `json:"anonymous_events"`
	SessionSummary  domain.SessionSummary `json:"session_summary"`
}

// MigrationResult reports a migration. MigrationRecorded is false when the
// profile was updated but the migration log could not be written.
type MigrationResult struct {
	Success           bool      `json:"success"`
	MigratedEvents    int       `json:"migrated_events"`
	CustomerID        string    `json:"customer_id"`
	PerswayID         string    `json:"persway_id"`
	MigrationRecorded bool      `json:"migration_recorded"`
	Timestamp         time.Time `json:"timestamp"`
}

// PixelPayload is what the storefront pixel flushes.
type PixelPayload struct {
	Events  []domain.RawEvent `json:"events"`
	Session PixelSession      `json:"session"`
}

type PixelSession struct {
	PerswayID    string  `json:"persway_id"`
	SessionStart int64   `json:"session_start"`
	CustomerID   *string `json:"customer_id"`
}

// PixelResult summarizes a pixel batch.
type PixelResult struct {
	Success           bool      `json:"success"`
	Processed         int       `json:"processed"`
	Customers         int       `json:"customers"`
	AnonymousSessions int       `json:"anonymous_sessions"`
	Timestamp         time.Time `json:"timestamp"`
}

// ProcessEvents aggregates events into the customer's profile, creating a
// default profile on first sight. Nothing is written if the batch is invalid
// or the updated profile exceeds the store's size limit.
func (s *Service) ProcessEvents(ctx context.Context, customerID string, events []domain.RawEvent) (ProcessResult, error) {
	id := domain.NormalizeCustomerID(customerID)
	if id == "" {
		return ProcessResult{}, &domain.ValidationError{Index: -1, Field: "customer_id", Message: "customer_id is required"}
	}
	if err := behavior.ValidateBatch(events); err != nil {
		return ProcessResult{}, err
	}
	s.noteUnknownTypes(events)

	err := s.withCustomer(ctx, id, func(profile *domain.BehaviorProfile) error {
		return s.aggregator.Aggregate(profile, events)
	})
	if err != nil {
		return ProcessResult{}, err
	}

	return ProcessResult{
		Success:    true,
		Processed:  len(events),
		CustomerID: id,
		Timestamp:  s.aggregator.Now(),
	}, nil
}

// noteUnknownTypes logs event types the storefront pixel does not emit. They
// are still accepted and only show up in recent_events.
func (s *Service) noteUnknownTypes(events []domain.RawEvent) {
	for _, ev := range events {
		if !ev.Type.Known() {
			s.log.Debug("accepting unknown event type", "type", ev.Type, "event_id", ev.ID)
		}
	}
}

// Migrate merges anonymous events into the customer's profile, tagging them as
// migrated, then appends an entry to the customer's migration log. The log
// write is best effort: a failure is logged and reported in the result but
// never fails the call once the profile has been saved.
func (s *Service) Migrate(ctx context.Context, req MigrationRequest) (MigrationResult, error) {
	id := domain.NormalizeCustomerID(req.CustomerID)
	if id == "" {
		return MigrationResult{}, &domain.ValidationError{Index: -1, Field: "customer_id", Message: "customer_id is required"}
	}
	if req.PerswayID == "" {
		return MigrationResult{}, &domain.ValidationError{Index: -1, Field: "persway_id", Message: "persway_id is required"}
	}
	if err := behavior.ValidateBatch(req.AnonymousEvents); err != nil {
		return MigrationResult{}, err
	}

	result := MigrationResult{
		CustomerID:     id,
		PerswayID:      req.PerswayID,
		MigratedEvents: len(req.AnonymousEvents),
	}

	unlock, err := s.locker.Lock(ctx, profileLockKey(id))
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to lock customer %s: %w", id, err)
	}
	defer unlock()

	profile, err := s.loadProfile(ctx, id)
	if err != nil {
		return MigrationResult{}, err
	}
	if err := s.aggregator.Migrate(profile, req.AnonymousEvents); err != nil {
		return MigrationResult{}, err
	}
	if err := s.profiles.Save(ctx, id, profile); err != nil {
		return MigrationResult{}, err
	}

	if err := s.recordMigration(ctx, id, req); err != nil {
		s.log.Warn("migration record not saved",
			"customer_id", id,
			"persway_id", req.PerswayID,
			"error", err,
		)
	} else {
		result.MigrationRecorded = true
	}

	s.log.Info("migrated anonymous session",
		"customer_id", id,
		"persway_id", req.PerswayID,
		"events", len(req.AnonymousEvents),
	)

	result.Success = true
	result.Timestamp = s.aggregator.Now()
	return result, nil
}

func (s *Service) recordMigration(ctx context.Context, customerID string, req MigrationRequest) error {
	if s.migrations == nil {
		return errors.New("no migration repository configured")
	}
	record, err := s.migrations.Get(ctx, customerID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	record = s.aggregator.RecordMigration(record, domain.MigrationEntry{
		PerswayID:      req.PerswayID,
		SessionStart:   req.SessionSummary.SessionStart,
		EventsCount:    len(req.AnonymousEvents),
		PreAuthSummary: req.SessionSummary,
	})
	return s.migrations.Save(ctx, customerID, record)
}

// IngestPixelBatch handles a pixel flush. Events carrying a customer id are
// grouped per customer and aggregated concurrently; anonymous events are
// grouped per persway id and only logged until the session authenticates and
// is migrated.
func (s *Service) IngestPixelBatch(ctx context.Context, payload PixelPayload) (PixelResult, error) {
	result := PixelResult{Success: true, Timestamp: s.aggregator.Now()}
	if len(payload.Events) == 0 {
		return result, nil
	}
	if err := behavior.ValidateBatch(payload.Events); err != nil {
		return PixelResult{}, err
	}
	s.noteUnknownTypes(payload.Events)

	byCustomer := map[string][]domain.RawEvent{}
	var customerOrder []string
	bySession := map[string][]domain.RawEvent{}
	var sessionOrder []string

	for _, ev := range payload.Events {
		customerID := ""
		if ev.CustomerID != nil {
			customerID = domain.NormalizeCustomerID(*ev.CustomerID)
		}
		if customerID == "" {
			sessionID := ev.PerswayID
			if sessionID == "" {
				sessionID = payload.Session.PerswayID
			}
			if _, ok := bySession[sessionID]; !ok {
				sessionOrder = append(sessionOrder, sessionID)
			}
			bySession[sessionID] = append(bySession[sessionID], ev)
			continue
		}
		if _, ok := byCustomer[customerID]; !ok {
			customerOrder = append(customerOrder, customerID)
		}
		byCustomer[customerID] = append(byCustomer[customerID], ev)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for _, customerID := range customerOrder {
		customerID := customerID
		events := byCustomer[customerID]
		g.Go(func() error {
			if _, err := s.ProcessEvents(gctx, customerID, events); err != nil {
				return fmt.Errorf("customer %s: %w", customerID, err)
			}
			s.log.Debug("aggregated pixel events", "customer_id", customerID, "events", len(events))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PixelResult{}, err
	}

	for _, customerID := range customerOrder {
		result.Processed += len(byCustomer[customerID])
	}
	for _, sessionID := range sessionOrder {
		events := bySession[sessionID]
		result.Processed += len(events)
		s.log.Info("anonymous session events",
			"persway_id", sessionID,
			"events", len(events),
			"event_types", eventTypes(events),
			"first", events[0].Timestamp,
			"last", events[len(events)-1].Timestamp,
		)
	}
	result.Customers = len(customerOrder)
	result.AnonymousSessions = len(sessionOrder)
	return result, nil
}

// Profile returns the stored profile for customerID or repository.ErrNotFound.
func (s *Service) Profile(ctx context.Context, customerID string) (*domain.BehaviorProfile, error) {
	id := domain.NormalizeCustomerID(customerID)
	if id == "" {
		return nil, &domain.ValidationError{Index: -1, Field: "customer_id", Message: "customer_id is required"}
	}
	if loader := profileloader.FromContext(ctx); loader != nil {
		return loader.Load(ctx, id)
	}
	return s.profiles.Get(ctx, id)
}

// withCustomer runs fn on the customer's profile under the customer lock and
// saves the result.
func (s *Service) withCustomer(ctx context.Context, customerID string, fn func(*domain.BehaviorProfile) error) error {
	unlock, err := s.locker.Lock(ctx, profileLockKey(customerID))
	if err != nil {
		return fmt.Errorf("failed to lock customer %s: %w", customerID, err)
	}
	defer unlock()

	profile, err := s.loadProfile(ctx, customerID)
	if err != nil {
		return err
	}
	if err := fn(profile); err != nil {
		return err
	}
	return s.profiles.Save(ctx, customerID, profile)
}

func (s *Service) loadProfile(ctx context.Context, customerID string) (*domain.BehaviorProfile, error) {
	var (
		profile *domain.BehaviorProfile
		err     error
	)
	if loader := profileloader.FromContext(ctx); loader != nil {
		profile, err = loader.Load(ctx, customerID)
	} else {
		profile, err = s.profiles.Get(ctx, customerID)
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.NewBehaviorProfile(s.aggregator.Now()), nil
	case err != nil:
		return nil, fmt.Errorf("failed to load profile for customer %s: %w", customerID, err)
	}
	return profile, nil
}

func profileLockKey(customerID string) string {
	return "profile:" + customerID
}

func eventTypes(events []domain.RawEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Type)
	}
	return out
}
