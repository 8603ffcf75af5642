package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/repository"

	"github.com/xuri/excelize/v2"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for formats other than csv and xlsx.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat maps a query value onto a Format; empty means csv.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

const sheetName = "Profiles"

var headers = []string{
	"customer_id",
	"created_at",
	"last_updated",
	"expires_at",
	"expired",
	"product_views",
	"top_category",
	"collection_views",
	"searches",
	"cart_views",
	"avg_cart_value",
	"checkouts_started",
	"checkouts_completed",
	"conversion_rate",
	"total_order_value",
	"total_sessions",
	"top_affinity",
	"recent_events",
	"current_audience_id",
}

// Service exports one summary row per stored behavior profile.
type Service struct {
	profiles repository.ProfileLister
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(profiles repository.ProfileLister, opts ...Option) *Service {
	service := &Service{
		profiles: profiles,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Write encodes every profile in format to w and returns the row count.
func (s *Service) Write(ctx context.Context, format Format, w io.Writer) (int, error) {
	switch format {
	case FormatCSV:
		return s.WriteCSV(ctx, w)
	case FormatXLSX:
		return s.WriteXLSX(ctx, w)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// WriteCSV writes a header row followed by one row per profile.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return 0, err
	}

	buffered := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(buffered)
	if err := csvWriter.Write(headers); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := csvWriter.Write(row); err != nil {
			return 0, fmt.Errorf("write profile row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return 0, fmt.Errorf("flush rows: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return 0, fmt.Errorf("flush buffered rows: %w", err)
	}
	return len(rows), nil
}

// WriteXLSX writes the same table as WriteCSV into a single-sheet workbook.
func (s *Service) WriteXLSX(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}

	stream, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return 0, fmt.Errorf("open sheet writer: %w", err)
	}
	if err := stream.SetRow("A1", toCells(headers)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := stream.SetRow(cell, toCells(row)); err != nil {
			return 0, fmt.Errorf("write profile row: %w", err)
		}
	}
	if err := stream.Flush(); err != nil {
		return 0, fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return len(rows), nil
}

func (s *Service) rows(ctx context.Context) ([][]string, error) {
	records, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CustomerID < records[j].CustomerID
	})

	now := s.now()
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if rec.Profile == nil {
			continue
		}
		rows = append(rows, profileRow(rec.CustomerID, rec.Profile, now))
	}
	return rows, nil
}

func profileRow(customerID string, p *domain.BehaviorProfile, now time.Time) []string {
	summary := p.EventSummary
	audienceID := ""
	if p.AudienceAssignment.CurrentAudienceID != nil {
		audienceID = *p.AudienceAssignment.CurrentAudienceID
	}
	return []string{
		customerID,
		formatTime(p.DataRetention.CreatedAt),
		formatTime(p.DataRetention.LastUpdated),
		formatTime(p.DataRetention.ExpiresAt),
		strconv.FormatBool(p.Expired(now)),
		strconv.Itoa(summary.ProductViewed.Count),
		topCategory(summary.ProductViewed.Categories),
		strconv.Itoa(summary.CollectionViewed.Count),
		strconv.Itoa(summary.SearchSubmitted.Count),
		strconv.Itoa(summary.CartViewed.Count),
		formatFloat(summary.CartViewed.AvgCartValue),
		strconv.Itoa(summary.CheckoutStarted.Count),
		strconv.Itoa(summary.CheckoutCompleted.Count),
		formatFloat(summary.CheckoutStarted.ConversionRate),
		formatFloat(summary.CheckoutCompleted.TotalValue),
		strconv.Itoa(p.SessionData.TotalSessions),
		topAffinity(p.AffinityScores),
		strconv.Itoa(len(p.RecentEvents)),
		audienceID,
	}
}

// topCategory picks the most viewed category; ties break alphabetically.
func topCategory(categories map[string]int) string {
	best, bestCount := "", 0
	for name, count := range categories {
		if count > bestCount || (count == bestCount && name < best) {
			best, bestCount = name, count
		}
	}
	return best
}

func topAffinity(scores map[string]float64) string {
	best, bestScore := "", 0.0
	for label, score := range scores {
		if score > bestScore || (score == bestScore && label < best) {
			best, bestScore = label, score
		}
	}
	return best
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}
