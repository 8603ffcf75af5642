package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/ingestion"
	"github.com/rpattn/persway/internal/repository"
)

var (
	replayCmd = &cobra.Command{
		Use:   "replay",
		Short: "Aggregate a JSON file of events into a customer profile",
		RunE:  runReplay,
	}

	migrateAnonCmd = &cobra.Command{
		Use:   "migrate-anon",
		Short: "Merge an anonymous session file into a customer profile",
		RunE:  runMigrateAnon,
	}

	showCmd = &cobra.Command{
		Use:   "show <customer-id>",
		Short: "Print a customer's behavior profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
)

func init() {
	replayCmd.Flags().String("customer", "", "Customer id (numeric or GID)")
	replayCmd.Flags().String("file", "", "JSON file: an array of events or {\"events\": [...]}")

	migrateAnonCmd.Flags().String("file", "", "JSON migration request file")
	migrateAnonCmd.Flags().String("customer", "", "Override customer_id from the file")
	migrateAnonCmd.Flags().String("persway-id", "", "Override persway_id from the file")

	showCmd.Flags().Bool("json", false, "Print only the raw profile JSON")
}

func runReplay(cmd *cobra.Command, args []string) error {
	customerID, _ := cmd.Flags().GetString("customer")
	path, _ := cmd.Flags().GetString("file")
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("--customer is required")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("--file is required")
	}

	events, err := readEvents(path)
	if err != nil {
		return err
	}

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Ingestion.ProcessEvents(cmd.Context(), customerID, events)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printHeader(out, "Replay")
	printOK(out, "aggregated %d events into customer %s", res.Processed, res.CustomerID)
	return nil
}

func runMigrateAnon(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("--file is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var req ingestion.MigrationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if v, _ := cmd.Flags().GetString("customer"); strings.TrimSpace(v) != "" {
		req.CustomerID = strings.TrimSpace(v)
	}
	if v, _ := cmd.Flags().GetString("persway-id"); strings.TrimSpace(v) != "" {
		req.PerswayID = strings.TrimSpace(v)
	}
	fillEventIDs(req.AnonymousEvents)

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Ingestion.Migrate(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printHeader(out, "Migration")
	printOK(out, "migrated %d events from session %s into customer %s", res.MigratedEvents, res.PerswayID, res.CustomerID)
	if !res.MigrationRecorded {
		printWarn(out, "migration log was not updated (see logs)")
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, err := a.Ingestion.Profile(cmd.Context(), args[0])
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("no profile stored for customer %s", domain.NormalizeCustomerID(args[0]))
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !asJSON {
		printHeader(out, "Customer "+domain.NormalizeCustomerID(args[0]))
		s := profile.EventSummary
		fmt.Fprintf(out, "Product views:   %d\n", s.ProductViewed.Count)
		fmt.Fprintf(out, "Cart views:      %d (avg %.2f)\n", s.CartViewed.Count, s.CartViewed.AvgCartValue)
		fmt.Fprintf(out, "Checkouts:       %d started, %d completed (rate %.2f)\n",
			s.CheckoutStarted.Count, s.CheckoutCompleted.Count, s.CheckoutStarted.ConversionRate)
		fmt.Fprintf(out, "Sessions:        %d\n", profile.SessionData.TotalSessions)
		fmt.Fprintf(out, "Recent events:   %d\n", len(profile.RecentEvents))
		fmt.Fprintf(out, "Top affinities:  %s\n", formatAffinities(profile.AffinityScores, 5))
		fmt.Fprintln(out)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(profile)
}

// readEvents accepts either a bare JSON array or a pixel-style {"events": [...]} object.
func readEvents(path string) ([]domain.RawEvent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var events []domain.RawEvent
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &events)
	} else {
		var wrapped struct {
			Events []domain.RawEvent `json:"events"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		events = wrapped.Events
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	fillEventIDs(events)
	return events, nil
}

func fillEventIDs(events []domain.RawEvent) {
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
	}
}

func formatAffinities(scores map[string]float64, limit int) string {
	if len(scores) == 0 {
		return "-"
	}
	labels := make([]string, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if scores[labels[i]] != scores[labels[j]] {
			return scores[labels[i]] > scores[labels[j]]
		}
		return labels[i] < labels[j]
	})
	if len(labels) > limit {
		labels = labels[:limit]
	}
	parts := make([]string, len(labels))
	for i, label := range labels {
		parts[i] = fmt.Sprintf("%s=%g", label, scores[label])
	}
	return strings.Join(parts, ", ")
}
