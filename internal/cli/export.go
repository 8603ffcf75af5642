package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/persway/internal/db"
	"github.com/rpattn/persway/internal/export"
	"github.com/rpattn/persway/internal/metafield"
)

var (
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export a summary row per stored profile as CSV or XLSX",
		RunE:  runExport,
	}

	dbMigrateCmd = &cobra.Command{
		Use:   "db-migrate",
		Short: "Apply pending Postgres schema migrations",
		RunE:  runDBMigrate,
	}
)

func init() {
	exportCmd.Flags().String("format", "csv", "Output format: csv or xlsx")
	exportCmd.Flags().String("out", "", "Output file (defaults to stdout for csv)")
}

func runExport(cmd *cobra.Command, args []string) error {
	rawFormat, _ := cmd.Flags().GetString("format")
	outPath, _ := cmd.Flags().GetString("out")
	outPath = strings.TrimSpace(outPath)

	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return err
	}
	if format == export.FormatXLSX && outPath == "" {
		return fmt.Errorf("--out is required for xlsx exports")
	}

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Export == nil {
		return fmt.Errorf("store backend %q cannot export profiles: %w", a.Config.Store.Backend, metafield.ErrListUnsupported)
	}

	var w io.Writer = cmd.OutOrStdout()
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", outPath, err)
		}
		defer f.Close()
		w = f
	}

	rows, err := a.Export.Write(cmd.Context(), format, w)
	if err != nil {
		return err
	}
	if outPath != "" {
		printOK(cmd.OutOrStdout(), "exported %d profiles to %s", rows, outPath)
	}
	return nil
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := db.RunMigrations(cfg.Database); err != nil {
		return err
	}
	printOK(cmd.OutOrStdout(), "database %s is up to date", cfg.Database.DBName)
	return nil
}
