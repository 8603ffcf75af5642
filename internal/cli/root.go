package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rpattn/persway/internal/app"
	"github.com/rpattn/persway/internal/config"
	"github.com/rpattn/persway/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "perswayctl",
	Short:         "Persway behavior profile tooling",
	Long:          color.CyanString("perswayctl") + "\nReplay, migrate, inspect and export customer behavior profiles.",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", ".", "Directory containing config.yaml")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level for diagnostic output")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(migrateAnonCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(dbMigrateCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	dir, _ := cmd.Flags().GetString("config")
	return config.Load(dir)
}

// buildApp loads configuration and wires the services for one command run.
func buildApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	level, _ := cmd.Flags().GetString("log-level")
	log, err := logger.New(cfg.Log.Mode, level)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Build(ctx, cfg, log)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(title))
	fmt.Fprintln(w, "─────────────────────")
}

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func printWarn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", color.YellowString("!"), fmt.Sprintf(format, args...))
}
