package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qrrename/internal/app"
	"qrrename/internal/config"
	"qrrename/internal/filters"
	"qrrename/internal/journal"
	"qrrename/internal/logger"
	"qrrename/internal/report"
	"qrrename/internal/storage"
)

var configFile string

// exitError carries a process exit status out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

var rootCmd = &cobra.Command{
	Use:   "qrrename [flags] DIR...",
	Short: "Rename images after the QR code they contain",
	Long: `Recursively scans directories for images, decodes the QR code in each one
(retrying across rotation angles and image filters) and renames the file to
the decoded text. Name collisions get a numeric suffix.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRename,
}

var undoCmd = &cobra.Command{
	Use:           "undo",
	Short:         "Restore the original names of a journaled run",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runUndo,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console/json)")

	// Decode flags
	rootCmd.Flags().IntSliceP("angles", "a", []int{0}, "Rotation angles in degrees, tried in order")
	rootCmd.Flags().BoolP("monochrome", "m", false, "Convert to grayscale before filtering")
	rootCmd.Flags().StringSliceP("filters", "f", nil, fmt.Sprintf("Filters to apply (%v, none, all)", filters.Names()))
	rootCmd.Flags().String("filter-mode", config.FilterModeChain, "How filters are tried: chain (all at once) or each (one at a time)")
	rootCmd.Flags().Bool("auto-orient", true, "Apply EXIF orientation when loading")
	rootCmd.Flags().Bool("try-harder", true, "Slower, more thorough QR search")
	rootCmd.Flags().String("require-prefix", "", "Accept only payloads starting with this prefix")

	// Scan flags
	rootCmd.Flags().StringSlice("extensions", config.DefaultExtensions, "Recognized image extensions")
	rootCmd.Flags().StringSlice("exclude", nil, "Base-name glob patterns to skip")
	rootCmd.Flags().Bool("follow-symlinks", true, "Follow symlinked directories")

	// Run flags
	rootCmd.Flags().IntP("threads", "t", runtime.NumCPU(), "Number of concurrent workers")
	rootCmd.Flags().Duration("task-timeout", 0, "Bound on load and decode of a single file (0 = none)")
	rootCmd.Flags().Int("max-suffix", 100, "Highest collision suffix tried before giving up")
	rootCmd.Flags().Bool("dry-run", false, "Plan renames without touching files")
	rootCmd.Flags().String("journal", "", "SQLite journal of performed renames (enables undo)")
	rootCmd.Flags().String("report", "", "Write the run summary to this .yaml/.yml/.json file")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.Flags().Bool("show-progress", true, "Show a progress bar when stderr is a terminal")

	undoCmd.Flags().String("journal", "", "Journal written by a previous run (required)")
	undoCmd.Flags().String("run", "", "Run ID to undo (default: the last run)")
	undoCmd.Flags().Bool("dry-run", false, "Show what would be restored")
	_ = undoCmd.MarkFlagRequired("journal")

	rootCmd.AddCommand(undoCmd)
}

func runRename(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags(), args)
	if err != nil {
		return &exitError{code: app.ExitConfig, err: err}
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return &exitError{code: app.ExitConfig, err: fmt.Errorf("failed to initialize logger: %w", err)}
	}
	defer log.Sync()

	renamer, err := app.New(cfg, log)
	if err != nil {
		return &exitError{code: app.ExitCode(nil, err), err: err}
	}

	summary, err := renamer.Run(cmd.Context())

	if closeErr := renamer.Close(); closeErr != nil {
		log.Error("Error closing renamer", zap.Error(closeErr))
	}

	code := app.ExitCode(summary, err)
	if summary != nil {
		if summary.Interrupted {
			log.Warn("Run cancelled", zap.Int("processed", summary.Processed()))
		}
		if writeErr := report.New(summary, code).WriteText(cmd.OutOrStdout()); writeErr != nil {
			log.Error("Failed to print summary", zap.Error(writeErr))
		}
	}

	if code != app.ExitOK {
		return &exitError{code: code, err: err}
	}
	return nil
}

func runUndo(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("journal")
	runID, _ := cmd.Flags().GetString("run")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	log, err := logger.New(level, format)
	if err != nil {
		return &exitError{code: app.ExitConfig, err: fmt.Errorf("failed to initialize logger: %w", err)}
	}
	defer log.Sync()

	if _, err := os.Stat(path); err != nil {
		return &exitError{code: app.ExitConfig, err: fmt.Errorf("journal: %w", err)}
	}

	store, err := journal.NewSQLiteStore(path)
	if err != nil {
		return &exitError{code: app.ExitFailures, err: err}
	}
	defer store.Close()

	res, err := journal.Undo(store, storage.NewLocal(), runID, dryRun, log)
	if err != nil {
		return &exitError{code: app.ExitFailures, err: err}
	}

	log.Info("Undo completed",
		zap.String("run_id", res.RunID),
		zap.Int("restored", res.Restored),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	if res.Failed > 0 {
		return &exitError{code: app.ExitFailures}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
		}
		os.Exit(exitErr.code)
	}

	// flag parsing and usage errors
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(app.ExitConfig)
}
