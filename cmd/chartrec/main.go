package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chartrec/internal/config"
	"chartrec/internal/logging"
)

// Exit codes: the caller distinguishes a clean reconstruction from one that
// finished but needs a human, from one that could not finish at all.
const (
	exitOK           = 0
	exitFatal        = 1
	exitManualReview = 2
)

var (
	// Global flags
	cfgPath   string
	workspace string
	verbose   bool

	cfg    *config.Config
	logger *zap.Logger

	exitCode = exitOK
)

var rootCmd = &cobra.Command{
	Use:   "chartrec",
	Short: "chartrec - tiered clinical chart reconstruction",
	Long: `chartrec reconstructs a subject's clinical facts from heterogeneous
read-only sources. Cheap deterministic rules run first, an LLM reasoning tier
covers what rules cannot, and a bounded investigation engine chases whatever
is still missing. Every value carries full source provenance and an
adjudication rationale.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if workspace != "" {
			cfg.Workspace = workspace
		}

		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return logging.Initialize(cfg.Workspace, cfg.Logging)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "chartrec.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd, statusCmd, cleanCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		exitCode = exitFatal
	}
	os.Exit(exitCode)
}
