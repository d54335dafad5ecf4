// Package main implements the cortex CLI — a thin command-line front
// end over the memory engine in internal/app. Each subcommand builds an
// App from the resolved config/tenant, runs one operation, and prints
// either a success summary or the taxonomy's one-line "❌ <kind>: <msg>"
// failure per §7.
//
// File Index
//
//	main.go      - entry point, rootCmd, global flags, App construction
//	cmd_add.go   - add (ingest content/conversation transcripts)
//	cmd_search.go - search (hybrid retrieval query)
//	cmd_get.go   - list, get, delete
//	cmd_layers.go - layers ensure-all|status|regenerate-oversized
//	cmd_session.go - index-session, extract-session
//	cmd_stats.go - stats, tenant list
//	cmd_serve.go - serve (HTTP surface)
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cortex/internal/app"
	"cortex/internal/config"
	"cortex/internal/cortexerr"
)

var (
	dataDir    string
	tenantID   string
	configPath string
	verbose    bool

	logger  *zap.Logger
	current *app.App
)

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "cortex - persistent memory substrate for AI agents",
	Long: `cortex is a content-addressed, URI-routed memory store for AI agents.

It organizes natural-language memories along four dimensions (user, agent,
session, resources), lazily materializes three detail layers per directory
(L0 abstract, L1 overview, L2 detail), and serves them through a hybrid
vector + full-text retrieval pipeline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		z, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = z

		abs, err := filepath.Abs(dataDir)
		if err == nil {
			dataDir = abs
		}
		cfg, err := config.Load(configPath, dataDir)
		if err != nil {
			return err
		}

		a, err := app.New(cfg, tenantID)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			_ = current.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Root data directory")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "default", "Tenant id")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "cortex.toml", "Path to the TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		addCmd,
		searchCmd,
		listCmd,
		getCmd,
		deleteCmd,
		layersCmd,
		indexSessionCmd,
		extractSessionCmd,
		statsCmd,
		tenantCmd,
		serveCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cortexerr.CLILine(err))
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the error taxonomy to the §6 exit-code contract:
// 0 success, 1 runtime failure, 2 bad arguments.
func exitCodeFor(err error) int {
	switch cortexerr.KindOf(err) {
	case cortexerr.InvalidUri, cortexerr.InvalidScheme, cortexerr.InvalidDimension, cortexerr.InvalidPath:
		return 2
	default:
		return 1
	}
}
