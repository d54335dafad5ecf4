package main

import (
	"context"

	"github.com/spf13/cobra"

	"cortex/internal/cortexuri"
)

var indexSessionThread string

var indexSessionCmd = &cobra.Command{
	Use:   "index-session <thread>",
	Short: "Force L0/L1 generation and indexing for a session's timeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexSession,
}

var (
	extractThread   string
	extractUserID   string
	extractAgentID  string
	extractAutoSave bool
)

var extractSessionCmd = &cobra.Command{
	Use:   "extract-session <thread>",
	Short: "Run LLM extraction over a session's timeline",
	Long: `extract-session runs the facts/decisions/action-items/preferences/
learnings extraction pipeline over a thread's messages. Persistence through
the dedup/Updater pipeline only happens when --auto-save is set (off by
default).`,
	Args: cobra.ExactArgs(1),
	RunE: runExtractSession,
}

func init() {
	extractSessionCmd.Flags().StringVar(&extractUserID, "user-id", "", "User id owning any persisted preference/fact items")
	extractSessionCmd.Flags().StringVar(&extractAgentID, "agent-id", "", "Agent id owning any persisted learning items")
	extractSessionCmd.Flags().BoolVar(&extractAutoSave, "auto-save", false, "Persist extracted items through the dedup/Updater pipeline")
}

func runIndexSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	thread := args[0]
	timeline := cortexuri.SessionTimeline(thread)

	if _, _, err := current.Layers.EnsureAllLayers(ctx, timeline, 8); err != nil {
		return err
	}
	stats, err := current.Indexer.BulkIndex(ctx, timeline)
	if err != nil {
		return err
	}
	cmd.Printf("indexed=%d skipped=%d errors=%d\n", stats.TotalIndexed, stats.TotalSkipped, stats.TotalErrors)
	return nil
}

func runExtractSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	thread := args[0]

	result, stats, err := current.Extractor.ExtractSession(ctx, thread, extractUserID, extractAgentID, extractAutoSave)
	if err != nil {
		return err
	}

	cmd.Printf("facts=%d decisions=%d action_items=%d preferences=%d learnings=%d below_confidence=%d\n",
		stats.Facts, stats.Decisions, stats.ActionItems, stats.Preferences, stats.Learnings, stats.BelowConfidence)

	if extractAutoSave {
		cmd.Printf("persisted=%d\n", stats.Persisted)
		for action, count := range stats.Actions {
			cmd.Printf("  %s: %d\n", action, count)
		}
		return nil
	}

	for _, it := range result.All() {
		cmd.Printf("[%s/%s %.2f] %s\n", it.Category, it.Type, it.Confidence, it.Text())
	}
	return nil
}
