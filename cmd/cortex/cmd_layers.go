package main

import (
	"context"

	"github.com/spf13/cobra"

	"cortex/internal/cortexuri"
)

var layersScope string
var layersConcurrency int
var layersMaxAbstractBytes int

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Manage L0/L1 layer materialization",
}

var layersEnsureAllCmd = &cobra.Command{
	Use:   "ensure-all",
	Short: "Generate any missing L0/L1 layers under --scope",
	RunE:  runLayersEnsureAll,
}

var layersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report which directories under --scope are missing L0/L1",
	RunE:  runLayersStatus,
}

var layersRegenerateOversizedCmd = &cobra.Command{
	Use:   "regenerate-oversized",
	Short: "Re-synthesize any .abstract.md over --max-bytes",
	RunE:  runLayersRegenerateOversized,
}

func init() {
	layersCmd.PersistentFlags().StringVar(&layersScope, "scope", "cortex://resources", "cortex-uri scope to operate on")
	layersEnsureAllCmd.Flags().IntVar(&layersConcurrency, "concurrency", 8, "Bounded fan-out")
	layersRegenerateOversizedCmd.Flags().IntVar(&layersMaxAbstractBytes, "max-bytes", 400, "Abstract size ceiling in bytes")

	layersCmd.AddCommand(layersEnsureAllCmd, layersStatusCmd, layersRegenerateOversizedCmd)
}

func runLayersEnsureAll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	scope, err := cortexuri.Parse(layersScope)
	if err != nil {
		return err
	}
	generated, failed, err := current.Layers.EnsureAllLayers(ctx, scope, layersConcurrency)
	if err != nil {
		return err
	}
	cmd.Printf("generated=%d failed=%d\n", generated, failed)
	return nil
}

func runLayersStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	scope, err := cortexuri.Parse(layersScope)
	if err != nil {
		return err
	}
	var missing int
	walkErr := current.FS.WalkDirectories(ctx, scope, 0, func(dir cortexuri.URI) error {
		files, err := current.FS.ListMarkdownFiles(dir)
		if err != nil || len(files) == 0 {
			return nil
		}
		hasL0 := current.FS.Exists(dir.Abstract())
		hasL1 := current.FS.Exists(dir.Overview())
		if hasL0 && hasL1 {
			return nil
		}
		missing++
		cmd.Printf("%s  l0=%v l1=%v\n", dir.String(), hasL0, hasL1)
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	if missing == 0 {
		cmd.Println("all directories have L0/L1")
	}
	return nil
}

func runLayersRegenerateOversized(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	scope, err := cortexuri.Parse(layersScope)
	if err != nil {
		return err
	}
	regenerated, err := current.Layers.RegenerateOversizedAbstracts(ctx, scope, layersMaxAbstractBytes)
	if err != nil {
		return err
	}
	cmd.Printf("regenerated=%d\n", regenerated)
	return nil
}
