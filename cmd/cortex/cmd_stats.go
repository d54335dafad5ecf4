package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cortex/internal/vectorstore"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report vector store, full-text, and backend health for this tenant",
	RunE:  runStats,
}

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenants found under --data-dir",
	RunE:  runTenantList,
}

func init() {
	tenantCmd.AddCommand(tenantListCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	points, err := current.Vectors.List(ctx, vectorstore.Filter{}, 0)
	if err != nil {
		return err
	}
	byLayer := map[vectorstore.Layer]int{}
	for _, p := range points {
		byLayer[p.Layer]++
	}

	docs, ftErr := current.Fulltext.Stats()
	vecHealth := current.Vectors.HealthCheck(ctx)

	cmd.Printf("tenant: %s\n", current.TenantID)
	cmd.Printf("vector points: %d (L0=%d L1=%d L2=%d)\n", len(points), byLayer[vectorstore.L0], byLayer[vectorstore.L1], byLayer[vectorstore.L2])
	if vecHealth != nil {
		cmd.Printf("vector store: unhealthy (%v)\n", vecHealth)
	} else {
		cmd.Printf("vector store: healthy\n")
	}
	if ftErr != nil {
		cmd.Printf("fulltext: unavailable (%v)\n", ftErr)
	} else {
		cmd.Printf("fulltext documents: %d\n", docs)
	}
	return nil
}

func runTenantList(cmd *cobra.Command, args []string) error {
	root := filepath.Join(dataDir, "tenants")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			cmd.Println("no tenants")
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			cmd.Println(e.Name())
		}
	}
	return nil
}
