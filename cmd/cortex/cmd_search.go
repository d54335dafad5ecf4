package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"cortex/internal/cortexuri"
)

var (
	searchQuery   string
	searchUserID  string
	searchAgentID string
	searchTopics  []string
	searchLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Hybrid-search the memory store",
	Long: `search runs the hybrid vector + full-text retrieval pipeline. Without
--query it degenerates to a filtered listing of the scoped dimension.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchQuery, "query", "", "Query text")
	searchCmd.Flags().StringVar(&searchUserID, "user-id", "", "Restrict to cortex://user/<id>")
	searchCmd.Flags().StringVar(&searchAgentID, "agent-id", "", "Restrict to cortex://agent/<id>")
	searchCmd.Flags().StringSliceVar(&searchTopics, "topics", nil, "Additional topic keywords, appended to the query text")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum number of results")
}

func searchScope() string {
	switch {
	case searchUserID != "":
		return cortexuri.UserMemories(searchUserID).String()
	case searchAgentID != "":
		return cortexuri.AgentMemories(searchAgentID).String()
	default:
		return ""
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	query := searchQuery
	if len(searchTopics) > 0 {
		query = strings.TrimSpace(query + " " + strings.Join(searchTopics, " "))
	}
	if query == "" {
		return runSearchAsList(ctx, cmd)
	}

	resp, err := current.Retrieval.Query(ctx, query, searchScope(), searchLimit)
	if err != nil {
		return err
	}
	if resp.Unavailable.VectorStore || resp.Unavailable.Fulltext {
		cmd.PrintErrf("warning: degraded results (vector_store_unavailable=%v fulltext_unavailable=%v)\n",
			resp.Unavailable.VectorStore, resp.Unavailable.Fulltext)
	}
	if len(resp.Results) == 0 {
		cmd.Println("no results")
		return nil
	}
	for _, r := range resp.Results {
		cmd.Printf("%.4f  %-5s %s\n", r.Score, r.Layer, r.URI)
		if r.Excerpt != "" {
			cmd.Printf("        %s\n", r.Excerpt)
		}
	}
	return nil
}

// runSearchAsList implements "without --query, degenerates to a filtered
// list" (§6): list the scoped dimension's memory directory recursively.
func runSearchAsList(ctx context.Context, cmd *cobra.Command) error {
	var scope cortexuri.URI
	switch {
	case searchUserID != "":
		scope = cortexuri.UserMemories(searchUserID)
	case searchAgentID != "":
		scope = cortexuri.AgentMemories(searchAgentID)
	default:
		scope = cortexuri.URI{Dimension: cortexuri.DimResources}
	}

	entries, err := current.FS.ListMarkdownFilesRecursive(ctx, scope)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		cmd.Println("no results")
		return nil
	}
	for _, e := range entries {
		cmd.Println(e.URI.String())
	}
	return nil
}
