package main

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cortex/internal/cortexuri"
	"cortex/internal/extractor"
	"cortex/internal/session"
)

var (
	addContent    string
	addUserID     string
	addAgentID    string
	addThread     string
	addMemoryType string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Ingest content into the memory store",
	Long: `add writes --content as a durable memory. Conversation-style input
(multiline text containing "User:"/"Assistant:" prefixes) is parsed into
a session timeline instead of a single memory file.`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addContent, "content", "", "Content to ingest (required)")
	addCmd.Flags().StringVar(&addUserID, "user-id", "", "User id this memory belongs to")
	addCmd.Flags().StringVar(&addAgentID, "agent-id", "", "Agent id this memory belongs to")
	addCmd.Flags().StringVar(&addThread, "thread", "", "Session thread id for conversation input (default: a new thread)")
	addCmd.Flags().StringVar(&addMemoryType, "memory-type", "conversational", "conversational | procedural | factual")
	addCmd.MarkFlagRequired("content")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if isConversation(addContent) {
		return runAddConversation(ctx, cmd)
	}
	return runAddMemory(ctx, cmd)
}

// isConversation detects the §6 "User:"/"Assistant:" transcript shape.
func isConversation(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "User:") || strings.HasPrefix(trimmed, "Assistant:") {
			return true
		}
	}
	return false
}

func runAddConversation(ctx context.Context, cmd *cobra.Command) error {
	thread := addThread
	if thread == "" {
		thread = uuid.NewString()[:8]
	}

	for _, line := range strings.Split(addContent, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "User:"):
			if _, err := current.Sessions.AddMessage(ctx, thread, session.RoleUser, strings.TrimSpace(strings.TrimPrefix(trimmed, "User:"))); err != nil {
				return err
			}
		case strings.HasPrefix(trimmed, "Assistant:"):
			if _, err := current.Sessions.AddMessage(ctx, thread, session.RoleAssistant, strings.TrimSpace(strings.TrimPrefix(trimmed, "Assistant:"))); err != nil {
				return err
			}
		default:
			if _, err := current.Sessions.AddMessage(ctx, thread, session.RoleUser, trimmed); err != nil {
				return err
			}
		}
	}

	// CLI invocations are one-shot: the bus's asynchronous fan-in has not
	// necessarily drained by the time this process exits, so layer
	// generation and indexing for the new timeline are forced here
	// rather than left to the background watcher.
	timeline := cortexuri.SessionTimeline(thread)
	if _, _, err := current.Layers.EnsureAllLayers(ctx, timeline, 4); err != nil {
		return err
	}
	if _, err := current.Indexer.BulkIndex(ctx, timeline); err != nil {
		return err
	}

	cmd.Printf("added conversation to thread %s\n", thread)
	return nil
}

func runAddMemory(ctx context.Context, cmd *cobra.Command) error {
	mtype := extractor.MemoryType(addMemoryType)
	id := uuid.NewString()[:8]
	resource := cortexuri.ShardedResource(time.Now().UTC(), id) // YYYY-MM/DD/HH_MM_SS_<id>.md

	var uri cortexuri.URI
	switch {
	case addUserID != "":
		uri = cortexuri.UserMemories(addUserID, resource)
	case addAgentID != "":
		uri = cortexuri.AgentMemories(addAgentID, resource)
	default:
		uri = cortexuri.ResourceFile("memories", resource)
	}

	body := renderMemoryBody(addContent, mtype)
	if err := current.Layers.GenerateAllLayers(ctx, uri, []byte(body)); err != nil {
		return err
	}
	if _, err := current.Indexer.BulkIndex(ctx, uri.Parent()); err != nil {
		return err
	}

	cmd.Println(uri.String())
	return nil
}

func renderMemoryBody(content string, mtype extractor.MemoryType) string {
	return "---\nmemory_type: " + string(mtype) + "\ncreated_at: " + time.Now().UTC().Format(time.RFC3339) + "\n---\n" + content + "\n"
}
