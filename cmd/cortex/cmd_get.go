package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cortex/internal/cortexuri"
	"cortex/internal/layer"
)

var listHidden bool

var listCmd = &cobra.Command{
	Use:   "list <cortex-uri>",
	Short: "List the entries of a directory URI",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

var getLayer string

var getCmd = &cobra.Command{
	Use:   "get <cortex-uri>",
	Short: "Print a layer's content for a URI",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <cortex-uri>",
	Short: "Delete a resource and invalidate its directory's L0/L1 layers",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	listCmd.Flags().BoolVar(&listHidden, "hidden", false, "Include .abstract.md/.overview.md entries")
	getCmd.Flags().StringVar(&getLayer, "layer", "l2", "l0 | l1 | l2")
}

func runList(cmd *cobra.Command, args []string) error {
	u, err := cortexuri.Parse(args[0])
	if err != nil {
		return err
	}
	entries, err := current.FS.List(u, listHidden)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		cmd.Println("empty")
		return nil
	}
	for _, e := range entries {
		kind := "file"
		if e.IsDirectory {
			kind = "dir "
		}
		cmd.Printf("%s  %8d  %s\n", kind, e.Size, e.Name)
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := cortexuri.Parse(args[0])
	if err != nil {
		return err
	}
	kind, err := parseLayerKind(getLayer)
	if err != nil {
		return err
	}
	text, err := current.Layers.ReadLayer(ctx, u, kind)
	if err != nil {
		return err
	}
	cmd.Println(text)
	return nil
}

func parseLayerKind(s string) (layer.Kind, error) {
	switch s {
	case "l0", "L0":
		return layer.L0, nil
	case "l1", "L1":
		return layer.L1, nil
	case "l2", "L2", "":
		return layer.L2, nil
	default:
		return layer.L2, fmt.Errorf("unknown layer %q: want l0, l1, or l2", s)
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := cortexuri.Parse(args[0])
	if err != nil {
		return err
	}

	if err := current.FS.Delete(u); err != nil {
		return err
	}
	if err := current.Indexer.DeleteURI(ctx, u); err != nil {
		return err
	}
	if err := current.Layers.InvalidateDirectory(u.Parent()); err != nil {
		return err
	}

	cmd.Printf("deleted %s\n", u.String())
	return nil
}
