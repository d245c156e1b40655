package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vanderheijden86/cadview/pkg/export"
	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/model"
)

var (
	hasseOut      string
	hasseFromTree string
	hasseSelect   string
	hasseTitle    string
)

var hasseCmd = &cobra.Command{
	Use:     "hasse",
	Short:   "Work with the containment diagram",
	GroupID: "export",
}

var hasseExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render the containment diagram to SVG or PNG",
	Long: `Render the containment diagram to SVG or PNG. The graph comes from the
backend's /api/hasse, or is derived locally from a saved tree with
--from-tree.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout())
		defer cancel()

		g, tree, err := loadGraph(ctx, hasseFromTree)
		if err != nil {
			return err
		}
		title := hasseTitle
		if title == "" && tree != nil {
			title = tree.Name
		}
		opts := export.SnapshotOptions{
			Path:       hasseOut,
			Title:      title,
			Diagram:    hasse.Build(g, newLayouter()),
			SelectedID: hasseSelect,
			Kinds:      export.KindsOf(tree),
		}
		if err := export.SaveHasseSnapshot(opts); err != nil {
			return fmt.Errorf("export diagram: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d nodes, %d edges)\n", hasseOut, len(g.Nodes), len(g.Edges))
		return nil
	},
}

func init() {
	hasseExportCmd.Flags().StringVarP(&hasseOut, "out", "o", "hasse.svg", "output file (.svg or .png)")
	hasseExportCmd.Flags().StringVar(&hasseFromTree, "from-tree", "", "derive the graph from a tree JSON file instead of the backend")
	hasseExportCmd.Flags().StringVar(&hasseSelect, "select", "", "highlight this node id")
	hasseExportCmd.Flags().StringVar(&hasseTitle, "title", "", "diagram title")
	hasseCmd.AddCommand(hasseExportCmd)
}

// loadGraph returns the containment graph and, when available, the tree it
// was derived from. treePath selects a local tree file over the backend.
func loadGraph(ctx context.Context, treePath string) (*model.HasseGraph, *model.AssemblyNode, error) {
	if treePath != "" {
		tree, err := readTree(treePath)
		if err != nil {
			return nil, nil, err
		}
		return hasse.Derive(tree), tree, nil
	}
	g, err := newClient().Hasse(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch diagram: %w", err)
	}
	return g, nil, nil
}

// readTree parses a tree JSON file, either a bare node or an upload
// response carrying one.
func readTree(path string) (*model.AssemblyNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if res, err := model.ParseUpload(data); err == nil && res.Tree != nil {
		return res.Tree, nil
	}
	tree, err := model.ParseTree(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}
