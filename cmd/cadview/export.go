package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vanderheijden86/cadview/pkg/config"
	"github.com/vanderheijden86/cadview/pkg/export"
	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/hooks"
	"github.com/vanderheijden86/cadview/pkg/model"
)

var (
	exportOut      string
	exportFromTree string
	exportStep     string
	exportSelect   string
	exportTitle    string
	exportNoFTS    bool
	exportNoHooks  bool
)

var exportCmd = &cobra.Command{
	Use:   "export [svg|png|sqlite|markdown]",
	Short: "Export the assembly tree and containment diagram",
	Long: `Export the assembly tree and containment diagram.

The tree comes from --from-tree (a saved tree or upload response) or from
uploading --step. Without either, only the backend's diagram is available,
which is enough for svg, png and sqlite. Without a format argument an
interactive wizard asks for the settings.`,
	GroupID:   "export",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{export.FormatSVG, export.FormatPNG, export.FormatSQLite, export.FormatMarkdown},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout())
		defer cancel()

		tree, err := exportTree(ctx)
		if err != nil {
			return err
		}

		var wc *export.WizardConfig
		if len(args) == 0 {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("no format given; pass one of svg, png, sqlite, markdown")
			}
			name := ""
			if tree != nil {
				name = tree.Name
			}
			wc, err = export.NewWizard(wizardConfigPath(), name).Run()
			if err != nil {
				if errors.Is(err, export.ErrCancelled) {
					return nil
				}
				return err
			}
		} else {
			wc = &export.WizardConfig{
				Format:     strings.ToLower(args[0]),
				OutputPath: exportOut,
				Title:      exportTitle,
				IncludeFTS: !exportNoFTS,
				Highlight:  exportSelect != "",
			}
			if wc.OutputPath == "" {
				wc.OutputPath = "cadview" + export.DefaultExtension(wc.Format)
			}
		}
		if wc.Title == "" && tree != nil {
			wc.Title = tree.Name
		}
		selected := ""
		if wc.Highlight {
			selected = exportSelect
		}

		ectx := hooks.ExportContext{
			ExportPath:   wc.OutputPath,
			ExportFormat: wc.Format,
			ModelName:    wc.Title,
			Timestamp:    time.Now(),
		}
		if tree != nil {
			ectx.NodeCount = tree.Count()
		}
		hx, err := hooks.Run(config.ConfigDir(), ectx, exportNoHooks)
		if err != nil {
			return fmt.Errorf("load hooks: %w", err)
		}
		if hx != nil {
			defer func() { fmt.Fprintln(cmd.ErrOrStderr(), hx.Summary()) }()
			if err := hx.RunPreExport(ctx); err != nil {
				return err
			}
		}

		if err := runExport(ctx, wc, tree, selected); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", wc.OutputPath)

		if hx != nil {
			return hx.RunPostExport(ctx)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default cadview.<ext>)")
	exportCmd.Flags().StringVar(&exportFromTree, "from-tree", "", "tree JSON file to export")
	exportCmd.Flags().StringVar(&exportStep, "step", "", "upload this STEP file and export the result")
	exportCmd.Flags().StringVar(&exportSelect, "select", "", "highlight this node id")
	exportCmd.Flags().StringVar(&exportTitle, "title", "", "title stored in the export")
	exportCmd.Flags().BoolVar(&exportNoFTS, "no-fts", false, "skip the SQLite full-text index")
	exportCmd.Flags().BoolVar(&exportNoHooks, "no-hooks", false, "skip the export hooks in hooks.yaml")
	exportCmd.MarkFlagsMutuallyExclusive("from-tree", "step")
}

func wizardConfigPath() string {
	dir := config.StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "export-wizard.json")
}

func exportTree(ctx context.Context) (*model.AssemblyNode, error) {
	switch {
	case exportFromTree != "":
		return readTree(exportFromTree)
	case exportStep != "":
		res, err := newClient().Upload(ctx, exportStep)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", exportStep, err)
		}
		if !res.OK() || res.Tree == nil {
			return nil, fmt.Errorf("backend rejected %s: %s", exportStep, res.Message)
		}
		return res.Tree, nil
	}
	return nil, nil
}

// exportDiagram lays out the graph of tree, or the backend's graph when no
// tree is at hand.
func exportDiagram(ctx context.Context, tree *model.AssemblyNode) (*hasse.Diagram, error) {
	var g *model.HasseGraph
	if tree != nil {
		g = hasse.Derive(tree)
	} else {
		var err error
		if g, err = newClient().Hasse(ctx); err != nil {
			return nil, fmt.Errorf("fetch diagram: %w", err)
		}
	}
	return hasse.Build(g, newLayouter()), nil
}

func runExport(ctx context.Context, wc *export.WizardConfig, tree *model.AssemblyNode, selected string) error {
	switch wc.Format {
	case export.FormatMarkdown:
		if tree == nil {
			return errors.New("markdown export needs a tree; pass --from-tree or --step")
		}
		opts := export.MarkdownOptions{Title: wc.Title, Graph: hasse.Derive(tree), SelectedID: selected}
		return export.SaveMarkdownToFile(tree, opts, wc.OutputPath)

	case export.FormatSQLite:
		d, err := exportDiagram(ctx, tree)
		if err != nil {
			return err
		}
		e := export.NewSQLiteExporter(tree, d)
		e.BackendURL = cfg.Backend.URL
		e.Config.Title = wc.Title
		e.Config.IncludeFTS = wc.IncludeFTS
		return e.Export(ctx, wc.OutputPath)

	case export.FormatSVG, export.FormatPNG:
		d, err := exportDiagram(ctx, tree)
		if err != nil {
			return err
		}
		return export.SaveHasseSnapshot(export.SnapshotOptions{
			Path:       wc.OutputPath,
			Format:     wc.Format,
			Title:      wc.Title,
			Diagram:    d,
			SelectedID: selected,
			Kinds:      export.KindsOf(tree),
		})
	}
	return fmt.Errorf("unknown export format %q", wc.Format)
}
