package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vanderheijden86/cadview/pkg/export"
	"github.com/vanderheijden86/cadview/pkg/model"
)

var (
	uploadYes  bool
	uploadJSON bool
)

var uploadCmd = &cobra.Command{
	Use:     "upload FILE",
	Short:   "Upload a STEP file and print its assembly tree",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !uploadYes && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := export.ConfirmUpload(path); err != nil {
				if errors.Is(err, export.ErrCancelled) {
					fmt.Fprintln(cmd.ErrOrStderr(), "Upload cancelled.")
					return nil
				}
				return err
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout())
		defer cancel()
		res, err := newClient().Upload(ctx, path)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		if !res.OK() {
			msg := res.Message
			if msg == "" {
				msg = res.Status
			}
			return fmt.Errorf("backend rejected %s: %s", path, msg)
		}

		out := cmd.OutOrStdout()
		if uploadJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Tree)
		}
		if res.Message != "" {
			fmt.Fprintln(out, res.Message)
		}
		printTree(out, res.Tree)
		return nil
	},
}

func init() {
	uploadCmd.Flags().BoolVarP(&uploadYes, "yes", "y", false, "upload without asking")
	uploadCmd.Flags().BoolVar(&uploadJSON, "json", false, "print the tree as JSON")
}

var kindStyles = map[model.Kind]lipgloss.Style{
	model.KindAssembly: lipgloss.NewStyle().Foreground(lipgloss.Color("#BD93F9")).Bold(true),
	model.KindPart:     lipgloss.NewStyle().Foreground(lipgloss.Color("#4C9AFF")),
	model.KindShell:    lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")),
	model.KindFace:     lipgloss.NewStyle().Foreground(lipgloss.Color("#57D9A3")),
}

// printTree writes an indented outline of tree.
func printTree(w io.Writer, tree *model.AssemblyNode) {
	if tree == nil {
		fmt.Fprintln(w, "(no tree)")
		return
	}
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	tree.Walk(func(n *model.AssemblyNode, depth int) bool {
		style, ok := kindStyles[n.Kind]
		if !ok {
			style = lipgloss.NewStyle()
		}
		fmt.Fprintf(w, "%s%s %s\n", strings.Repeat("  ", depth), style.Render(n.Name), muted.Render("("+string(n.Kind)+", "+n.ID+")"))
		return true
	})
}
