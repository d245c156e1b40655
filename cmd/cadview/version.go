package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanderheijden86/cadview/pkg/version"
)

var versionBackend bool

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the version",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cadview %s\n", version.String())
		if !versionBackend {
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		h, err := newClient().Health(ctx)
		if err != nil {
			return fmt.Errorf("backend %s: %w", cfg.Backend.URL, err)
		}
		heavy := "enabled"
		if !h.HeavyEnabled {
			heavy = "disabled"
		}
		fmt.Fprintf(out, "backend %s: %s (STEP processing %s)\n", cfg.Backend.URL, h.Status, heavy)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionBackend, "backend-status", false, "also report the backend health")
}
