package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vanderheijden86/cadview/internal/demobackend"
)

var (
	demoAddr     string
	demoDisabled bool
	demoCells    int
)

var demoBackendCmd = &cobra.Command{
	Use:   "demo-backend",
	Short: "Run a stand-in backend serving a procedural robot arm",
	Long: `Run a stand-in for the CAD assistant backend. Any uploaded file loads a
procedurally built robot arm; voice recordings that contain plain text are
taken as their transcript (scale, move, delete, questions).`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := []demobackend.Option{demobackend.WithMeshCells(demoCells)}
		if demoDisabled {
			opts = append(opts, demobackend.WithDisabled())
		}
		ln, err := net.Listen("tcp", demoAddr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Demo backend on http://%s\n", ln.Addr())
		return serveHTTP(ctx, ln, demobackend.New(opts...).Handler())
	},
}

func init() {
	demoBackendCmd.Flags().StringVar(&demoAddr, "addr", "127.0.0.1:8000", "listen address")
	demoBackendCmd.Flags().BoolVar(&demoDisabled, "disabled", false, "refuse uploads and voice like a hosted demo")
	demoBackendCmd.Flags().IntVar(&demoCells, "cells", 48, "marching cubes resolution per part")
}
