// Command cadview is a terminal and browser client for the CAD assistant
// backend: assembly tree, model preview, containment diagram and voice
// commands.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanderheijden86/cadview/pkg/backend"
	"github.com/vanderheijden86/cadview/pkg/config"
	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/layout"
)

var (
	configPath string
	backendURL string
	debugLog   bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cadview",
	Short: "Browse CAD assemblies served by the CAD assistant backend",
	Long: `cadview shows the assembly tree, a shaded preview of the model and the
containment diagram of a STEP file processed by the CAD assistant backend.
Without a subcommand it starts the terminal client.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFrom(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if backendURL != "" {
			cfg.Backend.URL = backendURL
		}
		if debugLog {
			if err := debug.Init(os.Getenv("CADVIEW_LOG_FILE")); err != nil {
				return fmt.Errorf("init debug log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		debug.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return tuiCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "backend base URL (overrides config and "+config.EnvBackendURL+")")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "write debug logs to stderr or $CADVIEW_LOG_FILE")
	rootCmd.Flags().StringVar(&watchPath, "watch", "", "re-upload this STEP file whenever it is saved")

	rootCmd.AddGroup(
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "export", Title: "Export:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false

	// Views
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uploadCmd)

	// Export
	rootCmd.AddCommand(hasseCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(exportCmd)

	// System
	rootCmd.AddCommand(demoBackendCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newClient returns a backend client for the configured URL.
func newClient() *backend.Client {
	return backend.New(cfg.Backend.URL, backend.WithTimeout(cfg.Backend.Timeout))
}

// newLayouter returns the diagram layouter tuned by the layout config.
func newLayouter() *layout.Layered {
	l := cfg.Layout
	dir := layout.BottomToTop
	if strings.EqualFold(l.Direction, string(layout.TopToBottom)) {
		dir = layout.TopToBottom
	}
	return layout.NewLayered(
		layout.WithNodeSep(l.NodeSep),
		layout.WithRankSep(l.RankSep),
		layout.WithNodeSize(l.NodeWidth, l.NodeHeight),
		layout.WithDirection(dir),
	)
}

// requestTimeout bounds one-shot commands that talk to the backend.
func requestTimeout() time.Duration {
	if cfg.Backend.Timeout > 0 {
		return cfg.Backend.Timeout
	}
	return time.Minute
}
