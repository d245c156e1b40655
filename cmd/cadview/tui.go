package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/vanderheijden86/cadview/pkg/app"
	"github.com/vanderheijden86/cadview/pkg/config"
	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/metrics"
	"github.com/vanderheijden86/cadview/pkg/ui"
	"github.com/vanderheijden86/cadview/pkg/viewer"
	"github.com/vanderheijden86/cadview/pkg/voice"
	"github.com/vanderheijden86/cadview/pkg/watcher"
)

var watchPath string

var tuiCmd = &cobra.Command{
	Use:     "tui",
	Short:   "Start the terminal client (default)",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("the terminal client needs a TTY; use \"cadview serve\" for a browser view")
		}
		if !debug.Enabled() {
			// The alt screen hides stderr; keep warnings in the state dir.
			if path := config.LogPath(); path != "" {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
					if err := debug.Init(path); err != nil {
						fmt.Fprintf(os.Stderr, "cadview: logging disabled: %v\n", err)
					}
				}
			}
		}

		client := newClient()
		shell := app.New(client)

		opts := ui.Options{
			Viewer:     viewer.New(client),
			Hasse:      client,
			Layouter:   newLayouter(),
			Voice:      voice.NewPanel(voice.NewExecRecorder(cfg.Voice.Command, cfg.Voice.Args), client),
			SplitRatio: cfg.UI.SplitRatio,
		}
		if cfg.ShouldPersistTreeState() {
			opts.TreeStatePath = config.TreeStatePath()
		}
		if watchPath != "" {
			w, err := watcher.New(watchPath, watcher.WithOnError(func(err error) {
				debug.Logger().Warn("watch", zap.String("path", watchPath), zap.Error(err))
			}))
			if err != nil {
				return fmt.Errorf("watch %s: %w", watchPath, err)
			}
			opts.Watcher = w
			opts.PickerDir = filepath.Dir(w.Path())
		}

		m := ui.NewModel(shell, opts)
		defer m.Close()
		defer logMetrics()
		return runTUIProgram(m)
	},
}

// logMetrics writes the session's timing and cache statistics to the log.
func logMetrics() {
	snap := metrics.Take()
	log := debug.Logger()
	for _, t := range snap.Timings {
		log.Info("timing",
			zap.String("name", t.Name),
			zap.Int64("count", t.Count),
			zap.Float64("avg_ms", t.AvgMs),
			zap.Float64("max_ms", t.MaxMs))
	}
	for _, c := range snap.Caches {
		log.Info("cache", zap.String("name", c.Name), zap.Int64("hits", c.Hits), zap.Int64("misses", c.Misses))
	}
}

func init() {
	tuiCmd.Flags().StringVar(&watchPath, "watch", "", "re-upload this STEP file whenever it is saved")
}

func runTUIProgram(m ui.Model) error {
	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)

	runDone := make(chan struct{})
	defer close(runDone)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-runDone:
			return
		case <-sigCh:
		}

		p.Quit()

		select {
		case <-runDone:
			return
		case <-sigCh:
		case <-time.After(5 * time.Second):
		}

		p.Kill()
	}()

	// Optional auto-quit for scripted runs: set CADVIEW_TUI_AUTOCLOSE_MS.
	if v := os.Getenv("CADVIEW_TUI_AUTOCLOSE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			go func() {
				timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
				defer timer.Stop()
				select {
				case <-runDone:
				case <-timer.C:
					p.Quit()
				}
			}()
		}
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("running terminal client: %w", err)
	}
	return nil
}
