package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vanderheijden86/cadview/internal/demobackend"
	"github.com/vanderheijden86/cadview/pkg/app"
	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/viewer"
	"github.com/vanderheijden86/cadview/pkg/web"
)

var (
	serveAddr string
	serveStep string
	serveDemo bool
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve a browser view that mirrors the selection",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := serveAddr
		if addr == "" {
			addr = cfg.Serve.Addr
		}

		g, ctx := errgroup.WithContext(ctx)
		if serveDemo {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return fmt.Errorf("demo backend: %w", err)
			}
			cfg.Backend.URL = "http://" + ln.Addr().String()
			g.Go(func() error { return serveHTTP(ctx, ln, demobackend.New().Handler()) })
		}

		client := newClient()
		shell := app.New(client)
		srv := web.New(shell, client, web.WithLayouter(newLayouter()), web.WithViewer(viewer.New(client)))

		g.Go(func() error {
			err := srv.ListenAndServe(ctx, addr, func(a net.Addr) {
				fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (backend %s)\n", a, cfg.Backend.URL)
			})
			if errors.Is(err, web.ErrClosed) {
				return nil
			}
			return err
		})

		if serveStep != "" {
			g.Go(func() error {
				upCtx, cancel := context.WithTimeout(ctx, requestTimeout())
				defer cancel()
				if err := shell.UploadModel(upCtx, serveStep); err != nil {
					// The page shows the failure; keep serving.
					debug.Logger().Warn("initial upload failed", zap.String("path", serveStep), zap.Error(err))
				}
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	serveCmd.Flags().StringVar(&serveStep, "step", "", "upload this STEP file on start")
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "run against an in-process demo backend")
}

// serveHTTP serves h on ln until ctx is done.
func serveHTTP(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
