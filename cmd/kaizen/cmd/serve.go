package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/server"
	"github.com/hyperjump/kaizen/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			c, err := initializeComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch || cfg.Watch.Enabled {
				w, err := startWatcher(ctx, c)
				if err != nil {
					return err
				}
				defer w.Stop()
			}

			srv := server.NewServer(c.Engine, c.Source, c.Catalog, c.Artifacts, cfg, logger,
				server.WithMetrics(c.Metrics))
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("server shutdown failed", zap.Error(err))
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reconcile automatically when the corpus changes")
	return cmd
}

// startWatcher watches the corpus directory and queues an initial reconcile
// through the watcher, so it never overlaps an event-driven one.
func startWatcher(ctx context.Context, c *Components) (*watcher.Watcher, error) {
	onChange := c.reconcileOnChange(c.Config.Reconcile.Version)
	w := watcher.New(c.Source.Root(), onChange,
		watcher.WithDebounce(c.Config.Watch.Debounce),
		watcher.WithRecursive(c.Config.Corpus.RecursiveOrDefault()),
		watcher.WithFilter(c.Source.Accepts),
		watcher.WithLogger(c.Logger),
	)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	c.Logger.Info("watching corpus", zap.String("directory", c.Source.Root()), zap.String("version", c.Config.Reconcile.Version))
	w.Trigger()
	return w, nil
}
