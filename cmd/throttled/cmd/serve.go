package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/palmkit/throttle/internal/ratelimit"
	"github.com/palmkit/throttle/internal/server"
	"github.com/palmkit/throttle/internal/store"
	"github.com/palmkit/throttle/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	Long: `Start the HTTP service together with the background janitor that
removes stale records every CLEANUP_INTERVAL.

The service stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("failed to close store", "error", err)
		}
	}()

	srv, err := server.New(cfg, log, backend)
	if err != nil {
		return err
	}
	janitor := ratelimit.NewJanitor(srv.WindowStore(), cfg.Cleanup.Interval, cfg.Cleanup.MaxAge, ratelimit.WithLogger(log))

	log.Info("starting throttled",
		"env", cfg.App.Env,
		"backend", cfg.Store.Backend,
		"rules", len(srv.Limiter().Rules().Types()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
