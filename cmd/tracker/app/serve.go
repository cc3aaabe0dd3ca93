package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/99minutos/tracking-sync/internal/api"
	"github.com/99minutos/tracking-sync/internal/core/service"
	"github.com/99minutos/tracking-sync/internal/infrastructure/queue"
	"github.com/99minutos/tracking-sync/internal/pkg/config"
	"github.com/99minutos/tracking-sync/pkg/logger"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the polling loop",
		Long: `Start the tracking API and the background poller. Every stored record
that still needs polling is scheduled on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg := config.Load()
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	serveLog := logger.Component("serve")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx, cfg, log)
	if err != nil {
		serveLog.Error().Err(err).Msg("startup failed")
		return err
	}
	defer c.close(context.Background(), log)

	poller := service.NewPoller(c.syncer, c.sched, nil, log)
	lanes := queue.NewLanes(c.lanes, poller.Poll, log)
	runner := service.NewRunner(service.RunnerConfig{
		Tick:          cfg.Scheduler.Tick,
		TerminalGrace: cfg.Scheduler.TerminalGrace,
	}, c.sched, lanes, c.store, log)

	e := api.NewRouter(api.Deps{
		Tracking:    service.NewTrackingService(c.store, c.syncer, c.sched, nil, log,
			service.WithDefaultCheckFrequency(cfg.Scheduler.DefaultCheckFrequency)),
		StoreHealth: c.health,
		Pingers:     c.pingers,
		JWTSecret:   cfg.JWTSecret,
		Log:         log,
	})

	// The sink outlives the pollers so triggers emitted during shutdown are
	// still delivered.
	sinkCtx, stopSink := context.WithCancel(context.Background())
	sinkDone := make(chan error, 1)
	go func() { sinkDone <- c.sink.Run(sinkCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lanes.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		serveLog.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.StoreBackend).
			Strs("carriers", carrierNames(c)).
			Msg("tracking sync started")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	stopSink()
	if sinkErr := <-sinkDone; sinkErr != nil && !errors.Is(sinkErr, context.Canceled) {
		serveLog.Warn().Err(sinkErr).Msg("trigger sink stopped")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		serveLog.Error().Err(err).Msg("tracking sync stopped with error")
		return err
	}
	serveLog.Info().Msg("tracking sync stopped")
	return nil
}

func carrierNames(c *components) []string {
	enabled := c.registry.Enabled()
	out := make([]string, len(enabled))
	for i, id := range enabled {
		out[i] = string(id)
	}
	return out
}
