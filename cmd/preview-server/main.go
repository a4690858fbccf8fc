// Command preview-server is a mock preview backend: it serves the session
// API and terminal streams for sessions driven by a lifecycle simulator.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/agent-racer/preview/internal/config"
	"github.com/agent-racer/preview/internal/server"
)

func main() {
	configPath := pflag.StringP("config", "c", "preview.yaml", "path to config file")
	port := pflag.IntP("port", "p", 0, "override listen port")
	token := pflag.String("token", "", "require this bearer token (overrides server.token)")
	seed := pflag.Int("seed", -1, "number of demo sessions to create (overrides mock.seed_sessions)")
	failureRate := pflag.Float64("failure-rate", -1, "chance a session fails to start (overrides mock.failure_rate)")
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Listen.Port = *port
	}
	if *token != "" {
		cfg.Server.Token = *token
	}
	if *seed >= 0 {
		cfg.Mock.SeedSessions = *seed
	}
	if *failureRate >= 0 {
		cfg.Mock.FailureRate = *failureRate
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level, _ := cfg.Log.ParseLevel()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	store := server.NewStore()
	hub := server.NewHub(logger.With().Str("component", "hub").Logger())
	sim := server.NewSimulator(store, hub, server.SimulatorOptions{
		Tick:        cfg.Mock.Tick,
		FailureRate: cfg.Mock.FailureRate,
		Logger:      logger.With().Str("component", "simulator").Logger(),
	})
	if err := sim.Seed(cfg.Mock.SeedSessions); err != nil {
		logger.Fatal().Err(err).Msg("seed sessions")
	}

	srv := &http.Server{
		Addr:              cfg.Listen.Addr(),
		Handler:           server.New(store, hub, cfg.Server.Token, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sim.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Int("sessions", cfg.Mock.SeedSessions).
			Bool("auth", cfg.Server.Token != "").
			Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
