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
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"dobutsu/internal/config"
	"dobutsu/internal/engine"
	"dobutsu/internal/relay"
	"dobutsu/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)
	log.Logger = logger

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	store, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	settings := cfg.EngineSettings()
	hub := relay.NewHub(relay.Config{
		Recorder: store,
		Users:    store,
		NewStrategy: func(name string) (engine.Strategy, error) {
			return engine.New(name, settings)
		},
		DefaultStrategy: cfg.Strategy,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(hub, newAPI(store, logger), cfg.StaticDir, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("static", cfg.StaticDir).Str("strategy", cfg.Strategy).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
