package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"dobutsu/internal/config"
)

const statsInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := NewBotManager(cfg, logger)
	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start bot manager")
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := manager.GetStats()
			logger.Info().Int("total", stats["total"]).Int("waiting", stats["waiting"]).
				Int("in_game", stats["in_game"]).Int("disconnected", stats["disconnected"]).Msg("pool stats")
		case <-ctx.Done():
			logger.Info().Msg("shutting down bot-hoster")
			manager.Stop()
			return
		}
	}
}
