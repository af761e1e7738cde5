package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dobutsu/internal/engine"
	"dobutsu/internal/storage"
)

func main() {
	var (
		m       match
		budget  time.Duration
		dbPath  string
		verbose bool
	)
	flag.StringVar(&m.A, "a", "minimax", "First strategy")
	flag.StringVar(&m.B, "b", "random", "Second strategy")
	flag.IntVar(&m.Games, "games", 10, "Number of games; colours alternate")
	flag.IntVar(&m.Parallel, "parallel", runtime.NumCPU(), "Games played at once")
	flag.DurationVar(&budget, "budget", 200*time.Millisecond, "Time budget per move")
	flag.IntVar(&m.Settings.MaxDepth, "depth", engine.DefaultMaxDepth, "Minimax depth limit")
	flag.IntVar(&m.Settings.Simulations, "sims", 500, "Monte Carlo simulations per move")
	flag.IntVar(&m.Settings.Workers, "workers", 1, "Monte Carlo workers per move")
	flag.Uint64Var(&m.Settings.Seed, "seed", 0, "Seed for the randomized strategies; 0 picks one")
	flag.StringVar(&dbPath, "db", "", "Record finished games into this SQLite database")
	flag.BoolVar(&verbose, "v", false, "Log every game")
	flag.Parse()
	m.Settings.TimeBudget = budget

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dbPath != "" {
		store, err := storage.Open(dbPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open database")
		}
		defer store.Close()
		m.Recorder = store
	}

	start := time.Now()
	t, err := run(ctx, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("arena failed")
	}
	fmt.Printf("%s vs %s: %d games in %s\n", m.A, m.B, t.Games(), time.Since(start).Round(time.Millisecond))
	fmt.Printf("  %-12s %d wins\n", m.A, t.AWins)
	fmt.Printf("  %-12s %d wins\n", m.B, t.BWins)
	fmt.Printf("  draws        %d\n", t.Draws)
	fmt.Printf("  unfinished   %d\n", t.Unfinished)
	if n := t.Games(); n > 0 {
		fmt.Printf("  avg plies    %.1f\n", float64(t.Plies)/float64(n))
	}
}
