// Package config reads process settings from the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"golang.org/x/exp/constraints"

	"dobutsu/internal/engine"
)

type Config struct {
	Addr      string
	DBPath    string
	StaticDir string
	LogLevel  zerolog.Level
	LogFormat string

	Strategy    string
	TimeBudget  time.Duration
	MaxDepth    int
	Simulations int
	Workers     int

	BackendURL string
	PoolSize   int
}

// Load reads every setting, falling back to defaults for unset variables.
// Numbers outside their range are clamped; malformed values are errors.
func Load() (*Config, error) {
	c := &Config{
		Addr:       getEnv("ADDR", ":8080"),
		DBPath:     getEnv("DB_PATH", "data/dobutsu.db"),
		StaticDir:  getEnv("STATIC_DIR", "./public"),
		LogFormat:  strings.ToLower(getEnv("LOG_FORMAT", "auto")),
		Strategy:   strings.ToLower(getEnv("AI_STRATEGY", "minimax")),
		BackendURL: getEnv("BACKEND_URL", "ws://localhost:8080/ws"),
	}

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	c.LogLevel = level

	if !slices.Contains(engine.Names, c.Strategy) {
		return nil, fmt.Errorf("AI_STRATEGY: unknown strategy %q", c.Strategy)
	}
	switch c.LogFormat {
	case "auto", "console", "json":
	default:
		return nil, fmt.Errorf("LOG_FORMAT: want auto, console or json, got %q", c.LogFormat)
	}

	budgetMS, err := getInt("AI_TIME_BUDGET_MS", 5000, 50, 60000)
	if err != nil {
		return nil, err
	}
	c.TimeBudget = time.Duration(budgetMS) * time.Millisecond

	if c.MaxDepth, err = getInt("AI_MAX_DEPTH", engine.DefaultMaxDepth, 1, 20); err != nil {
		return nil, err
	}
	if c.Simulations, err = getInt("AI_SIMULATIONS", engine.DefaultSimulations, 1, 1_000_000); err != nil {
		return nil, err
	}
	if c.Workers, err = getInt("AI_WORKERS", 1, 1, 64); err != nil {
		return nil, err
	}
	if c.PoolSize, err = getInt("BOT_POOL_SIZE", 10, 0, 1000); err != nil {
		return nil, err
	}
	return c, nil
}

// EngineSettings converts the AI_* variables for engine.New.
func (c *Config) EngineSettings() engine.Settings {
	return engine.Settings{
		TimeBudget:  c.TimeBudget,
		MaxDepth:    c.MaxDepth,
		Simulations: c.Simulations,
		Workers:     c.Workers,
	}
}

// Logger builds the root logger. "auto" picks the console writer on a terminal.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	f, isFile := w.(*os.File)
	console := c.LogFormat == "console"
	if c.LogFormat == "auto" && isFile {
		console = isatty.IsTerminal(f.Fd())
	}
	if console {
		out := w
		if isFile {
			out = colorable.NewColorable(f)
		}
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(c.LogLevel).With().Timestamp().Logger()
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue, lo, hi int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return Clamp(v, lo, hi), nil
}
