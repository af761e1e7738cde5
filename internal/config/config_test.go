package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"ADDR", "DB_PATH", "LOG_LEVEL", "AI_STRATEGY", "AI_TIME_BUDGET_MS", "AI_MAX_DEPTH", "BOT_POOL_SIZE"} {
		t.Setenv(k, "")
	}
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Addr != ":8080" || c.Strategy != "minimax" || c.TimeBudget != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.MaxDepth != 6 || c.PoolSize != 10 || c.LogLevel != zerolog.InfoLevel {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if s := c.EngineSettings(); s.TimeBudget != c.TimeBudget || s.MaxDepth != c.MaxDepth {
		t.Fatalf("engine settings do not follow config: %+v", s)
	}
}

func TestLoadClampsAndRejects(t *testing.T) {
	t.Setenv("AI_TIME_BUDGET_MS", "5")
	t.Setenv("AI_MAX_DEPTH", "99")
	t.Setenv("AI_STRATEGY", "MonteCarlo")
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.TimeBudget != 50*time.Millisecond {
		t.Fatalf("budget should clamp to 50ms, got %s", c.TimeBudget)
	}
	if c.MaxDepth != 20 {
		t.Fatalf("depth should clamp to 20, got %d", c.MaxDepth)
	}
	if c.Strategy != "montecarlo" {
		t.Fatalf("strategy should be lower-cased, got %q", c.Strategy)
	}

	t.Setenv("AI_MAX_DEPTH", "deep")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "AI_MAX_DEPTH") {
		t.Fatalf("expected AI_MAX_DEPTH error, got %v", err)
	}
	t.Setenv("AI_MAX_DEPTH", "")
	t.Setenv("AI_STRATEGY", "oracle")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown strategy error")
	}
	t.Setenv("AI_STRATEGY", "")
	t.Setenv("LOG_LEVEL", "loud")
	if _, err := Load(); err == nil {
		t.Fatalf("expected LOG_LEVEL error")
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 1, 3); got != 3 {
		t.Fatalf("got %d", got)
	}
	if got := Clamp(-2.5, 0.0, 1.0); got != 0 {
		t.Fatalf("got %v", got)
	}
	if got := Clamp("m", "a", "z"); got != "m" {
		t.Fatalf("got %q", got)
	}
}

func TestLoggerJSON(t *testing.T) {
	c := &Config{LogLevel: zerolog.WarnLevel, LogFormat: "json"}
	var buf bytes.Buffer
	log := c.Logger(&buf)
	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
