package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"dobutsu/internal/kif"
	"dobutsu/internal/storage"
)

type options struct {
	dbPath string
	limit  int
	id     string
	kif    bool
	outDir string
	sjis   bool
}

func main() {
	var o options
	flag.StringVar(&o.dbPath, "db", "data/dobutsu.db", "Path to SQLite database")
	flag.IntVar(&o.limit, "limit", 1000, "Maximum number of games to print")
	flag.StringVar(&o.id, "id", "", "Print only this game")
	flag.BoolVar(&o.kif, "kif", false, "Print KIF records instead of JSON")
	flag.StringVar(&o.outDir, "out", "", "Write one <id>.kif file per game into this directory")
	flag.BoolVar(&o.sjis, "sjis", false, "Encode written KIF files as Shift_JIS")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	if _, err := os.Stat(o.dbPath); os.IsNotExist(err) {
		logger.Fatal().Str("path", o.dbPath).Msg("database not found")
	}
	store, err := storage.Open(o.dbPath, zerolog.Nop())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	if err := dump(context.Background(), store, os.Stdout, o); err != nil {
		logger.Fatal().Err(err).Msg("dump failed")
	}
}

func dump(ctx context.Context, store *storage.Store, w io.Writer, o options) error {
	var ids []string
	if o.id != "" {
		ids = []string{o.id}
	} else {
		matches, err := store.RecentMatches(ctx, o.limit)
		if err != nil {
			return err
		}
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
	}

	for _, id := range ids {
		m, err := store.Match(ctx, id)
		if err != nil {
			return err
		}
		if o.outDir != "" {
			if err := writeKIF(o.outDir, m, o.sjis); err != nil {
				return err
			}
			continue
		}

		fmt.Fprintf(w, "Game ID: %s\n", m.ID)
		fmt.Fprintf(w, "Time: %s - %s\n", m.StartedAt.Format(time.RFC822), m.PlayedAt.Format(time.RFC822))
		fmt.Fprintf(w, "Players: %s (sente) vs %s (gote)\n", m.Sente, m.Gote)
		fmt.Fprintf(w, "Result: %s by %s after %d plies\n", m.Winner, m.Reason, m.Plies)
		if o.kif {
			fmt.Fprintln(w, m.KIF)
		} else {
			fmt.Fprintln(w, "Record (formatted):")
			var record any
			if err := json.Unmarshal(m.Record, &record); err == nil {
				formatted, _ := json.MarshalIndent(record, "", "  ")
				fmt.Fprintln(w, string(formatted))
			} else {
				fmt.Fprintln(w, string(m.Record))
			}
		}
		fmt.Fprintln(w, "--------------------------------------------------")
	}

	if o.outDir != "" {
		fmt.Fprintf(w, "Wrote %d KIF files to %s\n", len(ids), o.outDir)
		return nil
	}
	fmt.Fprintf(w, "Total games found: %d\n", len(ids))
	return nil
}

func writeKIF(dir string, m *storage.Match, sjis bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data := []byte(m.KIF)
	if sjis {
		var err error
		if data, err = kif.EncodeShiftJIS(m.KIF); err != nil {
			return fmt.Errorf("game %s: %w", m.ID, err)
		}
	}
	return os.WriteFile(filepath.Join(dir, m.ID+".kif"), data, 0o644)
}
