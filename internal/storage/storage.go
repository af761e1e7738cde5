// Package storage keeps players and finished games in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"dobutsu/internal/kif"
	"dobutsu/internal/session"
	"dobutsu/internal/shogi"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNoResult = errors.New("game has no result")
)

// DefaultRating is the rating given to new players.
const DefaultRating = 1500

// Timestamps are stored as fixed-width UTC text so they sort as strings.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	rating INTEGER NOT NULL DEFAULT 1500,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	draws INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS match_history (
	id TEXT PRIMARY KEY,
	player_sente TEXT NOT NULL,
	player_gote TEXT NOT NULL,
	winner TEXT NOT NULL,
	reason TEXT NOT NULL,
	plies INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	played_at TEXT NOT NULL,
	record_json TEXT NOT NULL,
	kif TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS match_history_played_at ON match_history (played_at);
`

type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for account creation times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates the database file and its directory if needed.
func Open(path string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &Store{db: db, log: logger.With().Str("component", "storage").Logger(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Info().Str("path", path).Msg("database ready")
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterUser creates username if it does not exist yet.
func (s *Store) RegisterUser(ctx context.Context, username string) error {
	if err := registerUser(ctx, s.db, username, s.now()); err != nil {
		return err
	}
	s.log.Debug().Str("user", username).Msg("user registered")
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func registerUser(ctx context.Context, db execer, username string, now time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (username, rating, created_at) VALUES (?, ?, ?) ON CONFLICT (username) DO NOTHING`,
		username, DefaultRating, now.UTC().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("register user %q: %w", username, err)
	}
	return nil
}

type User struct {
	Username  string    `json:"username"`
	Rating    int       `json:"rating"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Draws     int       `json:"draws"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) Total() int { return u.Wins + u.Losses + u.Draws }

func (s *Store) User(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, rating, wins, losses, draws, created_at FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	var created string
	if err := row.Scan(&u.Username, &u.Rating, &u.Wins, &u.Losses, &u.Draws, &created); err != nil {
		return nil, err
	}
	t, err := time.Parse(tsLayout, created)
	if err != nil {
		return nil, fmt.Errorf("user %q created_at: %w", u.Username, err)
	}
	u.CreatedAt = t
	return &u, nil
}

// RecordResult updates both players' counters and appends the match in one
// transaction. It implements session.Recorder.
func (s *Store) RecordResult(ctx context.Context, res session.Result) error {
	if res.Outcome == shogi.Ongoing {
		return ErrNoResult
	}
	rec := res.Record
	if rec == nil {
		rec = &session.Record{Outcome: res.Outcome, Reason: res.Reason}
	}
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	kifText := kif.Format(rec, kif.Header{
		First: res.First, Second: res.Second, Started: res.StartedAt, Ended: res.EndedAt,
	})
	id := res.ID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	played := res.EndedAt
	if played.IsZero() {
		played = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, name := range []string{res.First, res.Second} {
		if err := registerUser(ctx, tx, name, s.now()); err != nil {
			return err
		}
	}
	first, second := "draws", "draws"
	switch res.Outcome {
	case shogi.FirstWins:
		first, second = "wins", "losses"
	case shogi.SecondWins:
		first, second = "losses", "wins"
	}
	for _, u := range []struct{ col, name string }{{first, res.First}, {second, res.Second}} {
		q := fmt.Sprintf(`UPDATE users SET %[1]s = %[1]s + 1 WHERE username = ?`, u.col)
		if _, err := tx.ExecContext(ctx, q, u.name); err != nil {
			return fmt.Errorf("update %s for %q: %w", u.col, u.name, err)
		}
	}

	plies := rec.Len()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO match_history (id, player_sente, player_gote, winner, reason, plies, started_at, played_at, record_json, kif)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.First, res.Second, res.Outcome.String(), string(res.Reason), plies,
		res.StartedAt.UTC().Format(tsLayout), played.UTC().Format(tsLayout), string(recordJSON), kifText)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info().Str("match", id).Str("sente", res.First).Str("gote", res.Second).Stringer("winner", res.Outcome).Msg("match saved")
	return nil
}

// Match is one stored game.
type Match struct {
	ID        string          `json:"id"`
	Sente     string          `json:"player_sente"`
	Gote      string          `json:"player_gote"`
	Winner    shogi.Outcome   `json:"winner"`
	Reason    string          `json:"reason"`
	Plies     int             `json:"plies"`
	StartedAt time.Time       `json:"started_at"`
	PlayedAt  time.Time       `json:"played_at"`
	Record    json.RawMessage `json:"record,omitempty"`
	KIF       string          `json:"-"`
}

// Decode unmarshals the stored move log.
func (m *Match) Decode() (*session.Record, error) {
	var rec session.Record
	if err := json.Unmarshal(m.Record, &rec); err != nil {
		return nil, fmt.Errorf("match %s record: %w", m.ID, err)
	}
	return &rec, nil
}

const matchColumns = `id, player_sente, player_gote, winner, reason, plies, started_at, played_at`

func scanMatch(row scanner, extra ...any) (*Match, error) {
	var m Match
	var winner, started, played string
	dest := append([]any{&m.ID, &m.Sente, &m.Gote, &winner, &m.Reason, &m.Plies, &started, &played}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if m.Winner, err = shogi.ParseOutcome(winner); err != nil {
		return nil, fmt.Errorf("match %s: %w", m.ID, err)
	}
	if m.StartedAt, err = time.Parse(tsLayout, started); err != nil {
		return nil, fmt.Errorf("match %s started_at: %w", m.ID, err)
	}
	if m.PlayedAt, err = time.Parse(tsLayout, played); err != nil {
		return nil, fmt.Errorf("match %s played_at: %w", m.ID, err)
	}
	return &m, nil
}

// Match loads one game including its record and KIF text.
func (s *Store) Match(ctx context.Context, id string) (*Match, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+`, record_json, kif FROM match_history WHERE id = ?`, id)
	var record, kifText string
	m, err := scanMatch(row, &record, &kifText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Record = json.RawMessage(record)
	m.KIF = kifText
	return m, nil
}

// RecentMatches lists the newest games first, without their records.
func (s *Store) RecentMatches(ctx context.Context, limit int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM match_history ORDER BY played_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()
	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
