// Package session runs one game from start to conclusion and keeps its
// move log for review.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"dobutsu/internal/engine"
	"dobutsu/internal/shogi"
)

type Phase uint8

const (
	AwaitingStart Phase = iota
	InProgress
	Concluded
)

func (p Phase) String() string {
	switch p {
	case AwaitingStart:
		return "awaiting_start"
	case InProgress:
		return "in_progress"
	case Concluded:
		return "concluded"
	}
	return fmt.Sprintf("phase(%d)", p)
}

// ReasonAborted marks a game stopped from outside, e.g. by a disconnect.
// It never comes with a winner.
const ReasonAborted shogi.Reason = "aborted"

var (
	ErrNotInProgress   = errors.New("game is not in progress")
	ErrAlreadyStarted  = errors.New("game already started")
	ErrNotConcluded    = errors.New("game has not concluded")
	ErrNotComputerTurn = errors.New("side to move is not a computer")
	ErrComputerSeat    = errors.New("side is played by the computer")
	ErrStale           = errors.New("game changed during search")
)

// Policy says who chooses moves for a side.
type Policy struct {
	strategy engine.Strategy
}

// Human moves arrive through Submit.
func Human() Policy { return Policy{} }

// Computer moves are chosen by s when Step is called.
func Computer(s engine.Strategy) Policy { return Policy{strategy: s} }

func (p Policy) IsComputer() bool { return p.strategy != nil }

func (p Policy) Strategy() engine.Strategy { return p.strategy }

// Seat is one side of the board.
type Seat struct {
	Name   string
	Policy Policy
}

// Update describes the state after one applied move, or after an abort.
type Update struct {
	Ply       int
	Player    shogi.Player
	Move      shogi.Move
	Captured  shogi.Kind
	Promoted  bool
	Position  shogi.Position
	Outcome   shogi.Outcome
	Reason    shogi.Reason
	Concluded bool
}

// Result is handed to the Recorder once a game concludes with an outcome.
type Result struct {
	ID        string
	First     string
	Second    string
	Outcome   shogi.Outcome
	Reason    shogi.Reason
	Record    *Record
	StartedAt time.Time
	EndedAt   time.Time
}

// Recorder persists finished games.
type Recorder interface {
	RecordResult(ctx context.Context, res Result) error
}

type Option func(*Session)

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithPosition starts the game from pos instead of the standard layout.
func WithPosition(pos shogi.Position) Option {
	return func(s *Session) { s.initial = pos }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session serializes all moves for one game. Callers from several
// goroutines are safe; only one move is ever validated at a time.
type Session struct {
	mu       sync.Mutex
	id       string
	seats    [2]Seat
	phase    Phase
	initial  shogi.Position
	state    *shogi.State
	entries  []Entry
	outcome  shogi.Outcome
	reason   shogi.Reason
	started  time.Time
	ended    time.Time
	lastMove time.Time
	recorder Recorder
	now      func() time.Time
}

func New(id string, first, second Seat, opts ...Option) *Session {
	s := &Session{
		id:      id,
		seats:   [2]Seat{shogi.First: first, shogi.Second: second},
		initial: shogi.NewPosition(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = shogi.FromPosition(s.initial)
	return s
}

// ID identifies the current game; Restart replaces it.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Start moves the session into play. A position that is already decided
// concludes immediately.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.phase != AwaitingStart {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.phase = InProgress
	s.started = s.now()
	s.lastMove = s.started
	res, done := s.checkOutcome()
	s.mu.Unlock()

	log.Info().Str("game", s.id).Str("sente", s.seats[shogi.First].Name).Str("gote", s.seats[shogi.Second].Name).Msg("game-started")
	if done {
		s.record(res)
	}
	return nil
}

// Submit applies a move from a human seat.
func (s *Session) Submit(player shogi.Player, m shogi.Move) (Update, error) {
	s.mu.Lock()
	if s.phase != InProgress {
		s.mu.Unlock()
		return Update{}, ErrNotInProgress
	}
	if s.seats[player].Policy.IsComputer() {
		s.mu.Unlock()
		return Update{}, ErrComputerSeat
	}
	up, res, done, err := s.apply(player, m)
	s.mu.Unlock()
	if err != nil {
		return Update{}, err
	}
	if done {
		s.record(res)
	}
	return up, nil
}

// Step asks the computer policy of the side to move for a move and applies
// it. The search runs without holding the session lock; if the game moved
// on meanwhile the result is dropped with ErrStale.
func (s *Session) Step(ctx context.Context) (Update, error) {
	s.mu.Lock()
	if s.phase != InProgress {
		s.mu.Unlock()
		return Update{}, ErrNotInProgress
	}
	player := s.state.Turn
	policy := s.seats[player].Policy
	if !policy.IsComputer() {
		s.mu.Unlock()
		return Update{}, ErrNotComputerTurn
	}
	snapshot := s.state.Clone()
	ply := len(s.entries)
	s.mu.Unlock()

	m, err := policy.strategy.SelectMove(ctx, snapshot)
	if err != nil {
		return Update{}, fmt.Errorf("%s: %w", policy.strategy.Name(), err)
	}

	s.mu.Lock()
	if s.phase != InProgress || len(s.entries) != ply {
		s.mu.Unlock()
		return Update{}, ErrStale
	}
	up, res, done, err := s.apply(player, m)
	s.mu.Unlock()
	if err != nil {
		return Update{}, err
	}
	if done {
		s.record(res)
	}
	return up, nil
}

// Abort ends the game without a result. Aborted games are not recorded.
func (s *Session) Abort(reason string) (Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Concluded {
		return Update{}, ErrNotInProgress
	}
	s.phase = Concluded
	s.outcome = shogi.Ongoing
	s.reason = ReasonAborted
	s.ended = s.now()
	log.Info().Str("game", s.id).Str("why", reason).Int("plies", len(s.entries)).Msg("game-aborted")
	return Update{
		Ply:       len(s.entries),
		Player:    s.state.Turn,
		Position:  s.state.Position,
		Outcome:   shogi.Ongoing,
		Reason:    ReasonAborted,
		Concluded: true,
	}, nil
}

// Restart begins a rematch under a new game id, from the standard layout
// with the seats swapped.
func (s *Session) Restart(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Concluded {
		return ErrNotConcluded
	}
	s.id = id
	s.seats[shogi.First], s.seats[shogi.Second] = s.seats[shogi.Second], s.seats[shogi.First]
	s.initial = shogi.NewPosition()
	s.state = shogi.FromPosition(s.initial)
	s.entries = nil
	s.outcome, s.reason = shogi.Ongoing, shogi.ReasonNone
	s.phase = InProgress
	s.started = s.now()
	s.lastMove = s.started
	s.ended = time.Time{}
	log.Info().Str("game", s.id).Str("sente", s.seats[shogi.First].Name).Str("gote", s.seats[shogi.Second].Name).Msg("game-restarted")
	return nil
}

// apply must be called with s.mu held.
func (s *Session) apply(player shogi.Player, m shogi.Move) (Update, Result, bool, error) {
	before := s.state.Position
	if err := s.state.Apply(player, m); err != nil {
		return Update{}, Result{}, false, err
	}
	var captured shogi.Kind
	promoted := false
	if !m.Drop {
		captured = before.Board.At(m.To).Kind.Demote()
		promoted = before.Board.At(m.From).Kind != s.state.Board.At(m.To).Kind
	}
	now := s.now()
	s.entries = append(s.entries, Entry{
		Ply:     len(s.entries) + 1,
		Player:  player,
		Move:    m,
		Before:  before,
		Elapsed: now.Sub(s.lastMove),
	})
	s.lastMove = now

	res, done := s.checkOutcome()
	return Update{
		Ply:       len(s.entries),
		Player:    player,
		Move:      m,
		Captured:  captured,
		Promoted:  promoted,
		Position:  s.state.Position,
		Outcome:   s.outcome,
		Reason:    s.reason,
		Concluded: done,
	}, res, done, nil
}

// checkOutcome concludes the game if the current position is terminal.
// Must be called with s.mu held.
func (s *Session) checkOutcome() (Result, bool) {
	o, reason := s.state.OutcomeDetail()
	if o == shogi.Ongoing {
		return Result{}, false
	}
	s.phase = Concluded
	s.outcome, s.reason = o, reason
	s.ended = s.now()
	log.Info().Str("game", s.id).Stringer("outcome", o).Str("reason", string(reason)).Int("plies", len(s.entries)).Msg("game-concluded")
	return Result{
		ID:        s.id,
		First:     s.seats[shogi.First].Name,
		Second:    s.seats[shogi.Second].Name,
		Outcome:   o,
		Reason:    reason,
		Record:    s.recordLocked(),
		StartedAt: s.started,
		EndedAt:   s.ended,
	}, true
}

const recordTimeout = 5 * time.Second

func (s *Session) record(res Result) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordResult(ctx, res); err != nil {
		log.Error().Err(err).Str("game", s.id).Msg("record-result")
	}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Position returns a copy of the current position.
func (s *Session) Position() shogi.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Position
}

func (s *Session) Outcome() (shogi.Outcome, shogi.Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.reason
}

func (s *Session) Seat(p shogi.Player) Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seats[p]
}

// LegalMoves lists the moves available to the side to move, for highlighting.
func (s *Session) LegalMoves() []shogi.Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != InProgress {
		return nil
	}
	return s.state.LegalMoves(s.state.Turn)
}

// Moves returns a copy of the move log so far.
func (s *Session) Moves() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Record freezes the log of a concluded game for review.
func (s *Session) Record() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Concluded {
		return nil, ErrNotConcluded
	}
	return s.recordLocked(), nil
}

func (s *Session) recordLocked() *Record {
	return &Record{
		Initial: s.initial,
		Entries: append([]Entry(nil), s.entries...),
		Final:   s.state.Position,
		Outcome: s.outcome,
		Reason:  s.reason,
	}
}
