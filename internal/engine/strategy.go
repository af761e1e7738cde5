// Package engine picks moves for a computer player.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dobutsu/internal/shogi"
)

var ErrNoLegalMoves = errors.New("no legal moves")

// Strategy chooses a move for the side to move in st. Implementations never
// mutate st and honour the context deadline; they return a legal move
// whenever one exists.
type Strategy interface {
	Name() string
	SelectMove(ctx context.Context, st *shogi.State) (shogi.Move, error)
}

const (
	DefaultTimeBudget  = 5 * time.Second
	DefaultMaxDepth    = 6
	DefaultSimulations = 2000
)

// Settings configures every strategy; zero fields take the defaults above.
type Settings struct {
	TimeBudget  time.Duration
	MaxDepth    int
	Simulations int
	Workers     int
	Seed        uint64
	Values      PieceValues
}

func (s Settings) withDefaults() Settings {
	if s.TimeBudget <= 0 {
		s.TimeBudget = DefaultTimeBudget
	}
	if s.MaxDepth <= 0 {
		s.MaxDepth = DefaultMaxDepth
	}
	if s.Simulations <= 0 {
		s.Simulations = DefaultSimulations
	}
	if s.Workers <= 0 {
		s.Workers = 1
	}
	if s.Values == nil {
		s.Values = DefaultPieceValues()
	}
	return s
}

// Names lists the strategies New understands.
var Names = []string{"minimax", "montecarlo", "greedy", "random"}

// New builds a strategy by name.
func New(name string, s Settings) (Strategy, error) {
	s = s.withDefaults()
	if err := s.Values.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(name) {
	case "minimax":
		return NewMinimax(s), nil
	case "montecarlo", "mc":
		return NewMonteCarlo(s), nil
	case "greedy":
		return NewGreedy(s), nil
	case "random":
		return NewRandom(s), nil
	}
	return nil, fmt.Errorf("unknown strategy %q (want one of %s)", name, strings.Join(Names, ", "))
}

// budget applies the time budget unless ctx already carries an earlier deadline.
func budget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= d {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// winningMove returns the first move that ends the game in the mover's favour.
func winningMove(st *shogi.State, moves []shogi.Move) (shogi.Move, bool) {
	me := st.Turn
	for _, m := range moves {
		child := st.Clone()
		if err := child.Play(m); err != nil {
			continue
		}
		if winner, ok := child.Outcome().Winner(); ok && winner == me {
			return m, true
		}
	}
	return shogi.Move{}, false
}
