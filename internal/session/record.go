package session

import (
	"errors"
	"fmt"
	"time"

	"dobutsu/internal/shogi"
)

var ErrPlyOutOfRange = errors.New("ply out of range")

// Entry is one played move with the position it was played from.
type Entry struct {
	Ply     int            `json:"ply"`
	Player  shogi.Player   `json:"player"`
	Move    shogi.Move     `json:"move"`
	Before  shogi.Position `json:"before"`
	Elapsed time.Duration  `json:"elapsedNs"`
}

// Record is the frozen log of a concluded game.
type Record struct {
	Initial shogi.Position `json:"initial"`
	Entries []Entry        `json:"entries"`
	Final   shogi.Position `json:"final"`
	Outcome shogi.Outcome  `json:"outcome"`
	Reason  shogi.Reason   `json:"reason"`
}

// Len is the number of plies played.
func (r *Record) Len() int { return len(r.Entries) }

// Seek returns the position after ply moves: 0 is the starting position
// and Len() the final one.
func (r *Record) Seek(ply int) (shogi.Position, error) {
	switch {
	case ply < 0 || ply > len(r.Entries):
		return shogi.Position{}, fmt.Errorf("%w: %d not in [0, %d]", ErrPlyOutOfRange, ply, len(r.Entries))
	case ply == len(r.Entries):
		return r.Final, nil
	}
	return r.Entries[ply].Before, nil
}

// Moves lists the moves in play order.
func (r *Record) Moves() []shogi.Move {
	out := make([]shogi.Move, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Move
	}
	return out
}

// Replay rebuilds the game from the initial position, checking every move.
func (r *Record) Replay() (*shogi.State, error) {
	st := shogi.FromPosition(r.Initial)
	for _, e := range r.Entries {
		if err := st.Apply(e.Player, e.Move); err != nil {
			return nil, fmt.Errorf("ply %d: %w", e.Ply, err)
		}
	}
	return st, nil
}
