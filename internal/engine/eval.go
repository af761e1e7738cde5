package engine

import (
	"fmt"

	"dobutsu/internal/shogi"
)

// PieceValues maps each kind to its material value.
type PieceValues map[shogi.Kind]int

func DefaultPieceValues() PieceValues {
	return PieceValues{
		shogi.Lion:     1000,
		shogi.Niwatori: 600,
		shogi.Kirin:    400,
		shogi.Zou:      400,
		shogi.Hiyoko:   100,
	}
}

// Validate rejects negative values and unknown kinds. Missing kinds count as zero.
func (v PieceValues) Validate() error {
	for k, n := range v {
		if k == shogi.NoKind || k > shogi.Niwatori {
			return fmt.Errorf("piece values: unknown kind %d", k)
		}
		if n < 0 {
			return fmt.Errorf("piece values: %s is negative (%d)", k, n)
		}
	}
	return nil
}

// Evaluator scores positions from one player's point of view.
type Evaluator struct {
	Values PieceValues
}

// NewEvaluator falls back to DefaultPieceValues when values is nil.
func NewEvaluator(values PieceValues) *Evaluator {
	if values == nil {
		values = DefaultPieceValues()
	}
	return &Evaluator{Values: values}
}

// Evaluate returns material (board and hand), positional bonuses and a
// terminal bonus, all relative to forPlayer.
func (e *Evaluator) Evaluate(st *shogi.State, forPlayer shogi.Player) int {
	lion := e.Values[shogi.Lion]
	hiyoko := e.Values[shogi.Hiyoko]

	score := 0
	for r := 0; r < shogi.Rows; r++ {
		for c := 0; c < shogi.Cols; c++ {
			pc := st.Board[r][c]
			if pc.Empty() {
				continue
			}
			v := e.Values[pc.Kind]
			switch {
			case pc.Kind == shogi.Lion && r == pc.Owner.FarRank():
				v += lion / 10
			case pc.Kind == shogi.Hiyoko && advanced(pc.Owner, r):
				v += hiyoko / 20
			}
			if pc.Owner == forPlayer {
				score += v
			} else {
				score -= v
			}
		}
	}
	for _, k := range shogi.Kinds {
		score += st.Reserves[forPlayer].Count(k) * e.Values[k]
		score -= st.Reserves[forPlayer.Opponent()].Count(k) * e.Values[k]
	}

	if winner, ok := st.Outcome().Winner(); ok {
		if winner == forPlayer {
			score += 10 * lion
		} else {
			score -= 10 * lion
		}
	}
	return score
}

// advanced reports whether row lies past the centre line from owner's side.
func advanced(owner shogi.Player, row int) bool {
	if owner == shogi.First {
		return row < shogi.Rows/2
	}
	return row >= shogi.Rows/2
}
