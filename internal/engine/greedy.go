package engine

import (
	"context"
	"math"
	"sync"

	"lukechampine.com/frand"

	"dobutsu/internal/shogi"
)

// Greedy plays the move with the best one-ply evaluation.
type Greedy struct {
	settings Settings
	eval     *Evaluator
}

func NewGreedy(s Settings) *Greedy {
	s = s.withDefaults()
	return &Greedy{settings: s, eval: NewEvaluator(s.Values)}
}

func (g *Greedy) Name() string { return "greedy" }

func (g *Greedy) SelectMove(ctx context.Context, st *shogi.State) (shogi.Move, error) {
	moves := st.LegalMoves(st.Turn)
	if len(moves) == 0 {
		return shogi.Move{}, ErrNoLegalMoves
	}
	ctx, cancel := budget(ctx, g.settings.TimeBudget)
	defer cancel()

	me := st.Turn
	best, bestScore := moves[0], math.MinInt
	for _, m := range moves {
		if ctx.Err() != nil {
			break
		}
		child := st.Clone()
		if err := child.Play(m); err != nil {
			continue
		}
		if winner, ok := child.Outcome().Winner(); ok && winner == me {
			return m, nil
		}
		if v := g.eval.Evaluate(child, me); v > bestScore {
			best, bestScore = m, v
		}
	}
	return best, nil
}

// Random takes a winning move when there is one, otherwise a random
// capture, otherwise any random move.
type Random struct {
	mu  sync.Mutex
	rng *frand.RNG
}

func NewRandom(s Settings) *Random {
	return &Random{rng: newRNG(s.Seed, 0)}
}

func (r *Random) Name() string { return "random" }

func (r *Random) SelectMove(_ context.Context, st *shogi.State) (shogi.Move, error) {
	moves := st.LegalMoves(st.Turn)
	if len(moves) == 0 {
		return shogi.Move{}, ErrNoLegalMoves
	}
	if m, ok := winningMove(st, moves); ok {
		return m, nil
	}
	var captures []shogi.Move
	for _, m := range moves {
		if !m.Drop && !st.Board.At(m.To).Empty() {
			captures = append(captures, m)
		}
	}
	if len(captures) > 0 {
		moves = captures
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return moves[r.rng.Intn(len(moves))], nil
}
