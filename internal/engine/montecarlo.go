package engine

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"

	"dobutsu/internal/shogi"
)

// PlayoutPlyLimit caps a random playout; the static evaluation decides
// playouts that reach it.
const PlayoutPlyLimit = 200

// MonteCarlo samples root moves at random and scores them by random playouts.
type MonteCarlo struct {
	settings Settings
	eval     *Evaluator
}

func NewMonteCarlo(s Settings) *MonteCarlo {
	s = s.withDefaults()
	return &MonteCarlo{settings: s, eval: NewEvaluator(s.Values)}
}

func (mc *MonteCarlo) Name() string { return "montecarlo" }

// candidate holds playout results for one root move. Points count a win as
// two and a draw as one.
type candidate struct {
	points int
	trials int
}

func (mc *MonteCarlo) SelectMove(ctx context.Context, st *shogi.State) (shogi.Move, error) {
	moves := st.LegalMoves(st.Turn)
	if len(moves) == 0 {
		return shogi.Move{}, ErrNoLegalMoves
	}
	if m, ok := winningMove(st, moves); ok {
		log.Debug().Str("move", m.String()).Msg("montecarlo-immediate-win")
		return m, nil
	}

	ctx, cancel := budget(ctx, mc.settings.TimeBudget)
	defer cancel()

	workers := min(mc.settings.Workers, mc.settings.Simulations)
	results := make([][]candidate, workers)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		n := mc.settings.Simulations / workers
		if w < mc.settings.Simulations%workers {
			n++
		}
		rng := newRNG(mc.settings.Seed, w)
		g.Go(func() error {
			results[w] = mc.simulate(gctx, st, moves, n, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return shogi.Move{}, err
	}

	stats := make([]candidate, len(moves))
	total := 0
	for _, res := range results {
		for i, c := range res {
			stats[i].points += c.points
			stats[i].trials += c.trials
			total += c.trials
		}
	}

	best, bestScore := -1, math.Inf(-1)
	for i, c := range stats {
		if c.trials == 0 {
			continue
		}
		rate := float64(c.points) / float64(2*c.trials)
		score := rate + math.Sqrt(2*math.Log(float64(total))/float64(c.trials))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	log.Debug().
		Int("simulations", total).
		Int("workers", workers).
		Dur("elapsed", time.Since(start)).
		Msg("montecarlo-done")
	if best < 0 {
		return moves[0], nil
	}
	return moves[best], nil
}

// simulate runs up to n playouts, stopping early once ctx is done.
func (mc *MonteCarlo) simulate(ctx context.Context, st *shogi.State, moves []shogi.Move, n int, rng *frand.RNG) []candidate {
	stats := make([]candidate, len(moves))
	me := st.Turn
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		idx := rng.Intn(len(moves))
		child := st.Clone()
		if err := child.Play(moves[idx]); err != nil {
			continue
		}
		stats[idx].points += mc.playout(child, me, rng)
		stats[idx].trials++
	}
	return stats
}

// playout plays uniformly random moves and returns 2, 1 or 0 points for me.
func (mc *MonteCarlo) playout(st *shogi.State, me shogi.Player, rng *frand.RNG) int {
	for ply := 0; ply < PlayoutPlyLimit; ply++ {
		if o := st.Outcome(); o != shogi.Ongoing {
			return points(o, me)
		}
		moves := st.LegalMoves(st.Turn)
		if err := st.Play(moves[rng.Intn(len(moves))]); err != nil {
			return 1
		}
	}
	if o := st.Outcome(); o != shogi.Ongoing {
		return points(o, me)
	}
	switch v := mc.eval.Evaluate(st, me); {
	case v > 0:
		return 2
	case v < 0:
		return 0
	}
	return 1
}

func points(o shogi.Outcome, me shogi.Player) int {
	winner, ok := o.Winner()
	switch {
	case !ok:
		return 1
	case winner == me:
		return 2
	}
	return 0
}

// newRNG derives a ChaCha stream from seed and stream; seed 0 draws fresh entropy.
func newRNG(seed uint64, stream int) *frand.RNG {
	if seed == 0 {
		return frand.NewCustom(frand.Bytes(32), 1024, 12)
	}
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf, seed)
	binary.LittleEndian.PutUint64(buf[8:], uint64(stream))
	return frand.NewCustom(buf, 1024, 12)
}
