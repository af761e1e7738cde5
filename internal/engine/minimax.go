package engine

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"lukechampine.com/frand"

	"dobutsu/internal/shogi"
)

// MateScore is the value of a won position at the root; wins further away
// score one less per ply.
const MateScore = 10000

// mateThreshold separates mate scores from any material evaluation.
const mateThreshold = MateScore - 1000

// Minimax searches with iterative deepening and alpha-beta pruning. One value
// may serve several games at once; each call runs its own search.
type Minimax struct {
	settings Settings
	eval     *Evaluator
	hints    *moveTable
}

func NewMinimax(s Settings) *Minimax {
	s = s.withDefaults()
	return &Minimax{
		settings: s,
		eval:     NewEvaluator(s.Values),
		hints:    newMoveTable(),
	}
}

func (mm *Minimax) Name() string { return "minimax" }

func (mm *Minimax) SelectMove(ctx context.Context, st *shogi.State) (shogi.Move, error) {
	moves := st.LegalMoves(st.Turn)
	if len(moves) == 0 {
		return shogi.Move{}, ErrNoLegalMoves
	}
	if m, ok := winningMove(st, moves); ok {
		log.Debug().Str("move", m.String()).Msg("minimax-immediate-win")
		return m, nil
	}

	ctx, cancel := budget(ctx, mm.settings.TimeBudget)
	defer cancel()

	s := &search{ctx: ctx, eval: mm.eval, hints: mm.hints, root: st.Turn}
	return mm.deepen(s, st, orderMoves(st, moves, shogi.Move{}, false)), nil
}

// deepen runs sweeps of increasing depth and returns the best move of the
// last one that completed, or the first ordered move if none did.
func (mm *Minimax) deepen(s *search, st *shogi.State, ordered []shogi.Move) shogi.Move {
	best := ordered[0]
	start := time.Now()

	for depth := 1; depth <= mm.settings.MaxDepth; depth++ {
		move, score, ok := s.sweep(st, ordered, depth)
		if !ok {
			log.Debug().Int("depth", depth).Dur("elapsed", time.Since(start)).Msg("minimax-sweep-aborted")
			break
		}
		best = move
		log.Debug().
			Int("depth", depth).
			Int("score", score).
			Str("move", move.String()).
			Int("nodes", s.nodes).
			Dur("elapsed", time.Since(start)).
			Msg("minimax-depth-complete")
		ordered = orderMoves(st, ordered, best, true)
		if score > mateThreshold {
			break
		}
	}
	return best
}

type search struct {
	ctx     context.Context
	eval    *Evaluator
	hints   *moveTable
	root    shogi.Player
	aborted bool
	nodes   int
}

func (s *search) expired() bool {
	if s.aborted {
		return true
	}
	if s.ctx.Err() != nil {
		s.aborted = true
	}
	return s.aborted
}

// sweep runs one full-width root iteration. ok is false when the deadline
// cut it short; the partial result must then be discarded.
func (s *search) sweep(st *shogi.State, moves []shogi.Move, depth int) (best shogi.Move, bestScore int, ok bool) {
	alpha, beta := math.MinInt, math.MaxInt
	bestScore = math.MinInt
	for _, m := range moves {
		if s.expired() {
			return best, bestScore, false
		}
		child := st.Clone()
		if err := child.Play(m); err != nil {
			continue
		}
		v := s.minimax(child, depth-1, 1, alpha, beta)
		if s.aborted {
			return best, bestScore, false
		}
		if v > bestScore {
			bestScore, best = v, m
		}
		alpha = max(alpha, v)
	}
	s.hints.put(zobrist(&st.Position), best)
	return best, bestScore, true
}

// minimax scores st for the root player. The side to move maximizes when it
// is the root player and minimizes otherwise.
func (s *search) minimax(st *shogi.State, depth, ply int, alpha, beta int) int {
	s.nodes++
	if o, _ := st.OutcomeDetail(); o != shogi.Ongoing {
		winner, ok := o.Winner()
		switch {
		case !ok:
			return 0
		case winner == s.root:
			return MateScore - ply
		default:
			return -(MateScore - ply)
		}
	}
	if depth == 0 {
		return s.eval.Evaluate(st, s.root)
	}

	key := zobrist(&st.Position)
	hint, _ := s.hints.get(key)
	moves := orderMoves(st, st.LegalMoves(st.Turn), hint, true)
	maximizing := st.Turn == s.root

	best := math.MaxInt
	if maximizing {
		best = math.MinInt
	}
	var bestMove shogi.Move
	for _, m := range moves {
		if s.expired() {
			return s.eval.Evaluate(st, s.root)
		}
		child := st.Clone()
		if err := child.Play(m); err != nil {
			continue
		}
		v := s.minimax(child, depth-1, ply+1, alpha, beta)
		if s.aborted {
			return v
		}
		if maximizing {
			if v > best {
				best, bestMove = v, m
			}
			alpha = max(alpha, v)
		} else {
			if v < best {
				best, bestMove = v, m
			}
			beta = min(beta, v)
		}
		if beta <= alpha {
			break
		}
	}
	s.hints.put(key, bestMove)
	return best
}

// orderMoves sorts captures and promotions first. The hint, when present
// in moves, goes to the front.
func orderMoves(st *shogi.State, moves []shogi.Move, hint shogi.Move, useHint bool) []shogi.Move {
	out := make([]shogi.Move, len(moves))
	copy(out, moves)
	scores := make(map[shogi.Move]int, len(out))
	for _, m := range out {
		sc := quickScore(st, m)
		if useHint && m == hint {
			sc = math.MaxInt
		}
		scores[m] = sc
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i]] > scores[out[j]]
	})
	return out
}

func quickScore(st *shogi.State, m shogi.Move) int {
	if m.Drop {
		return 0
	}
	score := 0
	if target := st.Board.At(m.To); !target.Empty() {
		score += 10 * kindOrder(target.Kind)
	}
	if pc := st.Board.At(m.From); pc.Kind == shogi.Hiyoko && m.To.Row == pc.Owner.FarRank() {
		score += 5
	}
	return score
}

// kindOrder ranks capture targets without consulting configured values.
func kindOrder(k shogi.Kind) int {
	switch k {
	case shogi.Lion:
		return 100
	case shogi.Niwatori:
		return 6
	case shogi.Kirin, shogi.Zou:
		return 4
	case shogi.Hiyoko:
		return 1
	}
	return 0
}

// moveTable remembers the best move found per position, keyed by Zobrist
// hash. It only reorders moves, so collisions cannot change search results.
type moveTable struct {
	mu    sync.RWMutex
	moves map[uint64]shogi.Move
}

const moveTableLimit = 1 << 16

func newMoveTable() *moveTable {
	return &moveTable{moves: make(map[uint64]shogi.Move)}
}

func (t *moveTable) get(key uint64) (shogi.Move, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.moves[key]
	return m, ok
}

func (t *moveTable) put(key uint64, m shogi.Move) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.moves) >= moveTableLimit {
		clear(t.moves)
	}
	t.moves[key] = m
}

const maxHandCount = 8

var (
	zobristSquare  [shogi.Rows][shogi.Cols][2][len(shogi.Kinds) + 1]uint64
	zobristReserve [2][len(shogi.Kinds) + 1][maxHandCount + 1]uint64
	zobristTurn    uint64
)

func init() {
	rng := frand.NewCustom(make([]byte, 32), 1024, 12)
	var buf [8]byte
	next := func() uint64 {
		rng.Read(buf[:])
		return binary.LittleEndian.Uint64(buf[:])
	}
	for r := range zobristSquare {
		for c := range zobristSquare[r] {
			for o := range zobristSquare[r][c] {
				for k := range zobristSquare[r][c][o] {
					zobristSquare[r][c][o][k] = next()
				}
			}
		}
	}
	for o := range zobristReserve {
		for k := range zobristReserve[o] {
			for n := range zobristReserve[o][k] {
				zobristReserve[o][k][n] = next()
			}
		}
	}
	zobristTurn = next()
}

func zobrist(p *shogi.Position) uint64 {
	var h uint64
	for r := 0; r < shogi.Rows; r++ {
		for c := 0; c < shogi.Cols; c++ {
			if pc := p.Board[r][c]; !pc.Empty() {
				h ^= zobristSquare[r][c][pc.Owner][pc.Kind]
			}
		}
	}
	for o := range p.Reserves {
		for _, k := range shogi.Kinds {
			if n := p.Reserves[o].Count(k); n > 0 {
				h ^= zobristReserve[o][k][min(n, maxHandCount)]
			}
		}
	}
	if p.Turn == shogi.Second {
		h ^= zobristTurn
	}
	return h
}
