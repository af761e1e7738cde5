package shogi

import (
	"strings"
)

// Board is the 4x3 grid. It is a value type: assigning it copies every square.
type Board [Rows][Cols]Piece

func (b *Board) At(sq Square) Piece {
	return b[sq.Row][sq.Col]
}

func (b *Board) Set(sq Square, p Piece) {
	b[sq.Row][sq.Col] = p
}

func (b *Board) Clear(sq Square) {
	b[sq.Row][sq.Col] = Piece{}
}

// FindLion returns the square of owner's lion.
func (b *Board) FindLion(owner Player) (Square, bool) {
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			p := b[r][c]
			if p.Kind == Lion && p.Owner == owner {
				return Square{Row: r, Col: c}, true
			}
		}
	}
	return Square{}, false
}

// Reserve counts captured pieces a player may drop, indexed by kind.
type Reserve [len(kindNames)]uint8

func (r *Reserve) Add(k Kind) {
	r[k.Demote()]++
}

// Remove takes one piece of kind k out of the reserve and reports whether it was held.
func (r *Reserve) Remove(k Kind) bool {
	k = k.Demote()
	if r[k] == 0 {
		return false
	}
	r[k]--
	return true
}

func (r *Reserve) Count(k Kind) int {
	return int(r[k])
}

func (r *Reserve) Len() int {
	n := 0
	for _, c := range r {
		n += int(c)
	}
	return n
}

// Kinds returns the distinct kinds held, in canonical order.
func (r *Reserve) Kinds() []Kind {
	var out []Kind
	for _, k := range Kinds {
		if r[k] > 0 {
			out = append(out, k)
		}
	}
	return out
}

// List expands the multiset, e.g. [hiyoko hiyoko zou].
func (r *Reserve) List() []Kind {
	out := make([]Kind, 0, r.Len())
	for _, k := range Kinds {
		for i := 0; i < int(r[k]); i++ {
			out = append(out, k)
		}
	}
	return out
}

// Position is the unit of repetition comparison: placement, reserves and side to move.
type Position struct {
	Board    Board
	Reserves [2]Reserve
	Turn     Player
}

// NewPosition returns the fixed starting layout with First to move.
func NewPosition() Position {
	var pos Position
	pos.Board[0][0] = Piece{Kind: Kirin, Owner: Second}
	pos.Board[0][1] = Piece{Kind: Lion, Owner: Second}
	pos.Board[0][2] = Piece{Kind: Zou, Owner: Second}
	pos.Board[1][1] = Piece{Kind: Hiyoko, Owner: Second}

	pos.Board[3][0] = Piece{Kind: Zou, Owner: First}
	pos.Board[3][1] = Piece{Kind: Lion, Owner: First}
	pos.Board[3][2] = Piece{Kind: Kirin, Owner: First}
	pos.Board[2][1] = Piece{Kind: Hiyoko, Owner: First}
	pos.Turn = First
	return pos
}

// Key is the canonical serialization used for repetition detection.
// Reserves are written in canonical kind order so insertion order never matters.
func (p *Position) Key() string {
	var sb strings.Builder
	sb.Grow(64)
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			pc := p.Board[r][c]
			if pc.Empty() {
				sb.WriteByte('.')
			} else {
				sb.WriteByte(pieceLetter(pc))
			}
		}
	}
	for _, pl := range [...]Player{First, Second} {
		sb.WriteByte('|')
		for _, k := range p.Reserves[pl].List() {
			sb.WriteByte(pieceLetter(Piece{Kind: k, Owner: First}))
		}
	}
	sb.WriteByte('|')
	if p.Turn == First {
		sb.WriteByte('b')
	} else {
		sb.WriteByte('w')
	}
	return sb.String()
}

// pieceLetter: upper case for First, lower case for Second.
func pieceLetter(p Piece) byte {
	var ch byte
	switch p.Kind {
	case Lion:
		ch = 'L'
	case Kirin:
		ch = 'K'
	case Zou:
		ch = 'Z'
	case Hiyoko:
		ch = 'H'
	case Niwatori:
		ch = 'N'
	default:
		ch = '?'
	}
	if p.Owner == Second {
		ch += 'a' - 'A'
	}
	return ch
}

// PieceCount counts pieces on the board and in both reserves.
func (p *Position) PieceCount() int {
	n := p.Reserves[First].Len() + p.Reserves[Second].Len()
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if !p.Board[r][c].Empty() {
				n++
			}
		}
	}
	return n
}

// String draws the board with Second on top, for logs and test failures.
func (p *Position) String() string {
	var sb strings.Builder
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			pc := p.Board[r][c]
			if pc.Empty() {
				sb.WriteByte('.')
			} else {
				sb.WriteByte(pieceLetter(pc))
			}
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("sente hand: ")
	for _, k := range p.Reserves[First].List() {
		sb.WriteString(k.String() + " ")
	}
	sb.WriteString("\ngote hand: ")
	for _, k := range p.Reserves[Second].List() {
		sb.WriteString(k.String() + " ")
	}
	sb.WriteString("\nto move: " + p.Turn.String())
	return sb.String()
}

// HistoryLimit bounds the repetition window.
const HistoryLimit = 100

// History is the bounded sequence of position keys reached in a game.
type History struct {
	keys []string
}

func (h *History) Push(key string) {
	if len(h.keys) >= HistoryLimit {
		copy(h.keys, h.keys[1:])
		h.keys = h.keys[:len(h.keys)-1]
	}
	h.keys = append(h.keys, key)
}

func (h *History) Count(key string) int {
	n := 0
	for _, k := range h.keys {
		if k == key {
			n++
		}
	}
	return n
}

func (h *History) Len() int {
	return len(h.keys)
}

func (h History) Clone() History {
	return History{keys: append([]string(nil), h.keys...)}
}

// State is a position plus its repetition history. It is owned by exactly one
// session or search; searches work on clones.
type State struct {
	Position
	History History
}

// NewState starts a game from the initial layout. The starting position is
// recorded so that returning to it counts towards repetition.
func NewState() *State {
	return FromPosition(NewPosition())
}

// FromPosition wraps an arbitrary position, recording it as the first history entry.
func FromPosition(pos Position) *State {
	st := &State{Position: pos}
	st.History.Push(pos.Key())
	return st
}

func (s *State) Clone() *State {
	return &State{Position: s.Position, History: s.History.Clone()}
}
