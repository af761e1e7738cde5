package shogi

import "fmt"

// Move is either a board move (From -> To) or a drop of Kind onto To.
type Move struct {
	Drop bool   `json:"drop,omitempty"`
	From Square `json:"from"`
	To   Square `json:"to"`
	Kind Kind   `json:"kind,omitempty"`
}

func BoardMove(from, to Square) Move {
	return Move{From: from, To: to}
}

// DropMove builds a drop. Promoted pieces are always dropped unpromoted.
func DropMove(kind Kind, to Square) Move {
	return Move{Drop: true, Kind: kind.Demote(), To: to}
}

func (m Move) String() string {
	if m.Drop {
		return fmt.Sprintf("%s*%s", m.Kind, m.To)
	}
	return fmt.Sprintf("%s-%s", m.From, m.To)
}

type offset struct{ dr, dc int }

// Offsets are written for First (forward = row-1) and mirrored for Second.
var baseOffsets = [...][]offset{
	Lion:     {{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}},
	Kirin:    {{-1, 0}, {0, -1}, {0, 1}, {1, 0}},
	Zou:      {{-1, -1}, {-1, 1}, {1, -1}, {1, 1}},
	Hiyoko:   {{-1, 0}},
	Niwatori: {{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, 0}},
}

var mirroredOffsets [len(baseOffsets)][]offset

func init() {
	for k, offs := range baseOffsets {
		m := make([]offset, len(offs))
		for i, o := range offs {
			m[i] = offset{dr: -o.dr, dc: o.dc}
		}
		mirroredOffsets[k] = m
	}
}

func directions(kind Kind, owner Player) []offset {
	if int(kind) >= len(baseOffsets) {
		return nil
	}
	if owner == Second {
		return mirroredOffsets[kind]
	}
	return baseOffsets[kind]
}

// Directions returns the single-step (row, col) deltas of kind for owner.
func Directions(kind Kind, owner Player) [][2]int {
	offs := directions(kind, owner)
	out := make([][2]int, len(offs))
	for i, o := range offs {
		out[i] = [2]int{o.dr, o.dc}
	}
	return out
}

// Destinations lists the squares the piece on sq may move to. An empty
// square yields nothing.
func (p *Position) Destinations(sq Square) []Square {
	if !sq.Valid() {
		return nil
	}
	pc := p.Board.At(sq)
	if pc.Empty() {
		return nil
	}
	var out []Square
	for _, o := range directions(pc.Kind, pc.Owner) {
		to := sq.Add(o.dr, o.dc)
		if !to.Valid() {
			continue
		}
		target := p.Board.At(to)
		if !target.Empty() && target.Owner == pc.Owner {
			continue
		}
		out = append(out, to)
	}
	return out
}

// DropSquares lists every empty square.
func (p *Position) DropSquares() []Square {
	var out []Square
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if p.Board[r][c].Empty() {
				out = append(out, Square{Row: r, Col: c})
			}
		}
	}
	return out
}

// LegalMoves enumerates board moves followed by drops for player, regardless
// of whose turn it is.
func (p *Position) LegalMoves(player Player) []Move {
	moves := make([]Move, 0, 32)
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			pc := p.Board[r][c]
			if pc.Empty() || pc.Owner != player {
				continue
			}
			from := Square{Row: r, Col: c}
			for _, to := range p.Destinations(from) {
				moves = append(moves, BoardMove(from, to))
			}
		}
	}
	kinds := p.Reserves[player].Kinds()
	if len(kinds) == 0 {
		return moves
	}
	empty := p.DropSquares()
	for _, k := range kinds {
		for _, to := range empty {
			moves = append(moves, DropMove(k, to))
		}
	}
	return moves
}

// HasLegalMove is LegalMoves without the allocation.
func (p *Position) HasLegalMove(player Player) bool {
	if p.Reserves[player].Len() > 0 && len(p.DropSquares()) > 0 {
		return true
	}
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			pc := p.Board[r][c]
			if pc.Empty() || pc.Owner != player {
				continue
			}
			if len(p.Destinations(Square{Row: r, Col: c})) > 0 {
				return true
			}
		}
	}
	return false
}

// CanCapture reports whether attacker has a board move landing on sq.
// Drops never capture.
func (p *Position) CanCapture(attacker Player, sq Square) bool {
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			pc := p.Board[r][c]
			if pc.Empty() || pc.Owner != attacker {
				continue
			}
			for _, o := range directions(pc.Kind, pc.Owner) {
				if r+o.dr == sq.Row && c+o.dc == sq.Col {
					target := p.Board.At(sq)
					if target.Empty() || target.Owner != attacker {
						return true
					}
				}
			}
		}
	}
	return false
}
