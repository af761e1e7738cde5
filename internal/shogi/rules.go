package shogi

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMove = errors.New("invalid move")

	ErrWrongTurn          = errors.New("not your turn")
	ErrGameOver           = errors.New("game is over")
	ErrOutOfBounds        = errors.New("square out of bounds")
	ErrNoPiece            = errors.New("no piece on source square")
	ErrNotYourPiece       = errors.New("piece belongs to the opponent")
	ErrIllegalDestination = errors.New("piece cannot move there")
	ErrOccupied           = errors.New("drop square is occupied")
	ErrNotInReserve       = errors.New("piece kind not in reserve")
)

func invalid(reason error, m Move) error {
	return fmt.Errorf("%w %s: %w", ErrInvalidMove, m, reason)
}

// Validate checks m for player against the move generator without mutating s.
func (s *State) Validate(player Player, m Move) error {
	if player != s.Turn {
		return invalid(ErrWrongTurn, m)
	}
	if s.Outcome() != Ongoing {
		return invalid(ErrGameOver, m)
	}
	if !m.To.Valid() {
		return invalid(ErrOutOfBounds, m)
	}
	if m.Drop {
		kind := m.Kind.Demote()
		if kind == NoKind || kind == Lion || s.Reserves[player].Count(kind) == 0 {
			return invalid(ErrNotInReserve, m)
		}
		if !s.Board.At(m.To).Empty() {
			return invalid(ErrOccupied, m)
		}
		return nil
	}
	if !m.From.Valid() {
		return invalid(ErrOutOfBounds, m)
	}
	pc := s.Board.At(m.From)
	if pc.Empty() {
		return invalid(ErrNoPiece, m)
	}
	if pc.Owner != player {
		return invalid(ErrNotYourPiece, m)
	}
	for _, to := range s.Destinations(m.From) {
		if to == m.To {
			return nil
		}
	}
	return invalid(ErrIllegalDestination, m)
}

// Apply validates m for player and applies it in place.
func (s *State) Apply(player Player, m Move) error {
	if err := s.Validate(player, m); err != nil {
		return err
	}
	s.play(m)
	return nil
}

// Play applies a move taken from LegalMoves for the side to move. It skips
// the outcome check so searches can run playouts cheaply; the move itself
// is still checked.
func (s *State) Play(m Move) error {
	if !m.To.Valid() {
		return invalid(ErrOutOfBounds, m)
	}
	if m.Drop {
		if s.Reserves[s.Turn].Count(m.Kind.Demote()) == 0 {
			return invalid(ErrNotInReserve, m)
		}
		if !s.Board.At(m.To).Empty() {
			return invalid(ErrOccupied, m)
		}
	} else {
		if !m.From.Valid() {
			return invalid(ErrOutOfBounds, m)
		}
		pc := s.Board.At(m.From)
		if pc.Empty() || pc.Owner != s.Turn {
			return invalid(ErrNotYourPiece, m)
		}
		tgt := s.Board.At(m.To)
		if !tgt.Empty() && tgt.Owner == s.Turn {
			return invalid(ErrIllegalDestination, m)
		}
	}
	s.play(m)
	return nil
}

func (s *State) play(m Move) {
	mover := s.Turn
	if m.Drop {
		kind := m.Kind.Demote()
		s.Reserves[mover].Remove(kind)
		// Dropped hiyoko never promote, even onto the far rank.
		s.Board.Set(m.To, Piece{Kind: kind, Owner: mover})
	} else {
		pc := s.Board.At(m.From)
		if captured := s.Board.At(m.To); !captured.Empty() {
			s.Reserves[mover].Add(captured.Kind.Demote())
		}
		s.Board.Clear(m.From)
		if pc.Kind == Hiyoko && m.To.Row == mover.FarRank() {
			pc.Kind = Niwatori
		}
		s.Board.Set(m.To, pc)
	}
	s.Turn = mover.Opponent()
	s.History.Push(s.Key())
}

// Outcome of a game.
type Outcome uint8

const (
	Ongoing Outcome = iota
	FirstWins
	SecondWins
	Draw
)

// WinFor returns the outcome in which p wins.
func WinFor(p Player) Outcome {
	if p == First {
		return FirstWins
	}
	return SecondWins
}

// Winner reports the winning player, if any.
func (o Outcome) Winner() (Player, bool) {
	switch o {
	case FirstWins:
		return First, true
	case SecondWins:
		return Second, true
	}
	return First, false
}

func (o Outcome) String() string {
	switch o {
	case FirstWins:
		return "sente"
	case SecondWins:
		return "gote"
	case Draw:
		return "draw"
	}
	return ""
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "sente":
		return FirstWins, nil
	case "gote":
		return SecondWins, nil
	case "draw":
		return Draw, nil
	case "", "ongoing":
		return Ongoing, nil
	}
	return Ongoing, fmt.Errorf("unknown outcome %q", s)
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Reason explains a terminal outcome.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonKingCaptured Reason = "king_captured"
	ReasonTry          Reason = "try"
	ReasonRepetition   Reason = "repetition"
	ReasonNoMoves      Reason = "no_moves"
)

// RepetitionLimit is the number of occurrences of one position that draws the game.
const RepetitionLimit = 3

func (s *State) Outcome() Outcome {
	o, _ := s.OutcomeDetail()
	return o
}

// OutcomeDetail evaluates the terminal conditions in precedence order:
// lion capture, repetition, try, side to move without moves.
func (s *State) OutcomeDetail() (Outcome, Reason) {
	firstLion, firstOK := s.Board.FindLion(First)
	secondLion, secondOK := s.Board.FindLion(Second)
	switch {
	case !firstOK && !secondOK:
		// Unreachable in play; a constructed board without lions is drawn.
		return Draw, ReasonKingCaptured
	case !secondOK:
		return FirstWins, ReasonKingCaptured
	case !firstOK:
		return SecondWins, ReasonKingCaptured
	}

	if s.History.Count(s.Key()) >= RepetitionLimit {
		return Draw, ReasonRepetition
	}

	lions := [2]Square{First: firstLion, Second: secondLion}
	mover := s.Turn.Opponent()
	for _, p := range [...]Player{mover, s.Turn} {
		if s.triedSafely(p, lions[p]) {
			return WinFor(p), ReasonTry
		}
	}

	if !s.HasLegalMove(s.Turn) {
		return WinFor(s.Turn.Opponent()), ReasonNoMoves
	}
	return Ongoing, ReasonNone
}

// triedSafely: p's lion stands on the opponent's back rank and cannot be
// taken by the opponent's next move.
func (s *State) triedSafely(p Player, lion Square) bool {
	if lion.Row != p.FarRank() {
		return false
	}
	return !s.CanCapture(p.Opponent(), lion)
}
