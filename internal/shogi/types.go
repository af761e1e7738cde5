package shogi

import (
	"fmt"
	"strings"
)

const (
	Rows = 4
	Cols = 3
)

// Player identifies a side. First (sente) moves first.
type Player uint8

const (
	First Player = iota
	Second
)

func (p Player) Opponent() Player {
	if p == First {
		return Second
	}
	return First
}

// Forward is the row delta of a forward step for p.
func (p Player) Forward() int {
	if p == First {
		return -1
	}
	return 1
}

// FarRank is the row a player's pieces promote on and the opponent's back rank.
func (p Player) FarRank() int {
	if p == First {
		return 0
	}
	return Rows - 1
}

func (p Player) String() string {
	if p == First {
		return "sente"
	}
	return "gote"
}

// ParsePlayer accepts sente/gote and first/second, in any case.
func ParsePlayer(s string) (Player, error) {
	switch strings.ToLower(s) {
	case "sente", "first":
		return First, nil
	case "gote", "second":
		return Second, nil
	}
	return First, fmt.Errorf("unknown player %q", s)
}

// MarshalText encodes the player as "sente" or "gote".
func (p Player) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Player) UnmarshalText(b []byte) error {
	v, err := ParsePlayer(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Kind is a piece type. The zero value marks an empty square.
type Kind uint8

const (
	NoKind Kind = iota
	Lion
	Kirin
	Zou
	Hiyoko
	Niwatori
)

// Kinds lists every real kind in canonical order.
var Kinds = [...]Kind{Lion, Kirin, Zou, Hiyoko, Niwatori}

var kindNames = [...]string{
	NoKind:   "",
	Lion:     "lion",
	Kirin:    "kirin",
	Zou:      "zou",
	Hiyoko:   "hiyoko",
	Niwatori: "niwatori",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind maps a wire name such as "hiyoko" to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if k != int(NoKind) && name == s {
			return Kind(k), nil
		}
	}
	return NoKind, fmt.Errorf("unknown piece kind %q", s)
}

// MarshalText encodes the kind by its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Demote strips promotion; captured pieces never keep it.
func (k Kind) Demote() Kind {
	if k == Niwatori {
		return Hiyoko
	}
	return k
}

// Piece is an owned piece on the board. The zero Piece is an empty square.
type Piece struct {
	Kind  Kind   `json:"type"`
	Owner Player `json:"player"`
}

func (p Piece) Empty() bool {
	return p.Kind == NoKind
}

// Square is a board coordinate; row 0 is Second's back rank.
type Square struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (s Square) Valid() bool {
	return s.Row >= 0 && s.Row < Rows && s.Col >= 0 && s.Col < Cols
}

func (s Square) Add(dr, dc int) Square {
	return Square{Row: s.Row + dr, Col: s.Col + dc}
}

// String renders the square as column letter + row number, e.g. B3 for (2,1).
func (s Square) String() string {
	if !s.Valid() {
		return fmt.Sprintf("(%d,%d)", s.Row, s.Col)
	}
	return fmt.Sprintf("%c%d", 'A'+s.Col, s.Row+1)
}
