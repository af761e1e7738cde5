package shogi

import (
	"encoding/json"
	"fmt"
)

// positionJSON mirrors the browser client's layout: a 4x3 array of
// nullable pieces, hands keyed by role and the side to move.
type positionJSON struct {
	Board         [Rows][Cols]*Piece `json:"board"`
	Captured      map[string][]Kind  `json:"captured"`
	CurrentPlayer Player             `json:"currentPlayer"`
}

func (p Position) MarshalJSON() ([]byte, error) {
	out := positionJSON{
		Captured: map[string][]Kind{
			First.String():  p.Reserves[First].List(),
			Second.String(): p.Reserves[Second].List(),
		},
		CurrentPlayer: p.Turn,
	}
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if pc := p.Board[r][c]; !pc.Empty() {
				out.Board[r][c] = &pc
			}
		}
	}
	return json.Marshal(out)
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var in positionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var pos Position
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if pc := in.Board[r][c]; pc != nil {
				if pc.Kind == NoKind {
					return fmt.Errorf("square %s: missing piece type", Square{Row: r, Col: c})
				}
				pos.Board[r][c] = *pc
			}
		}
	}
	for role, kinds := range in.Captured {
		pl, err := ParsePlayer(role)
		if err != nil {
			return err
		}
		for _, k := range kinds {
			pos.Reserves[pl].Add(k)
		}
	}
	pos.Turn = in.CurrentPlayer
	*p = pos
	return nil
}
