package relay

import (
	"errors"
	"fmt"

	"dobutsu/internal/shogi"
)

// Message types exchanged with browser and bot clients.
const (
	TypeJoin         = "join"
	TypeMove         = "move"
	TypeDrop         = "drop"
	TypeRematch      = "rematch"
	TypePlayComputer = "play_computer"

	TypeWelcome              = "welcome"
	TypeWaiting              = "waiting"
	TypeGameStart            = "gameStart"
	TypeGameOver             = "gameOver"
	TypeOpponentDisconnected = "opponentDisconnected"
	TypeRematchRequested     = "rematchRequested"
	TypeRematchAccepted      = "rematchAccepted"
	TypeError                = "error"
)

// Message is the single JSON envelope for every websocket frame.
type Message struct {
	Type       string `json:"type"`
	PlayerName string `json:"playerName,omitempty"`
	UserID     string `json:"userId,omitempty"`
	Username   string `json:"username,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
	Role       string `json:"role,omitempty"`
	Opponent   string `json:"opponent,omitempty"`

	FromRow   *int   `json:"fromRow,omitempty"`
	FromCol   *int   `json:"fromCol,omitempty"`
	ToRow     *int   `json:"toRow,omitempty"`
	ToCol     *int   `json:"toCol,omitempty"`
	PieceType string `json:"pieceType,omitempty"`
	Row       *int   `json:"row,omitempty"`
	Col       *int   `json:"col,omitempty"`
	Strategy  string `json:"strategy,omitempty"`

	Player        string          `json:"player,omitempty"`
	CurrentPlayer string          `json:"currentPlayer,omitempty"`
	CapturedPiece string          `json:"capturedPiece,omitempty"`
	Promoted      bool            `json:"promoted,omitempty"`
	Winner        string          `json:"winner,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Ply           int             `json:"ply,omitempty"`
	State         *shogi.Position `json:"state,omitempty"`
	Text          string          `json:"message,omitempty"`
}

var errMissingField = errors.New("missing field")

// ToMove converts a move or drop request into an engine move.
func (m *Message) ToMove() (shogi.Move, error) {
	switch m.Type {
	case TypeMove:
		if m.FromRow == nil || m.FromCol == nil || m.ToRow == nil || m.ToCol == nil {
			return shogi.Move{}, fmt.Errorf("move: %w", errMissingField)
		}
		return shogi.BoardMove(
			shogi.Square{Row: *m.FromRow, Col: *m.FromCol},
			shogi.Square{Row: *m.ToRow, Col: *m.ToCol}), nil
	case TypeDrop:
		if m.Row == nil || m.Col == nil || m.PieceType == "" {
			return shogi.Move{}, fmt.Errorf("drop: %w", errMissingField)
		}
		k, err := shogi.ParseKind(m.PieceType)
		if err != nil {
			return shogi.Move{}, fmt.Errorf("drop: %w", err)
		}
		return shogi.DropMove(k, shogi.Square{Row: *m.Row, Col: *m.Col}), nil
	}
	return shogi.Move{}, fmt.Errorf("message %q is not a move", m.Type)
}

// MoveMessage builds the request a client sends for mv. Bots use it to
// speak the same protocol as the browser.
func MoveMessage(mv shogi.Move) *Message {
	if mv.Drop {
		return &Message{
			Type:      TypeDrop,
			PieceType: mv.Kind.String(),
			Row:       intp(mv.To.Row),
			Col:       intp(mv.To.Col),
		}
	}
	return &Message{
		Type:    TypeMove,
		FromRow: intp(mv.From.Row),
		FromCol: intp(mv.From.Col),
		ToRow:   intp(mv.To.Row),
		ToCol:   intp(mv.To.Col),
	}
}

func intp(v int) *int { return &v }
