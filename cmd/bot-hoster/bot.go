package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dobutsu/internal/engine"
	"dobutsu/internal/relay"
	"dobutsu/internal/shogi"
)

// BotState represents the current state of a bot
type BotState int

const (
	BotIdle BotState = iota
	BotWaiting
	BotInGame
	BotFinished
	BotDisconnected
)

func (s BotState) String() string {
	switch s {
	case BotIdle:
		return "IDLE"
	case BotWaiting:
		return "WAITING"
	case BotInGame:
		return "IN_GAME"
	case BotFinished:
		return "FINISHED"
	case BotDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

const (
	botPingPeriod  = 54 * time.Second
	reconnectDelay = 5 * time.Second
)

// Bot is one websocket client that queues for games and plays them with
// an engine strategy.
type Bot struct {
	ID         string
	Username   string
	UserID     string
	State      BotState
	BackendURL string

	manager  *BotManager
	strategy engine.Strategy
	ws       *websocket.Conn
	log      zerolog.Logger

	role   shogi.Player
	roomID string
	// game counts started games so a late search result for an old game
	// is never sent.
	game int

	send chan []byte
	done chan struct{}
	mu   sync.RWMutex
}

func NewBot(backendURL string, strategy engine.Strategy, manager *BotManager) *Bot {
	id := "bot-" + uuid.NewString()[:8]
	return &Bot{
		ID:         id,
		Username:   "Bot" + relay.RandomName(),
		BackendURL: backendURL,
		State:      BotDisconnected,
		manager:    manager,
		strategy:   strategy,
		log:        manager.log.With().Str("bot", id).Logger(),
		send:       make(chan []byte, 16),
		done:       make(chan struct{}),
	}
}

// Connect establishes the websocket connection to the relay.
func (b *Bot) Connect() error {
	ws, _, err := websocket.DefaultDialer.Dial(b.BackendURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", b.BackendURL, err)
	}
	b.mu.Lock()
	b.ws = ws
	b.State = BotIdle
	b.mu.Unlock()
	b.log.Info().Str("url", b.BackendURL).Msg("connected")
	return nil
}

// Run reads server messages until ctx ends or the connection is lost for good.
func (b *Bot) Run(ctx context.Context) {
	defer b.Disconnect()
	for {
		ws := b.conn()
		if ws == nil {
			return
		}
		writerDone := make(chan struct{})
		go func() {
			b.writePump(ws)
			close(writerDone)
		}()
		go b.queue(ctx)

		err := b.readLoop(ctx, ws)
		ws.Close()
		<-writerDone
		if ctx.Err() != nil {
			return
		}
		b.log.Warn().Err(err).Msg("connection lost")
		if !b.reconnect(ctx) {
			return
		}
	}
}

func (b *Bot) conn() *websocket.Conn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ws
}

func (b *Bot) readLoop(ctx context.Context, ws *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()
	for {
		var msg relay.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return err
		}
		b.handleMessage(ctx, &msg)
	}
}

// writePump sends queued messages and keeps the connection alive with pings.
func (b *Bot) writePump(ws *websocket.Conn) {
	ticker := time.NewTicker(botPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case message := <-b.send:
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				b.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-b.done:
			ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (b *Bot) reconnect(ctx context.Context) bool {
	b.mu.Lock()
	held := b.State == BotWaiting
	b.State = BotDisconnected
	b.game++
	b.mu.Unlock()
	if held {
		b.manager.releaseSeat()
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-b.done:
			return false
		case <-time.After(reconnectDelay):
		}
		if err := b.Connect(); err != nil {
			b.log.Warn().Err(err).Msg("reconnect failed")
			continue
		}
		return true
	}
}

// Disconnect closes the connection and gives back the lobby seat if held.
func (b *Bot) Disconnect() {
	b.mu.Lock()
	if b.State == BotDisconnected && b.ws == nil {
		b.mu.Unlock()
		return
	}
	held := b.State == BotWaiting
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	if b.ws != nil {
		b.ws.Close()
		b.ws = nil
	}
	b.State = BotDisconnected
	b.mu.Unlock()
	if held {
		b.manager.releaseSeat()
	}
	b.log.Info().Str("name", b.Username).Msg("disconnected")
}

// queue waits for the lobby seat and then joins matchmaking. Only the seat
// holder is ever waiting, so bots are not paired with each other.
func (b *Bot) queue(ctx context.Context) {
	if !b.manager.acquireSeat(ctx) {
		return
	}
	b.mu.Lock()
	if b.State != BotIdle && b.State != BotFinished {
		b.mu.Unlock()
		b.manager.releaseSeat()
		return
	}
	b.State = BotWaiting
	b.mu.Unlock()
	b.sendMessage(&relay.Message{Type: relay.TypeJoin, PlayerName: b.Username})
}

func (b *Bot) handleMessage(ctx context.Context, msg *relay.Message) {
	switch msg.Type {
	case relay.TypeWelcome:
		b.mu.Lock()
		b.UserID = msg.UserID
		b.mu.Unlock()
	case relay.TypeWaiting:
		b.log.Debug().Str("name", msg.Username).Msg("waiting for opponent")
	case relay.TypeGameStart, relay.TypeRematchAccepted:
		b.handleGameStart(ctx, msg)
	case relay.TypeMove, relay.TypeDrop:
		b.handleMove(ctx, msg)
	case relay.TypeGameOver:
		b.handleGameOver(ctx, msg)
	case relay.TypeRematchRequested:
		b.mu.RLock()
		finished := b.State == BotFinished
		b.mu.RUnlock()
		if finished {
			b.sendMessage(&relay.Message{Type: relay.TypeRematch})
		}
	case relay.TypeOpponentDisconnected:
		b.mu.Lock()
		b.State = BotIdle
		b.roomID = ""
		b.game++
		b.mu.Unlock()
		b.log.Info().Msg("opponent left, returning to pool")
		go b.queue(ctx)
	case relay.TypeError:
		b.log.Warn().Str("error", msg.Text).Msg("server rejected request")
	}
}

func (b *Bot) handleGameStart(ctx context.Context, msg *relay.Message) {
	role, err := shogi.ParsePlayer(msg.Role)
	if err != nil || msg.State == nil {
		b.log.Error().Str("role", msg.Role).Msg("bad game start")
		return
	}
	b.mu.Lock()
	wasWaiting := b.State == BotWaiting
	b.State = BotInGame
	b.role = role
	b.roomID = msg.RoomID
	b.game++
	b.mu.Unlock()
	if wasWaiting {
		b.manager.releaseSeat()
	}
	b.log.Info().Str("room", msg.RoomID).Str("role", msg.Role).Str("opponent", msg.Opponent).Msg("game started")
	b.maybeThink(ctx, *msg.State)
}

func (b *Bot) handleMove(ctx context.Context, msg *relay.Message) {
	if msg.State == nil {
		return
	}
	b.maybeThink(ctx, *msg.State)
}

func (b *Bot) handleGameOver(ctx context.Context, msg *relay.Message) {
	b.mu.Lock()
	b.State = BotFinished
	b.game++
	game := b.game
	b.mu.Unlock()
	b.log.Info().Str("winner", msg.Winner).Str("reason", msg.Reason).Msg("game over")

	// Stay available for a rematch for a while, then go back to the pool.
	time.AfterFunc(b.manager.rematchWindow, func() {
		b.mu.RLock()
		idle := b.State == BotFinished && b.game == game
		b.mu.RUnlock()
		if idle {
			b.queue(ctx)
		}
	})
}

// maybeThink starts a search when pos has the bot to move.
func (b *Bot) maybeThink(ctx context.Context, pos shogi.Position) {
	b.mu.RLock()
	mine := b.State == BotInGame && pos.Turn == b.role
	game := b.game
	b.mu.RUnlock()
	if !mine {
		return
	}
	st := shogi.FromPosition(pos)
	if st.Outcome() != shogi.Ongoing {
		return
	}
	go b.think(ctx, st, game)
}

func (b *Bot) think(ctx context.Context, st *shogi.State, game int) {
	start := time.Now()
	mv, err := b.strategy.SelectMove(ctx, st)
	if err != nil {
		b.log.Error().Err(err).Msg("no move found")
		return
	}
	b.mu.RLock()
	current := b.game == game && b.State == BotInGame
	b.mu.RUnlock()
	if !current {
		return
	}
	b.sendMessage(relay.MoveMessage(mv))
	b.log.Debug().Stringer("move", mv).Dur("took", time.Since(start)).Msg("move sent")
}

// sendMessage marshals and queues a message for the writer.
func (b *Bot) sendMessage(msg *relay.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("marshal message")
		return
	}
	select {
	case b.send <- data:
	case <-time.After(time.Second):
		b.log.Warn().Str("type", msg.Type).Msg("send timeout")
	}
}
