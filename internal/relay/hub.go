// Package relay pairs websocket clients into rooms and relays their moves.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"lukechampine.com/frand"

	"dobutsu/internal/engine"
	"dobutsu/internal/session"
	"dobutsu/internal/shogi"
)

const (
	maxNameLength = 32
	storeTimeout  = 10 * time.Second
)

// Users registers player names as they join.
type Users interface {
	RegisterUser(ctx context.Context, username string) error
}

type Config struct {
	// Recorder receives finished human games. Writes happen off the hub
	// goroutine.
	Recorder session.Recorder
	Users    Users
	// NewStrategy builds the opponent for play_computer requests.
	NewStrategy     func(name string) (engine.Strategy, error)
	DefaultStrategy string
}

type envelope struct {
	client *Client
	msg    *Message
}

// computed carries a finished computer move back to the hub goroutine.
type computed struct {
	room   *room
	gameID string
	update session.Update
	err    error
}

type room struct {
	id       string
	game     *session.Session
	players  [2]*Client // by shogi.Player; nil for the computer seat
	rematch  [2]bool
	computer bool
	cancel   context.CancelFunc
}

// Hub owns every client, the waiting queue and the rooms directory. All of
// it is touched only from the Run goroutine.
type Hub struct {
	cfg Config
	log zerolog.Logger

	clients map[*Client]bool
	waiting []*Client
	rooms   map[string]*room

	register   chan *Client
	unregister chan *Client
	inbound    chan envelope
	computed   chan computed
	done       chan struct{}

	ctx context.Context
	bg  sync.WaitGroup
}

func NewHub(cfg Config, logger zerolog.Logger) *Hub {
	if cfg.NewStrategy == nil {
		cfg.NewStrategy = func(name string) (engine.Strategy, error) {
			return engine.New(name, engine.Settings{})
		}
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = "minimax"
	}
	return &Hub{
		cfg:        cfg,
		log:        logger.With().Str("component", "relay").Logger(),
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan envelope),
		computed:   make(chan computed),
		done:       make(chan struct{}),
		ctx:        context.Background(),
	}
}

// Run serves the hub until ctx is cancelled, then aborts open games, closes
// every connection and waits for pending writes.
func (h *Hub) Run(ctx context.Context) error {
	h.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case c := <-h.register:
			h.clients[c] = true
			h.send(c, &Message{Type: TypeWelcome, UserID: c.id})
			h.log.Debug().Str("client", c.id).Msg("client connected")
		case c := <-h.unregister:
			h.drop(c)
		case env := <-h.inbound:
			if h.clients[env.client] {
				h.handle(env.client, env.msg)
			}
		case res := <-h.computed:
			h.handleComputed(res)
		}
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		h.closeRoom(r, "server shutdown")
	}
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.waiting = nil
	close(h.done)
	h.bg.Wait()
	h.log.Info().Msg("relay stopped")
}

func (h *Hub) handle(c *Client, msg *Message) {
	switch msg.Type {
	case TypeJoin:
		h.join(c, msg)
	case TypePlayComputer:
		h.playComputer(c, msg)
	case TypeMove, TypeDrop:
		h.play(c, msg)
	case TypeRematch:
		h.requestRematch(c)
	default:
		h.sendError(c, "unknown message type "+msg.Type)
	}
}

// busy reports whether c is queued or seated in a live game. A client
// whose game has concluded leaves that room here.
func (h *Hub) busy(c *Client) bool {
	if r := c.room; r != nil {
		if r.game.Phase() != session.Concluded {
			return true
		}
		r.players[c.role] = nil
		c.room, c.role = nil, -1
		h.closeRoom(r, "player left")
	}
	for _, w := range h.waiting {
		if w == c {
			return true
		}
	}
	return false
}

func (h *Hub) setName(c *Client, requested string) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = RandomName()
	}
	if r := []rune(name); len(r) > maxNameLength {
		name = string(r[:maxNameLength])
	}
	c.name = name
	h.registerUser(name)
}

func (h *Hub) join(c *Client, msg *Message) {
	if h.busy(c) {
		h.sendError(c, "already joined")
		return
	}
	h.setName(c, msg.PlayerName)
	if len(h.waiting) == 0 {
		h.waiting = append(h.waiting, c)
		h.send(c, &Message{Type: TypeWaiting, Username: c.name})
		h.log.Info().Str("player", c.name).Msg("waiting for opponent")
		return
	}
	opp := h.waiting[0]
	h.waiting = h.waiting[1:]
	h.pair(opp, c)
}

func (h *Hub) pair(a, b *Client) {
	players := [2]*Client{a, b}
	if frand.Intn(2) == 1 {
		players[0], players[1] = players[1], players[0]
	}
	r := &room{id: uuid.NewString(), players: players}
	var opts []session.Option
	if h.cfg.Recorder != nil {
		opts = append(opts, session.WithRecorder(asyncRecorder{h}))
	}
	r.game = session.New(r.id,
		session.Seat{Name: players[shogi.First].name, Policy: session.Human()},
		session.Seat{Name: players[shogi.Second].name, Policy: session.Human()},
		opts...)
	h.open(r)
}

func (h *Hub) playComputer(c *Client, msg *Message) {
	if h.busy(c) {
		h.sendError(c, "already joined")
		return
	}
	name := msg.Strategy
	if name == "" {
		name = h.cfg.DefaultStrategy
	}
	strategy, err := h.cfg.NewStrategy(name)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.setName(c, msg.PlayerName)

	human := shogi.Player(frand.Intn(2))
	var seats [2]session.Seat
	seats[human] = session.Seat{Name: c.name, Policy: session.Human()}
	seats[human.Opponent()] = session.Seat{Name: "CPU (" + strategy.Name() + ")", Policy: session.Computer(strategy)}

	r := &room{id: uuid.NewString(), computer: true}
	r.players[human] = c
	r.game = session.New(r.id, seats[shogi.First], seats[shogi.Second])
	h.open(r)
}

func (h *Hub) open(r *room) {
	if err := r.game.Start(); err != nil {
		h.log.Error().Err(err).Str("room", r.id).Msg("start game")
		return
	}
	h.rooms[r.id] = r
	pos := r.game.Position()
	for i, p := range r.players {
		if p == nil {
			continue
		}
		p.room, p.role = r, i
		h.send(p, &Message{
			Type:          TypeGameStart,
			Role:          shogi.Player(i).String(),
			Opponent:      r.game.Seat(shogi.Player(i).Opponent()).Name,
			RoomID:        r.id,
			State:         &pos,
			CurrentPlayer: pos.Turn.String(),
		})
	}
	h.log.Info().Str("room", r.id).
		Str("sente", r.game.Seat(shogi.First).Name).
		Str("gote", r.game.Seat(shogi.Second).Name).
		Bool("computer", r.computer).Msg("room opened")
	h.scheduleComputer(r)
}

func (h *Hub) play(c *Client, msg *Message) {
	r := c.room
	if r == nil {
		h.sendError(c, "not in a game")
		return
	}
	mv, err := msg.ToMove()
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	up, err := r.game.Submit(shogi.Player(c.role), mv)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.broadcastUpdate(r, up)
	h.scheduleComputer(r)
}

// scheduleComputer starts a search when the side to move is a computer.
// The result comes back through h.computed so moves are still applied and
// broadcast one at a time.
func (h *Hub) scheduleComputer(r *room) {
	if r.game.Phase() != session.InProgress {
		return
	}
	if !r.game.Seat(r.game.Position().Turn).Policy.IsComputer() {
		return
	}
	ctx, cancel := context.WithCancel(h.ctx)
	r.cancel = cancel
	game, gameID := r.game, r.game.ID()
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		defer cancel()
		up, err := game.Step(ctx)
		select {
		case h.computed <- computed{room: r, gameID: gameID, update: up, err: err}:
		case <-h.done:
		}
	}()
}

func (h *Hub) handleComputed(res computed) {
	r := res.room
	if h.rooms[r.id] != r || r.game.ID() != res.gameID {
		return
	}
	if res.err != nil {
		if errors.Is(res.err, session.ErrStale) || errors.Is(res.err, session.ErrNotInProgress) {
			return
		}
		h.log.Error().Err(res.err).Str("room", r.id).Msg("computer move failed")
		h.closeRoom(r, "computer move failed")
		return
	}
	h.broadcastUpdate(r, res.update)
	h.scheduleComputer(r)
}

func (h *Hub) broadcastUpdate(r *room, up session.Update) {
	out := MoveMessage(up.Move)
	out.Player = up.Player.String()
	out.Ply = up.Ply
	out.State = &up.Position
	out.CurrentPlayer = up.Position.Turn.String()
	out.Promoted = up.Promoted
	if up.Captured != shogi.NoKind {
		out.CapturedPiece = up.Captured.String()
	}
	h.broadcast(r, out)
	if !up.Concluded {
		return
	}
	r.rematch = [2]bool{}
	h.broadcast(r, &Message{
		Type:   TypeGameOver,
		RoomID: r.id,
		Winner: up.Outcome.String(),
		Reason: string(up.Reason),
		State:  &up.Position,
	})
}

func (h *Hub) requestRematch(c *Client) {
	r := c.room
	if r == nil {
		h.sendError(c, "not in a game")
		return
	}
	if r.game.Phase() != session.Concluded {
		h.sendError(c, "game still in progress")
		return
	}
	r.rematch[c.role] = true
	if !r.computer && !(r.rematch[0] && r.rematch[1]) {
		if opp := r.players[1-c.role]; opp != nil {
			h.send(opp, &Message{Type: TypeRematchRequested, RoomID: r.id, Opponent: c.name})
		}
		return
	}

	if err := r.game.Restart(uuid.NewString()); err != nil {
		h.sendError(c, err.Error())
		return
	}
	r.rematch = [2]bool{}
	r.players[0], r.players[1] = r.players[1], r.players[0]
	pos := r.game.Position()
	for i, p := range r.players {
		if p == nil {
			continue
		}
		p.role = i
		h.send(p, &Message{
			Type:          TypeRematchAccepted,
			Role:          shogi.Player(i).String(),
			Opponent:      r.game.Seat(shogi.Player(i).Opponent()).Name,
			RoomID:        r.id,
			State:         &pos,
			CurrentPlayer: pos.Turn.String(),
		})
	}
	h.log.Info().Str("room", r.id).Str("game", r.game.ID()).Msg("rematch started")
	h.scheduleComputer(r)
}

// drop forgets a client, aborting its game and telling the opponent.
func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
	for i, w := range h.waiting {
		if w == c {
			h.waiting = append(h.waiting[:i], h.waiting[i+1:]...)
			break
		}
	}
	if r := c.room; r != nil {
		r.players[c.role] = nil
		c.room, c.role = nil, -1
		h.closeRoom(r, "player disconnected")
	}
	h.log.Debug().Str("client", c.id).Str("player", c.name).Msg("client disconnected")
}

func (h *Hub) closeRoom(r *room, reason string) {
	if r.cancel != nil {
		r.cancel()
	}
	if r.game.Phase() == session.InProgress {
		if _, err := r.game.Abort(reason); err != nil {
			h.log.Warn().Err(err).Str("room", r.id).Msg("abort game")
		}
	}
	delete(h.rooms, r.id)
	for i, p := range r.players {
		if p == nil {
			continue
		}
		r.players[i] = nil
		p.room, p.role = nil, -1
		h.send(p, &Message{Type: TypeOpponentDisconnected, RoomID: r.id})
	}
	h.log.Info().Str("room", r.id).Str("why", reason).Msg("room closed")
}

func (h *Hub) broadcast(r *room, msg *Message) {
	for _, p := range r.players {
		if p != nil {
			h.send(p, msg)
		}
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.send(c, &Message{Type: TypeError, Text: text})
}

// send never blocks the hub; a client whose buffer is full is dropped.
func (h *Hub) send(c *Client, msg *Message) {
	if !h.clients[c] {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("marshal message")
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn().Str("client", c.id).Msg("send buffer full, dropping client")
		h.drop(c)
	}
}

func (h *Hub) registerUser(name string) {
	if h.cfg.Users == nil {
		return
	}
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), storeTimeout)
		defer cancel()
		if err := h.cfg.Users.RegisterUser(ctx, name); err != nil {
			h.log.Error().Err(err).Str("player", name).Msg("register user")
		}
	}()
}

// asyncRecorder hands results to the configured recorder without holding
// up the hub goroutine.
type asyncRecorder struct{ h *Hub }

func (a asyncRecorder) RecordResult(ctx context.Context, res session.Result) error {
	h := a.h
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if err := h.cfg.Recorder.RecordResult(ctx, res); err != nil {
			h.log.Error().Err(err).Str("game", res.ID).Msg("record result")
		}
	}()
	return nil
}
