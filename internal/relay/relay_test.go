package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dobutsu/internal/session"
	"dobutsu/internal/shogi"
)

// Sessions and strategies log through the global logger.
func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fakeStore struct {
	mu      sync.Mutex
	users   []string
	results chan session.Result
}

func newFakeStore() *fakeStore {
	return &fakeStore{results: make(chan session.Result, 4)}
}

func (f *fakeStore) RegisterUser(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, name)
	return nil
}

func (f *fakeStore) RecordResult(_ context.Context, res session.Result) error {
	f.results <- res
	return nil
}

func (f *fakeStore) registered(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u == name {
			return true
		}
	}
	return false
}

func startRelay(t *testing.T, cfg Config) string {
	t.Helper()
	h := NewHub(cfg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url string) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	c := &wsClient{t: t, conn: conn}
	if m := c.expect(TypeWelcome); m.UserID == "" {
		t.Fatalf("welcome without a user id")
	}
	return c
}

func (c *wsClient) write(m *Message) {
	c.t.Helper()
	if err := c.conn.WriteJSON(m); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *wsClient) read() Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m Message
	if err := c.conn.ReadJSON(&m); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return m
}

func (c *wsClient) expect(typ string) Message {
	c.t.Helper()
	m := c.read()
	if m.Type != typ {
		c.t.Fatalf("expected %q, got %+v", typ, m)
	}
	return m
}

// pairUp joins two players and returns them as (sente, gote).
func pairUp(t *testing.T, url string) (*wsClient, *wsClient) {
	t.Helper()
	a, b := dial(t, url), dial(t, url)
	a.write(&Message{Type: TypeJoin, PlayerName: "alice"})
	if m := a.expect(TypeWaiting); m.Username != "alice" {
		t.Fatalf("waiting message should echo the name, got %q", m.Username)
	}
	b.write(&Message{Type: TypeJoin, PlayerName: "bob"})
	ma, mb := a.expect(TypeGameStart), b.expect(TypeGameStart)
	if ma.RoomID == "" || ma.RoomID != mb.RoomID {
		t.Fatalf("players landed in different rooms: %q vs %q", ma.RoomID, mb.RoomID)
	}
	if ma.Opponent != "bob" || mb.Opponent != "alice" {
		t.Fatalf("unexpected opponents %q / %q", ma.Opponent, mb.Opponent)
	}
	if ma.State == nil || *ma.State != shogi.NewPosition() {
		t.Fatalf("gameStart must carry the starting position")
	}
	switch {
	case ma.Role == "sente" && mb.Role == "gote":
		return a, b
	case ma.Role == "gote" && mb.Role == "sente":
		return b, a
	}
	t.Fatalf("bad roles %q / %q", ma.Role, mb.Role)
	return nil, nil
}

func sq(r, c int) shogi.Square { return shogi.Square{Row: r, Col: c} }

var lionShuttle = []shogi.Move{
	shogi.BoardMove(sq(3, 1), sq(2, 0)),
	shogi.BoardMove(sq(0, 1), sq(1, 0)),
	shogi.BoardMove(sq(2, 0), sq(3, 1)),
	shogi.BoardMove(sq(1, 0), sq(0, 1)),
}

func TestMoveBroadcast(t *testing.T) {
	url := startRelay(t, Config{})
	sente, gote := pairUp(t, url)

	gote.write(MoveMessage(lionShuttle[1]))
	if m := gote.expect(TypeError); m.Text == "" {
		t.Fatalf("out-of-turn move needs an error text")
	}

	sente.write(MoveMessage(shogi.BoardMove(sq(2, 1), sq(1, 1))))
	for _, c := range []*wsClient{sente, gote} {
		m := c.expect(TypeMove)
		if m.Player != "sente" || m.Ply != 1 || m.CapturedPiece != "hiyoko" {
			t.Fatalf("unexpected move broadcast %+v", m)
		}
		if m.CurrentPlayer != "gote" || m.State == nil || m.State.Reserves[shogi.First].Count(shogi.Hiyoko) != 1 {
			t.Fatalf("broadcast state is wrong: %+v", m.State)
		}
		if *m.FromRow != 2 || *m.FromCol != 1 || *m.ToRow != 1 || *m.ToCol != 1 {
			t.Fatalf("broadcast coordinates are wrong")
		}
	}

	gote.write(MoveMessage(shogi.BoardMove(sq(0, 1), sq(1, 1))))
	sente.expect(TypeMove)
	gote.expect(TypeMove)

	sente.write(MoveMessage(shogi.DropMove(shogi.Hiyoko, sq(2, 1))))
	for _, c := range []*wsClient{sente, gote} {
		m := c.expect(TypeDrop)
		if m.PieceType != "hiyoko" || *m.Row != 2 || *m.Col != 1 || m.Ply != 3 {
			t.Fatalf("unexpected drop broadcast %+v", m)
		}
	}
}

func TestInvalidMoveIsIgnored(t *testing.T) {
	url := startRelay(t, Config{})
	sente, gote := pairUp(t, url)

	sente.write(MoveMessage(shogi.BoardMove(sq(2, 1), sq(0, 1))))
	sente.expect(TypeError)
	sente.write(&Message{Type: TypeDrop, PieceType: "dragon", Row: intp(1), Col: intp(0)})
	sente.expect(TypeError)
	sente.write(&Message{Type: TypeMove})
	sente.expect(TypeError)

	sente.write(MoveMessage(lionShuttle[0]))
	if m := gote.expect(TypeMove); m.Ply != 1 {
		t.Fatalf("rejected moves must not advance the game, ply %d", m.Ply)
	}
}

func TestDisconnectNotifiesOpponent(t *testing.T) {
	store := newFakeStore()
	url := startRelay(t, Config{Recorder: store, Users: store})
	sente, gote := pairUp(t, url)

	sente.conn.Close()
	gote.expect(TypeOpponentDisconnected)

	gote.write(MoveMessage(lionShuttle[1]))
	gote.expect(TypeError)

	gote.write(&Message{Type: TypeJoin, PlayerName: "bob"})
	gote.expect(TypeWaiting)

	select {
	case res := <-store.results:
		t.Fatalf("aborted game was recorded: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGameOverAndRematch(t *testing.T) {
	store := newFakeStore()
	url := startRelay(t, Config{Recorder: store, Users: store})
	sente, gote := pairUp(t, url)

	for i, mv := range append(lionShuttle, lionShuttle...) {
		mover := sente
		if i%2 == 1 {
			mover = gote
		}
		mover.write(MoveMessage(mv))
		sente.expect(TypeMove)
		gote.expect(TypeMove)
	}
	for _, c := range []*wsClient{sente, gote} {
		m := c.expect(TypeGameOver)
		if m.Winner != "draw" || m.Reason != string(shogi.ReasonRepetition) {
			t.Fatalf("expected a repetition draw, got %+v", m)
		}
	}

	select {
	case res := <-store.results:
		if res.Outcome != shogi.Draw || res.Record.Len() != 8 {
			t.Fatalf("unexpected recorded result %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("result was never recorded")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !store.registered("alice") || !store.registered("bob") {
		if time.Now().After(deadline) {
			t.Fatalf("players were not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sente.write(&Message{Type: TypeRematch})
	gote.expect(TypeRematchRequested)
	gote.write(&Message{Type: TypeRematch})
	ms, mg := sente.expect(TypeRematchAccepted), gote.expect(TypeRematchAccepted)
	if ms.Role != "gote" || mg.Role != "sente" {
		t.Fatalf("rematch must swap roles, got %q / %q", ms.Role, mg.Role)
	}

	// The former gote now opens.
	gote.write(MoveMessage(lionShuttle[0]))
	if m := sente.expect(TypeMove); m.Ply != 1 || m.Player != "sente" {
		t.Fatalf("unexpected first move of the rematch %+v", m)
	}
}

func TestPlayComputer(t *testing.T) {
	url := startRelay(t, Config{})
	c := dial(t, url)

	c.write(&Message{Type: TypePlayComputer, Strategy: "nonsense"})
	c.expect(TypeError)

	c.write(&Message{Type: TypePlayComputer, PlayerName: "carol", Strategy: "greedy"})
	start := c.expect(TypeGameStart)
	if start.Opponent != "CPU (greedy)" {
		t.Fatalf("unexpected opponent %q", start.Opponent)
	}
	me, err := shogi.ParsePlayer(start.Role)
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	state := start.State
	if me == shogi.Second {
		m := c.expect(TypeMove)
		if m.Player != "sente" {
			t.Fatalf("computer should open as sente, got %+v", m)
		}
		state = m.State
	}

	st := shogi.FromPosition(*state)
	moves := st.LegalMoves(me)
	c.write(MoveMessage(moves[0]))
	if m := c.read(); (m.Type != TypeMove && m.Type != TypeDrop) || m.Player != me.String() {
		t.Fatalf("expected my move echoed, got %+v", m)
	}
	if m := c.read(); (m.Type != TypeMove && m.Type != TypeDrop) || m.Player != me.Opponent().String() {
		t.Fatalf("expected the computer's reply, got %+v", m)
	}
}

func TestToMove(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want shogi.Move
		err  bool
	}{
		{"board", *MoveMessage(shogi.BoardMove(sq(2, 1), sq(1, 1))), shogi.BoardMove(sq(2, 1), sq(1, 1)), false},
		{"drop", Message{Type: TypeDrop, PieceType: "kirin", Row: intp(1), Col: intp(2)}, shogi.DropMove(shogi.Kirin, sq(1, 2)), false},
		{"missing to", Message{Type: TypeMove, FromRow: intp(2), FromCol: intp(1)}, shogi.Move{}, true},
		{"missing square", Message{Type: TypeDrop, PieceType: "zou"}, shogi.Move{}, true},
		{"bad kind", Message{Type: TypeDrop, PieceType: "dragon", Row: intp(0), Col: intp(0)}, shogi.Move{}, true},
		{"not a move", Message{Type: TypeRematch}, shogi.Move{}, true},
	}
	for _, tc := range cases {
		got, err := tc.msg.ToMove()
		if tc.err {
			if err == nil {
				t.Errorf("%s: expected an error", tc.name)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s: got %v, %v; want %v", tc.name, got, err, tc.want)
		}
	}
	if _, err := (&Message{Type: TypeMove}).ToMove(); !errors.Is(err, errMissingField) {
		t.Errorf("expected errMissingField, got %v", err)
	}
}

func TestRandomName(t *testing.T) {
	for i := 0; i < 50; i++ {
		if n := RandomName(); n == "" || len(n) > maxNameLength {
			t.Fatalf("bad generated name %q", n)
		}
	}
}
