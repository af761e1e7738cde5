package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dobutsu/internal/engine"
	"dobutsu/internal/shogi"
)

// Game events go to the global logger.
func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func sq(r, c int) shogi.Square { return shogi.Square{Row: r, Col: c} }

type fakeRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (f *fakeRecorder) RecordResult(_ context.Context, res Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

var lionShuttle = []shogi.Move{
	shogi.BoardMove(sq(3, 1), sq(2, 0)),
	shogi.BoardMove(sq(0, 1), sq(1, 0)),
	shogi.BoardMove(sq(2, 0), sq(3, 1)),
	shogi.BoardMove(sq(1, 0), sq(0, 1)),
}

func humans(rec Recorder) *Session {
	return New("g1",
		Seat{Name: "alice", Policy: Human()},
		Seat{Name: "bob", Policy: Human()},
		WithRecorder(rec))
}

func TestSubmitBeforeStart(t *testing.T) {
	s := humans(nil)
	if _, err := s.Submit(shogi.First, lionShuttle[0]); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSubmitRejectsWithoutMutation(t *testing.T) {
	s := humans(nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := s.Position()
	if _, err := s.Submit(shogi.Second, lionShuttle[1]); !errors.Is(err, shogi.ErrWrongTurn) {
		t.Fatalf("expected ErrWrongTurn, got %v", err)
	}
	if _, err := s.Submit(shogi.First, shogi.BoardMove(sq(2, 1), sq(0, 1))); !errors.Is(err, shogi.ErrInvalidMove) {
		t.Fatalf("expected ErrInvalidMove, got %v", err)
	}
	if s.Position() != before || len(s.Moves()) != 0 {
		t.Fatalf("rejected moves changed the session")
	}
	if s.Phase() != InProgress {
		t.Fatalf("rejections must not end the game, phase %s", s.Phase())
	}
}

func TestRepetitionConcludesAndRecords(t *testing.T) {
	rec := &fakeRecorder{}
	s := humans(rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Record(); !errors.Is(err, ErrNotConcluded) {
		t.Fatalf("record during play: expected ErrNotConcluded, got %v", err)
	}

	var last Update
	for i, m := range append(lionShuttle, lionShuttle...) {
		up, err := s.Submit(s.Position().Turn, m)
		if err != nil {
			t.Fatalf("ply %d: %v", i+1, err)
		}
		if up.Ply != i+1 {
			t.Fatalf("expected ply %d, got %d", i+1, up.Ply)
		}
		last = up
	}
	if !last.Concluded || last.Outcome != shogi.Draw || last.Reason != shogi.ReasonRepetition {
		t.Fatalf("expected a repetition draw, got %+v", last)
	}
	if s.Phase() != Concluded {
		t.Fatalf("expected concluded, got %s", s.Phase())
	}
	if _, err := s.Submit(shogi.First, lionShuttle[0]); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("move after conclusion: expected ErrNotInProgress, got %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected exactly one recorded result, got %d", rec.count())
	}
	res := rec.results[0]
	if res.First != "alice" || res.Second != "bob" || res.Outcome != shogi.Draw {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Record.Len() != 8 {
		t.Fatalf("expected 8 plies in the record, got %d", res.Record.Len())
	}
}

func TestRecordSeek(t *testing.T) {
	s := humans(nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	moves := []shogi.Move{
		shogi.BoardMove(sq(2, 1), sq(1, 1)),
		shogi.BoardMove(sq(0, 1), sq(1, 1)),
		shogi.DropMove(shogi.Hiyoko, sq(2, 1)),
	}
	for _, m := range moves {
		if _, err := s.Submit(s.Position().Turn, m); err != nil {
			t.Fatalf("submit %s: %v", m, err)
		}
	}
	if _, err := s.Abort("test over"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	rec, err := s.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	initial, err := rec.Seek(0)
	if err != nil || initial != shogi.NewPosition() {
		t.Fatalf("seek 0 must return the starting layout (err %v)", err)
	}
	replay := shogi.FromPosition(shogi.NewPosition())
	for ply := 1; ply <= rec.Len(); ply++ {
		if err := replay.Apply(replay.Turn, moves[ply-1]); err != nil {
			t.Fatalf("replay: %v", err)
		}
		got, err := rec.Seek(ply)
		if err != nil {
			t.Fatalf("seek %d: %v", ply, err)
		}
		if got != replay.Position {
			t.Fatalf("seek %d:\n%s\nwant\n%s", ply, got.String(), replay.Position.String())
		}
	}
	if _, err := rec.Seek(rec.Len() + 1); !errors.Is(err, ErrPlyOutOfRange) {
		t.Fatalf("expected ErrPlyOutOfRange, got %v", err)
	}
	if _, err := rec.Seek(-1); !errors.Is(err, ErrPlyOutOfRange) {
		t.Fatalf("expected ErrPlyOutOfRange, got %v", err)
	}
	if st, err := rec.Replay(); err != nil || st.Position != rec.Final {
		t.Fatalf("replay must reach the final position (err %v)", err)
	}
}

func TestAbortIsNotAResult(t *testing.T) {
	rec := &fakeRecorder{}
	s := humans(rec)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	up, err := s.Abort("opponent disconnected")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if !up.Concluded || up.Outcome != shogi.Ongoing || up.Reason != ReasonAborted {
		t.Fatalf("unexpected abort update %+v", up)
	}
	if rec.count() != 0 {
		t.Fatalf("aborted games must not be recorded")
	}
	if _, err := s.Abort("again"); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("double abort: expected ErrNotInProgress, got %v", err)
	}
}

func TestLionCaptureConcludes(t *testing.T) {
	rec := &fakeRecorder{}
	var pos shogi.Position
	pos.Board.Set(sq(3, 1), shogi.Piece{Kind: shogi.Lion, Owner: shogi.First})
	pos.Board.Set(sq(1, 1), shogi.Piece{Kind: shogi.Kirin, Owner: shogi.First})
	pos.Board.Set(sq(0, 1), shogi.Piece{Kind: shogi.Lion, Owner: shogi.Second})
	s := New("g2", Seat{Name: "a", Policy: Human()}, Seat{Name: "b", Policy: Human()},
		WithRecorder(rec), WithPosition(pos))
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	up, err := s.Submit(shogi.First, shogi.BoardMove(sq(1, 1), sq(0, 1)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if up.Outcome != shogi.FirstWins || up.Reason != shogi.ReasonKingCaptured || !up.Concluded {
		t.Fatalf("expected sente win by capture, got %+v", up)
	}
	if rec.count() != 1 || rec.results[0].Outcome != shogi.FirstWins {
		t.Fatalf("expected the win to be recorded")
	}
}

func TestComputerSeat(t *testing.T) {
	strategy, err := engine.New("greedy", engine.Settings{TimeBudget: time.Second})
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	s := New("g3", Seat{Name: "human", Policy: Human()}, Seat{Name: "cpu", Policy: Computer(strategy)})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Step(context.Background()); !errors.Is(err, ErrNotComputerTurn) {
		t.Fatalf("step on human turn: expected ErrNotComputerTurn, got %v", err)
	}
	if _, err := s.Submit(shogi.First, lionShuttle[0]); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.Submit(shogi.Second, lionShuttle[1]); !errors.Is(err, ErrComputerSeat) {
		t.Fatalf("submit for computer: expected ErrComputerSeat, got %v", err)
	}
	up, err := s.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if up.Player != shogi.Second || up.Ply != 2 {
		t.Fatalf("unexpected computer update %+v", up)
	}
	if s.Position().Turn != shogi.First {
		t.Fatalf("turn should pass back to the human")
	}
}

func TestComputerSelfPlay(t *testing.T) {
	settings := engine.Settings{TimeBudget: 100 * time.Millisecond, MaxDepth: 2, Seed: 17}
	first, _ := engine.New("minimax", settings)
	second, _ := engine.New("random", settings)
	rec := &fakeRecorder{}
	s := New("g4", Seat{Name: "mm", Policy: Computer(first)}, Seat{Name: "rnd", Policy: Computer(second)}, WithRecorder(rec))
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 300 && s.Phase() == InProgress; i++ {
		if _, err := s.Step(context.Background()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if s.Phase() == InProgress {
		if _, err := s.Abort("ply limit"); err != nil {
			t.Fatalf("abort: %v", err)
		}
	}
	record, err := s.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	st, err := record.Replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if st.Position != record.Final {
		t.Fatalf("replayed game diverged from the final position")
	}
}

func TestRestartSwapsSeats(t *testing.T) {
	s := humans(nil)
	if err := s.Restart("g1-2"); !errors.Is(err, ErrNotConcluded) {
		t.Fatalf("restart during play: expected ErrNotConcluded, got %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Submit(shogi.First, lionShuttle[0]); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.Abort("rematch"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if err := s.Restart("g1-2"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if s.ID() != "g1-2" {
		t.Fatalf("restart should switch to the new game id, got %q", s.ID())
	}
	if s.Seat(shogi.First).Name != "bob" || s.Seat(shogi.Second).Name != "alice" {
		t.Fatalf("seats were not swapped")
	}
	if s.Phase() != InProgress || s.Position() != shogi.NewPosition() || len(s.Moves()) != 0 {
		t.Fatalf("restart must reset the game")
	}
}
