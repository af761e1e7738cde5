package kif

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"dobutsu/internal/session"
	"dobutsu/internal/shogi"
)

func sq(r, c int) shogi.Square { return shogi.Square{Row: r, Col: c} }

func buildRecord(t *testing.T, moves []shogi.Move, elapsed time.Duration) *session.Record {
	t.Helper()
	st := shogi.NewState()
	rec := &session.Record{Initial: st.Position}
	for i, m := range moves {
		before := st.Position
		player := st.Turn
		if err := st.Apply(player, m); err != nil {
			t.Fatalf("apply %s: %v", m, err)
		}
		rec.Entries = append(rec.Entries, session.Entry{Ply: i + 1, Player: player, Move: m, Before: before, Elapsed: elapsed})
	}
	rec.Final = st.Position
	rec.Outcome, rec.Reason = st.OutcomeDetail()
	return rec
}

func TestSquareKIF(t *testing.T) {
	cases := []struct {
		sq   shogi.Square
		want string
	}{
		{sq(0, 0), "３一"},
		{sq(0, 2), "１一"},
		{sq(2, 1), "２三"},
		{sq(3, 2), "１四"},
	}
	for _, tc := range cases {
		if got := SquareKIF(tc.sq); got != tc.want {
			t.Fatalf("%s: got=%q want=%q", tc.sq, got, tc.want)
		}
	}
}

func TestFormatMoves(t *testing.T) {
	rec := buildRecord(t, []shogi.Move{
		shogi.BoardMove(sq(2, 1), sq(1, 1)),
		shogi.BoardMove(sq(0, 1), sq(1, 1)),
		shogi.DropMove(shogi.Hiyoko, sq(2, 1)),
	}, 2*time.Second)

	started := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	out := Format(rec, Header{First: "alice", Second: "bob", Started: started})
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")

	want := []string{
		"# KIF形式棋譜ファイル",
		"開始日時：2026/10/15 12:00:00",
		"手合割：どうぶつしょうぎ",
		"先手：alice",
		"後手：bob",
		"手数----指手---------消費時間--",
		"   1 ２二ひよこ(23) ( 0:02/00:00:02)",
		"   2 同ライオン(21) ( 0:02/00:00:02)",
		"   3 ２三ひよこ打 ( 0:02/00:00:04)",
		"まで3手で中断",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got=%q want=%q", i, lines[i], want[i])
		}
	}
}

func TestPromotionIsMarked(t *testing.T) {
	rec := buildRecord(t, []shogi.Move{
		shogi.BoardMove(sq(2, 1), sq(1, 1)),
		shogi.BoardMove(sq(0, 1), sq(1, 0)),
		shogi.BoardMove(sq(1, 1), sq(0, 1)),
	}, time.Second)
	got := MoveText(&rec.Entries[2].Before, rec.Entries[2].Move, nil)
	if want := "２一ひよこ成(22)"; got != want {
		t.Fatalf("got=%q want=%q", got, want)
	}
}

func TestEnding(t *testing.T) {
	cases := []struct {
		o      shogi.Outcome
		reason shogi.Reason
		want   string
	}{
		{shogi.FirstWins, shogi.ReasonKingCaptured, "まで9手で先手の勝ち"},
		{shogi.SecondWins, shogi.ReasonTry, "まで9手でトライにより後手の勝ち"},
		{shogi.Draw, shogi.ReasonRepetition, "まで9手で千日手"},
		{shogi.Ongoing, session.ReasonAborted, "まで9手で中断"},
	}
	for _, tc := range cases {
		if got := Ending(9, tc.o, tc.reason); got != tc.want {
			t.Fatalf("got=%q want=%q", got, tc.want)
		}
	}
}

func TestEncodeShiftJISRoundTrip(t *testing.T) {
	rec := buildRecord(t, []shogi.Move{shogi.BoardMove(sq(3, 2), sq(2, 2))}, time.Second)
	text := Format(rec, Header{First: "先手さん", Second: "後手さん"})
	raw, err := EncodeShiftJIS(text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(back) != text {
		t.Fatalf("round trip changed the text:\n%s\nvs\n%s", back, text)
	}
}
