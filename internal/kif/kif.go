// Package kif renders finished games as KIF game records.
package kif

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"dobutsu/internal/session"
	"dobutsu/internal/shogi"
)

var fwDigits = [...]string{"０", "１", "２", "３", "４", "５", "６", "７", "８", "９"}

var rankKanji = [...]string{"一", "二", "三", "四"}

var pieceJP = map[shogi.Kind]string{
	shogi.Lion:     "ライオン",
	shogi.Kirin:    "キリン",
	shogi.Zou:      "ゾウ",
	shogi.Hiyoko:   "ひよこ",
	shogi.Niwatori: "にわとり",
}

var playerJP = [...]string{shogi.First: "先手", shogi.Second: "後手"}

const timeLayout = "2006/01/02 15:04:05"

// Header carries the metadata lines written above the moves.
type Header struct {
	First   string
	Second  string
	Started time.Time
	Ended   time.Time
}

// file counts columns from sente's right, as on a printed board.
func file(sq shogi.Square) int { return shogi.Cols - sq.Col }

func SquareKIF(sq shogi.Square) string {
	return fwDigits[file(sq)] + rankKanji[sq.Row]
}

func squareParen(sq shogi.Square) string {
	return fmt.Sprintf("(%d%d)", file(sq), sq.Row+1)
}

// MoveText renders one move, e.g. "２三ひよこ(23)" or "同キリン(32)".
// before is the position the move was played from; prevTo is the previous
// destination, if any.
func MoveText(before *shogi.Position, m shogi.Move, prevTo *shogi.Square) string {
	dst := SquareKIF(m.To)
	if prevTo != nil && *prevTo == m.To {
		dst = "同"
	}
	if m.Drop {
		return dst + pieceJP[m.Kind.Demote()] + "打"
	}
	pc := before.Board.At(m.From)
	name := pieceJP[pc.Kind]
	if pc.Kind == shogi.Hiyoko && m.To.Row == pc.Owner.FarRank() {
		name += "成"
	}
	return dst + name + squareParen(m.From)
}

func clock(per, total time.Duration) string {
	p := int(per.Round(time.Second) / time.Second)
	t := int(total.Round(time.Second) / time.Second)
	return fmt.Sprintf("(%2d:%02d/%02d:%02d:%02d)", p/60, p%60, t/3600, t/60%60, t%60)
}

// Ending renders the closing line for a record of n plies.
func Ending(n int, o shogi.Outcome, reason shogi.Reason) string {
	winner, ok := o.Winner()
	switch {
	case o == shogi.Draw:
		return fmt.Sprintf("まで%d手で千日手", n)
	case !ok:
		return fmt.Sprintf("まで%d手で中断", n)
	case reason == shogi.ReasonTry:
		return fmt.Sprintf("まで%d手でトライにより%sの勝ち", n, playerJP[winner])
	}
	return fmt.Sprintf("まで%d手で%sの勝ち", n, playerJP[winner])
}

// Format renders rec as KIF text with LF line endings.
func Format(rec *session.Record, h Header) string {
	var sb strings.Builder
	line := func(s string) {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	line("# KIF形式棋譜ファイル")
	if !h.Started.IsZero() {
		line("開始日時：" + h.Started.Format(timeLayout))
	}
	if !h.Ended.IsZero() {
		line("終了日時：" + h.Ended.Format(timeLayout))
	}
	line("手合割：どうぶつしょうぎ")
	line("先手：" + h.First)
	line("後手：" + h.Second)
	line("手数----指手---------消費時間--")

	var totals [2]time.Duration
	var prevTo *shogi.Square
	for i, e := range rec.Entries {
		totals[e.Player] += e.Elapsed
		text := MoveText(&e.Before, e.Move, prevTo)
		line(fmt.Sprintf("%4d %s %s", i+1, text, clock(e.Elapsed, totals[e.Player])))
		to := e.Move.To
		prevTo = &to
	}
	line(Ending(len(rec.Entries), rec.Outcome, rec.Reason))
	return sb.String()
}

// EncodeShiftJIS converts KIF text for viewers that expect the legacy encoding.
func EncodeShiftJIS(text string) ([]byte, error) {
	out, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode shift_jis: %w", err)
	}
	return out, nil
}
