package storage

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// RankingSize is how many players each list shows.
const RankingSize = 3

// MinGamesForRate is the number of games a player needs to enter a win-rate list.
const MinGamesForRate = 3

type Standing struct {
	Username  string    `json:"username"`
	Wins      int       `json:"wins"`
	Total     int       `json:"total"`
	WinRate   float64   `json:"winRate"`
	CreatedAt time.Time `json:"created_at"`
}

// Leaderboard is one period's top players by wins and by win rate.
type Leaderboard struct {
	Wins  []Standing `json:"wins"`
	Rates []Standing `json:"rates"`
}

type Rankings struct {
	AllTime Leaderboard `json:"allTime"`
	Monthly Leaderboard `json:"monthly"`
}

// Rankings computes the all-time lists from the user counters and the
// monthly lists from matches played since the start of now's month.
func (s *Store) Rankings(ctx context.Context, now time.Time) (*Rankings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, rating, wins, losses, draws, created_at FROM users`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	created := make(map[string]time.Time)
	var allTime []Standing
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		created[u.Username] = u.CreatedAt
		allTime = append(allTime, standing(u.Username, u.Wins, u.Total(), u.CreatedAt))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	mrows, err := s.db.QueryContext(ctx,
		`SELECT player_sente, player_gote, winner FROM match_history WHERE played_at >= ?`,
		startOfMonth.UTC().Format(tsLayout))
	if err != nil {
		return nil, fmt.Errorf("query monthly matches: %w", err)
	}
	defer mrows.Close()

	type tally struct{ wins, total int }
	monthly := make(map[string]*tally)
	bump := func(name string, won bool) {
		t := monthly[name]
		if t == nil {
			t = &tally{}
			monthly[name] = t
		}
		t.total++
		if won {
			t.wins++
		}
	}
	for mrows.Next() {
		var sente, gote, winner string
		if err := mrows.Scan(&sente, &gote, &winner); err != nil {
			return nil, err
		}
		bump(sente, winner == "sente")
		bump(gote, winner == "gote")
	}
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	var month []Standing
	for name, t := range monthly {
		month = append(month, standing(name, t.wins, t.total, created[name]))
	}
	return &Rankings{
		AllTime: leaderboard(allTime),
		Monthly: leaderboard(month),
	}, nil
}

func standing(name string, wins, total int, created time.Time) Standing {
	st := Standing{Username: name, Wins: wins, Total: total, CreatedAt: created}
	if total > 0 {
		st.WinRate = float64(wins) / float64(total) * 100
	}
	return st
}

func leaderboard(all []Standing) Leaderboard {
	var byWins, byRate []Standing
	for _, st := range all {
		if st.Wins > 0 {
			byWins = append(byWins, st)
		}
		if st.Total >= MinGamesForRate {
			byRate = append(byRate, st)
		}
	}
	// Ties go to the newer account; the name keeps the order total.
	newer := func(a, b Standing) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Username < b.Username
	}
	sort.Slice(byWins, func(i, j int) bool {
		if byWins[i].Wins != byWins[j].Wins {
			return byWins[i].Wins > byWins[j].Wins
		}
		return newer(byWins[i], byWins[j])
	})
	sort.Slice(byRate, func(i, j int) bool {
		if byRate[i].WinRate != byRate[j].WinRate {
			return byRate[i].WinRate > byRate[j].WinRate
		}
		return newer(byRate[i], byRate[j])
	})
	return Leaderboard{Wins: top(byWins), Rates: top(byRate)}
}

func top(s []Standing) []Standing {
	if s == nil {
		return []Standing{}
	}
	return s[:min(len(s), RankingSize)]
}
