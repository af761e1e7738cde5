package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"dobutsu/internal/engine"
	"dobutsu/internal/session"
	"dobutsu/internal/shogi"
)

// maxPlies caps a game that neither side can finish.
const maxPlies = 300

type match struct {
	A, B     string // strategy names
	Games    int
	Parallel int
	Settings engine.Settings
	Recorder session.Recorder
}

// Tally counts results from A's point of view.
type Tally struct {
	AWins, BWins, Draws, Unfinished int
	Plies                           int
}

func (t Tally) Games() int { return t.AWins + t.BWins + t.Draws + t.Unfinished }

// run plays m.Games games, A taking sente in the even-numbered ones.
func run(ctx context.Context, m match) (Tally, error) {
	if m.Games <= 0 {
		return Tally{}, errors.New("games must be positive")
	}
	for _, name := range []string{m.A, m.B} {
		if _, err := engine.New(name, m.Settings); err != nil {
			return Tally{}, err
		}
	}

	var (
		mu    sync.Mutex
		tally Tally
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.Parallel, 1))
	for i := 0; i < m.Games; i++ {
		g.Go(func() error {
			aFirst := i%2 == 0
			o, plies, err := playOne(ctx, m, i, aFirst)
			if err != nil {
				return fmt.Errorf("game %d: %w", i+1, err)
			}
			mu.Lock()
			defer mu.Unlock()
			tally.Plies += plies
			aSide := shogi.First
			if !aFirst {
				aSide = shogi.Second
			}
			switch o {
			case shogi.Ongoing:
				tally.Unfinished++
			case shogi.Draw:
				tally.Draws++
			case shogi.WinFor(aSide):
				tally.AWins++
			default:
				tally.BWins++
			}
			return nil
		})
	}
	err := g.Wait()
	return tally, err
}

func playOne(ctx context.Context, m match, n int, aFirst bool) (shogi.Outcome, int, error) {
	settings := m.Settings
	if settings.Seed != 0 {
		settings.Seed += uint64(n) * 2
	}
	a, err := engine.New(m.A, settings)
	if err != nil {
		return shogi.Ongoing, 0, err
	}
	if settings.Seed != 0 {
		settings.Seed++
	}
	b, err := engine.New(m.B, settings)
	if err != nil {
		return shogi.Ongoing, 0, err
	}

	first := session.Seat{Name: "arena-" + m.A, Policy: session.Computer(a)}
	second := session.Seat{Name: "arena-" + m.B, Policy: session.Computer(b)}
	if !aFirst {
		first, second = second, first
	}
	var opts []session.Option
	if m.Recorder != nil {
		opts = append(opts, session.WithRecorder(m.Recorder))
	}
	s := session.New(fmt.Sprintf("arena-%d", n+1), first, second, opts...)
	if err := s.Start(); err != nil {
		return shogi.Ongoing, 0, err
	}

	for ply := 0; s.Phase() == session.InProgress; ply++ {
		if ply >= maxPlies {
			if _, err := s.Abort("ply limit"); err != nil {
				return shogi.Ongoing, 0, err
			}
			break
		}
		if _, err := s.Step(ctx); err != nil {
			return shogi.Ongoing, 0, err
		}
	}
	o, reason := s.Outcome()
	plies := len(s.Moves())
	log.Debug().Int("game", n+1).Str("sente", first.Name).Str("gote", second.Name).
		Stringer("outcome", o).Str("reason", string(reason)).Int("plies", plies).Msg("arena-game-done")
	return o, plies, nil
}
