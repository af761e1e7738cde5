package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dobutsu/internal/config"
	"dobutsu/internal/engine"
)

const defaultRematchWindow = 10 * time.Second

// BotManager owns the bot pool. It hands out a single lobby seat so that
// exactly one bot waits in matchmaking at a time.
type BotManager struct {
	config        *config.Config
	bots          []*Bot
	seat          chan struct{}
	rematchWindow time.Duration
	log           zerolog.Logger
	wg            sync.WaitGroup
	mu            sync.RWMutex
}

func NewBotManager(cfg *config.Config, logger zerolog.Logger) *BotManager {
	m := &BotManager{
		config:        cfg,
		bots:          make([]*Bot, 0, cfg.PoolSize),
		seat:          make(chan struct{}, 1),
		rematchWindow: defaultRematchWindow,
		log:           logger.With().Str("component", "bot-hoster").Logger(),
	}
	m.seat <- struct{}{}
	return m
}

// Start connects every bot and runs it until ctx ends. Bots that fail to
// connect are skipped.
func (m *BotManager) Start(ctx context.Context) error {
	if m.config.PoolSize == 0 {
		return errors.New("BOT_POOL_SIZE is 0")
	}
	m.log.Info().Int("size", m.config.PoolSize).Str("strategy", m.config.Strategy).Msg("starting bot pool")

	settings := m.config.EngineSettings()
	for i := 0; i < m.config.PoolSize; i++ {
		strategy, err := engine.New(m.config.Strategy, settings)
		if err != nil {
			return err
		}
		bot := NewBot(m.config.BackendURL, strategy, m)
		if err := bot.Connect(); err != nil {
			m.log.Warn().Err(err).Int("bot", i+1).Msg("bot failed to connect, continuing with the rest")
			continue
		}

		m.mu.Lock()
		m.bots = append(m.bots, bot)
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			bot.Run(ctx)
		}()
	}

	m.mu.RLock()
	connected := len(m.bots)
	m.mu.RUnlock()
	if connected == 0 {
		return fmt.Errorf("no bots connected to %s", m.config.BackendURL)
	}
	m.log.Info().Int("connected", connected).Int("size", m.config.PoolSize).Msg("bot pool ready")
	return nil
}

// Stop disconnects every bot and waits for their loops to finish.
func (m *BotManager) Stop() {
	m.mu.RLock()
	bots := append([]*Bot(nil), m.bots...)
	m.mu.RUnlock()
	for _, bot := range bots {
		bot.Disconnect()
	}
	m.wg.Wait()
	m.log.Info().Int("bots", len(bots)).Msg("bot pool stopped")
}

func (m *BotManager) acquireSeat(ctx context.Context) bool {
	select {
	case <-m.seat:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *BotManager) releaseSeat() {
	select {
	case m.seat <- struct{}{}:
	default:
	}
}

// GetStats returns current pool statistics
func (m *BotManager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]int{
		"total":        len(m.bots),
		"idle":         0,
		"waiting":      0,
		"in_game":      0,
		"disconnected": 0,
	}
	for _, bot := range m.bots {
		bot.mu.RLock()
		state := bot.State
		bot.mu.RUnlock()

		switch state {
		case BotIdle, BotFinished:
			stats["idle"]++
		case BotWaiting:
			stats["waiting"]++
		case BotInGame:
			stats["in_game"]++
		case BotDisconnected:
			stats["disconnected"]++
		}
	}
	return stats
}
