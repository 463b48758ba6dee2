package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/crowd-chess-bot/internal/obslog"
	"go.uber.org/zap"
)

var (
	ErrChallengeConflict = errors.New("a challenge is already outstanding")
	ErrNoService         = errors.New("challenge service is not configured")
)

// Coordinator owns the open-challenge lifecycle. It has its own lock and never holds it
// across a service call.
type Coordinator struct {
	mu  sync.Mutex
	svc Service
	cfg Config
	now func() time.Time

	status       Status
	offer        Offer
	pending      bool
	lastGameSeen time.Time

	listeners []Listener
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithListener(l Listener) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}

func NewCoordinator(svc Service, cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = def.OfferTimeout
	}
	if cfg.IdleChallengeAfter <= 0 {
		cfg.IdleChallengeAfter = def.IdleChallengeAfter
	}
	if cfg.AILevel < 1 || cfg.AILevel > 8 {
		cfg.AILevel = def.AILevel
	}
	c := &Coordinator{svc: svc, cfg: cfg, now: time.Now, status: StatusIdle}
	for _, opt := range opts {
		opt(c)
	}
	c.lastGameSeen = c.now()
	return c
}

// Status returns the current status and, while Offered, the outstanding offer.
func (c *Coordinator) Status() (Status, Offer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.offer
}

// OpenChallenge issues an open challenge anyone may accept.
func (c *Coordinator) OpenChallenge(ctx context.Context) (Offer, error) {
	if c.svc == nil {
		return Offer{}, ErrNoService
	}
	c.mu.Lock()
	if c.status == StatusOffered || c.pending {
		offer := c.offer
		c.mu.Unlock()
		return offer, ErrChallengeConflict
	}
	c.pending = true
	c.mu.Unlock()

	info, err := c.svc.CreateOpenChallenge(ctx, c.cfg.Clock)

	c.mu.Lock()
	c.pending = false
	if err != nil {
		c.mu.Unlock()
		return Offer{}, fmt.Errorf("open challenge: %w", err)
	}
	c.offer = Offer{ID: strings.TrimSpace(info.ID), URL: info.URL, CreatedAt: c.now()}
	c.status = StatusOffered
	offer := c.offer
	c.mu.Unlock()

	obslog.L().Info("challenge_offered", zap.String("challenge_id", offer.ID), zap.String("url", offer.URL))
	c.notify(StatusOffered, offer)
	return offer, nil
}

// StartAIGame asks the service for a game against the computer. It does not enter Offered.
func (c *Coordinator) StartAIGame(ctx context.Context) error {
	if c.svc == nil {
		return ErrNoService
	}
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrChallengeConflict
	}
	c.pending = true
	c.mu.Unlock()

	_, err := c.svc.CreateAIChallenge(ctx, c.cfg.AILevel, c.cfg.Clock)

	c.mu.Lock()
	c.pending = false
	if err == nil {
		c.lastGameSeen = c.now()
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ai challenge: %w", err)
	}
	obslog.L().Info("challenge_ai_created", zap.Int("level", c.cfg.AILevel))
	return nil
}

// Tick reconciles the coordinator against the active game id ("" when none).
func (c *Coordinator) Tick(ctx context.Context, activeGameID string) {
	now := c.now()

	c.mu.Lock()
	if activeGameID != "" {
		c.lastGameSeen = now
	}
	var (
		changed  []Status
		offer    = c.offer
		spawnAI  bool
		idleTime time.Duration
	)
	switch c.status {
	case StatusOffered:
		switch {
		case activeGameID != "" && activeGameID == c.offer.ID:
			changed = []Status{StatusAccepted, StatusIdle}
		case now.Sub(c.offer.CreatedAt) > c.cfg.OfferTimeout:
			changed = []Status{StatusExpired, StatusIdle}
		}
		if len(changed) > 0 {
			c.status = StatusIdle
			c.offer = Offer{}
		}
	case StatusIdle:
		idleTime = now.Sub(c.lastGameSeen)
		if activeGameID == "" && !c.pending && c.svc != nil && idleTime >= c.cfg.IdleChallengeAfter {
			spawnAI = true
			// restart the idle window so a slow or failed request is not retried every tick
			c.lastGameSeen = now
		}
	}
	c.mu.Unlock()

	for _, st := range changed {
		switch st {
		case StatusAccepted:
			obslog.L().Info("challenge_accepted", zap.String("challenge_id", offer.ID))
		case StatusExpired:
			obslog.L().Info("challenge_expired", zap.String("challenge_id", offer.ID))
		}
		c.notify(st, offer)
	}

	if spawnAI {
		obslog.L().Info("challenge_idle_timeout", zap.Duration("idle", idleTime))
		if err := c.StartAIGame(ctx); err != nil {
			obslog.L().Warn("challenge_ai_failed", zap.Error(err))
		}
	}
}

func (c *Coordinator) notify(st Status, offer Offer) {
	for _, l := range c.listeners {
		l.OnChallengeStateChanged(st, offer)
	}
}
