package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/park285/crowd-chess-bot/internal/challenge"
	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/obslog"
	"github.com/park285/crowd-chess-bot/pkg/overlaydto"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	InfoFile      = "info.json"
	BoardFile     = "board.png"
	ChallengeFile = "challenge_qr.png"

	qrSize         = 256
	topVotersLimit = 5
	storeTimeout   = 2 * time.Second
)

// RoundSource is the read side of the crowd state.
type RoundSource interface {
	Snapshot() crowd.Session
	Tally() []crowd.Entry
	VoterCount() int
}

type AccountSource interface {
	Account(ctx context.Context) (domain.Account, error)
}

// VoterBoard ranks voters over a time window and counts the votes of one game.
type VoterBoard interface {
	TopVoters(ctx context.Context, since time.Time, limit int) ([]overlaydto.VoterCount, error)
	GameVotes(ctx context.Context, gameID string) (int, error)
}

type PublisherConfig struct {
	Dir     string
	BaseURL string
	// LeaderboardWindow bounds the top voters shown in info.json.
	LeaderboardWindow time.Duration
	BoardWidth        int
}

// Publisher keeps the files and Redis keys the streaming scene reads in sync with the bot.
// It implements crowd.Listener and challenge.Listener; notifications are queued and
// applied by Run so callers never wait on disk or Redis.
type Publisher struct {
	cfg      PublisherConfig
	round    RoundSource
	account  AccountSource
	voters   VoterBoard
	store    *Store
	renderer *Renderer
	now      func() time.Time

	events chan Event

	mu        sync.Mutex
	challenge overlaydto.ChallengeState
	record    domain.Account
	lastURL   string
	lastInfo  []byte
}

type PublisherOption func(*Publisher)

func WithStore(s *Store) PublisherOption { return func(p *Publisher) { p.store = s } }

func WithVoterBoard(v VoterBoard) PublisherOption { return func(p *Publisher) { p.voters = v } }

func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(cfg PublisherConfig, round RoundSource, account AccountSource, opts ...PublisherOption) *Publisher {
	if cfg.LeaderboardWindow <= 0 {
		cfg.LeaderboardWindow = 7 * 24 * time.Hour
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	p := &Publisher{
		cfg:       cfg,
		round:     round,
		account:   account,
		renderer:  NewRenderer(cfg.BoardWidth),
		now:       time.Now,
		events:    make(chan Event, 256),
		challenge: overlaydto.ChallengeState{Status: string(challenge.StatusIdle)},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) OnVoteAccepted(v crowd.Vote) {
	p.enqueue(Event{Kind: "vote", GameID: v.GameID, RoundID: v.RoundID, User: v.User, Move: v.Move})
}

func (p *Publisher) OnRoundCleared(gameID, roundID string) {
	p.enqueue(Event{Kind: "round_cleared", GameID: gameID, RoundID: roundID})
}

func (p *Publisher) OnChallengeStateChanged(status challenge.Status, offer challenge.Offer) {
	cs := overlaydto.ChallengeState{Status: string(status)}
	if status == challenge.StatusOffered {
		cs.ID, cs.URL, cs.CreatedAt = offer.ID, offer.URL, offer.CreatedAt
	}
	p.mu.Lock()
	p.challenge = cs
	p.mu.Unlock()
	p.enqueue(Event{Kind: "challenge", Status: string(status)})
}

func (p *Publisher) enqueue(ev Event) {
	select {
	case p.events <- ev:
	default:
		obslog.L().Warn("overlay_event_dropped", zap.String("kind", ev.Kind))
	}
}

// Run refreshes the overlay every interval and applies queued notifications until ctx ends.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.refreshLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.events:
			p.apply(ctx, ev)
			if ev.Kind != "vote" {
				p.refreshLogged(ctx)
			}
		case <-ticker.C:
			p.refreshLogged(ctx)
		}
	}
}

func (p *Publisher) apply(ctx context.Context, ev Event) {
	if p.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if ev.Kind == "vote" {
		if err := p.store.IncrVoter(sctx, ev.GameID, ev.User); err != nil {
			obslog.L().Warn("overlay_voter_incr_failed", zap.String("game_id", ev.GameID), zap.Error(err))
		}
	}
	if err := p.store.Publish(sctx, ev); err != nil {
		obslog.L().Warn("overlay_publish_failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

func (p *Publisher) refreshLogged(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		obslog.L().Warn("overlay_refresh_failed", zap.Error(err))
	}
}

// Refresh rebuilds every overlay artefact from the current state.
func (p *Publisher) Refresh(ctx context.Context) error {
	sess := p.round.Snapshot()
	st := p.roundState(sess)
	var errs []error

	if p.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		if err := p.store.SaveRound(sctx, st); err != nil {
			errs = append(errs, fmt.Errorf("save round: %w", err))
		}
		p.mu.Lock()
		cs := p.challenge
		p.mu.Unlock()
		if err := p.store.SaveChallenge(sctx, cs); err != nil {
			errs = append(errs, fmt.Errorf("save challenge: %w", err))
		}
		cancel()
	}

	if p.cfg.Dir == "" {
		return errors.Join(errs...)
	}
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("overlay dir: %w", err)
	}
	if sess.Active() {
		png, err := p.renderer.RenderPNG(ctx, st)
		if err != nil {
			errs = append(errs, err)
		} else if err := writeFileAtomic(p.cfg.Dir, BoardFile, png); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.writeChallengeQR(); err != nil {
		errs = append(errs, err)
	}
	if err := p.writeInfo(ctx, sess); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Publisher) roundState(sess crowd.Session) overlaydto.RoundState {
	st := overlaydto.RoundState{
		GameID:    sess.ID,
		RoundID:   sess.RoundID,
		Color:     string(sess.Color),
		FEN:       sess.FEN,
		LastMove:  sess.LastMove,
		IsMyTurn:  sess.IsMyTurn,
		UpdatedAt: p.now(),
	}
	if !sess.Active() {
		return st
	}
	for _, e := range p.round.Tally() {
		st.Votes = append(st.Votes, overlaydto.VoteCount{Move: e.Move, Votes: e.Votes})
	}
	st.Voters = p.round.VoterCount()
	return st
}

func (p *Publisher) writeChallengeQR() error {
	p.mu.Lock()
	cs := p.challenge
	p.mu.Unlock()
	path := filepath.Join(p.cfg.Dir, ChallengeFile)
	if cs.Status != string(challenge.StatusOffered) || cs.URL == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	png, err := qrcode.Encode(cs.URL, qrcode.Medium, qrSize)
	if err != nil {
		return fmt.Errorf("challenge qr: %w", err)
	}
	return writeFileAtomic(p.cfg.Dir, ChallengeFile, png)
}

// writeInfo updates info.json. Account failures keep the previous record; the file is only
// rewritten when its content changes.
func (p *Publisher) writeInfo(ctx context.Context, sess crowd.Session) error {
	if p.account != nil {
		acc, err := p.account.Account(ctx)
		if err != nil {
			obslog.L().Debug("overlay_account_failed", zap.Error(err))
		} else {
			p.mu.Lock()
			p.record = acc
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	rec := p.record
	cs := p.challenge
	if sess.Active() {
		p.lastURL = gameURL(p.cfg.BaseURL, sess.ID, sess.Color)
	} else if p.lastURL == "" && rec.Username != "" {
		p.lastURL = p.cfg.BaseURL + "/@/" + rec.Username
	}
	url := p.lastURL
	p.mu.Unlock()

	info := overlaydto.OBSInfo{
		URL:       url,
		Wins:      rec.Wins,
		Draws:     rec.Draws,
		Losses:    rec.Losses,
		Record:    fmt.Sprintf("%d-%d-%d", rec.Wins, rec.Draws, rec.Losses),
		GameID:    sess.ID,
		GameVotes: p.gameVotes(ctx, sess.ID),
		Challenge: cs,
		TopVoters: p.topVoters(ctx, sess.ID),
	}
	body, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	p.mu.Lock()
	unchanged := string(body) == string(p.lastInfo)
	p.mu.Unlock()
	if unchanged {
		return nil
	}

	// GeneratedAt is excluded from the change check above.
	info.GeneratedAt = p.now().UTC()
	stamped, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(p.cfg.Dir, InfoFile, stamped); err != nil {
		return err
	}
	p.mu.Lock()
	p.lastInfo = body
	p.mu.Unlock()
	return nil
}

func (p *Publisher) topVoters(ctx context.Context, gameID string) []overlaydto.VoterCount {
	var (
		out []overlaydto.VoterCount
		err error
	)
	switch {
	case p.voters != nil:
		out, err = p.voters.TopVoters(ctx, p.now().Add(-p.cfg.LeaderboardWindow), topVotersLimit)
	case p.store != nil && gameID != "":
		out, err = p.store.TopVoters(ctx, gameID, topVotersLimit)
	}
	if err != nil {
		obslog.L().Debug("overlay_top_voters_failed", zap.Error(err))
		return []overlaydto.VoterCount{}
	}
	if out == nil {
		return []overlaydto.VoterCount{}
	}
	return out
}

func (p *Publisher) gameVotes(ctx context.Context, gameID string) int {
	if p.voters == nil || gameID == "" {
		return 0
	}
	n, err := p.voters.GameVotes(ctx, gameID)
	if err != nil {
		obslog.L().Debug("overlay_game_votes_failed", zap.String("game_id", gameID), zap.Error(err))
		return 0
	}
	return n
}

func gameURL(base, gameID string, c domain.Color) string {
	if !c.Valid() {
		c = domain.White
	}
	return base + "/" + gameID + "/" + string(c)
}

func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}
