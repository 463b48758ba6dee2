// Package bot runs the polling loops that connect chat votes to the game service.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/lichess"
	"github.com/park285/crowd-chess-bot/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GameService is the game server API the loops drive.
type GameService interface {
	Account(ctx context.Context) (domain.Account, error)
	ListOngoing(ctx context.Context) ([]domain.GameInfo, error)
	StreamEvents(ctx context.Context, handle func(domain.Event)) error
	SubmitMove(ctx context.Context, gameID, move string) error
	Resign(ctx context.Context, gameID string) error
	AcceptChallenge(ctx context.Context, id string) error
	DeclineChallenge(ctx context.Context, id string) error
	PlayerOnline(ctx context.Context, userID string) (bool, error)
}

// ChatTransport delivers chat lines in batches. ReceiveBatch returns an error only when
// the transport has given up reconnecting.
type ChatTransport interface {
	Connect(ctx context.Context) error
	ReceiveBatch(ctx context.Context, max int) ([]domain.ChatMessage, error)
	SendLine(ctx context.Context, text string) error
	Close(ctx context.Context) error
}

type MessageHandler interface {
	Handle(ctx context.Context, msg domain.ChatMessage) error
}

// Watchdog advances the challenge lifecycle.
type Watchdog interface {
	Tick(ctx context.Context, activeGameID string)
}

type Intervals struct {
	Chat        time.Duration
	Resolve     time.Duration
	Liveness    time.Duration
	Watchdog    time.Duration
	Refresh     time.Duration
	StreamRetry time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		Chat:        200 * time.Millisecond,
		Resolve:     500 * time.Millisecond,
		Liveness:    500 * time.Millisecond,
		Watchdog:    time.Second,
		Refresh:     time.Second,
		StreamRetry: time.Second,
	}
}

func (iv Intervals) withDefaults() Intervals {
	def := DefaultIntervals()
	pick := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return v
	}
	return Intervals{
		Chat:        pick(iv.Chat, def.Chat),
		Resolve:     pick(iv.Resolve, def.Resolve),
		Liveness:    pick(iv.Liveness, def.Liveness),
		Watchdog:    pick(iv.Watchdog, def.Watchdog),
		Refresh:     pick(iv.Refresh, def.Refresh),
		StreamRetry: pick(iv.StreamRetry, def.StreamRetry),
	}
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Runner owns the loops. Only resolveOnce submits moves; only resolveOnce and livenessOnce resign.
type Runner struct {
	game      GameService
	chat      ChatTransport
	state     *crowd.State
	router    MessageHandler
	watchdog  Watchdog
	iv        Intervals
	batchSize int
	callTO    time.Duration
	tasks     []task

	self string
}

type Option func(*Runner)

func WithIntervals(iv Intervals) Option { return func(r *Runner) { r.iv = iv.withDefaults() } }

func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithTask adds a background job that runs alongside the loops and stops with them.
func WithTask(name string, run func(ctx context.Context) error) Option {
	return func(r *Runner) {
		if run != nil {
			r.tasks = append(r.tasks, task{name: name, run: run})
		}
	}
}

func NewRunner(game GameService, chat ChatTransport, state *crowd.State, router MessageHandler, watchdog Watchdog, opts ...Option) *Runner {
	r := &Runner{
		game:      game,
		chat:      chat,
		state:     state,
		router:    router,
		watchdog:  watchdog,
		iv:        DefaultIntervals(),
		batchSize: 64,
		callTO:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until ctx is cancelled or a loop fails fatally. A cancelled ctx is a clean exit.
func (r *Runner) Run(ctx context.Context) error {
	if acc, err := r.game.Account(ctx); err != nil {
		obslog.L().Warn("bot_account_failed", zap.Error(err))
	} else {
		r.self = strings.ToLower(acc.ID)
		obslog.L().Info("bot_account", zap.String("id", acc.ID), zap.String("username", acc.Username))
	}
	if err := r.chat.Connect(ctx); err != nil {
		// The transport keeps retrying on its own until its budget runs out.
		obslog.L().Warn("bot_chat_connect_failed", zap.Error(err))
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = r.chat.Close(cctx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return every(gctx, r.iv.Chat, r.chatOnce) })
	g.Go(func() error { return every(gctx, r.iv.Resolve, r.quiet(r.resolveOnce)) })
	g.Go(func() error { return every(gctx, r.iv.Liveness, r.quiet(r.livenessOnce)) })
	g.Go(func() error { return every(gctx, r.iv.Refresh, r.quiet(r.refreshOnce)) })
	g.Go(func() error {
		return every(gctx, r.iv.Watchdog, func(ctx context.Context) error {
			if r.watchdog != nil {
				r.watchdog.Tick(ctx, r.state.Snapshot().ID)
			}
			return nil
		})
	})
	g.Go(func() error { return r.streamLoop(gctx) })
	for _, t := range r.tasks {
		g.Go(func() error {
			if err := t.run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", t.name, err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func every(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// quiet adapts a loop body that absorbs its own errors.
func (r *Runner) quiet(fn func(context.Context)) func(context.Context) error {
	return func(ctx context.Context) error {
		fn(ctx)
		return nil
	}
}

func (r *Runner) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.callTO)
}

func (r *Runner) chatOnce(ctx context.Context) error {
	batch, err := r.chat.ReceiveBatch(ctx, r.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("chat transport: %w", err)
	}
	for _, msg := range batch {
		if err := r.router.Handle(ctx, msg); err != nil {
			obslog.L().Debug("bot_chat_reply_failed", zap.String("user", msg.User), zap.Error(err))
		}
	}
	return nil
}

// resolveOnce evaluates the round. Resignation may happen on either side's turn;
// moves are only submitted on ours.
func (r *Runner) resolveOnce(ctx context.Context) {
	res := r.state.ResolveRound()
	switch res.Outcome {
	case crowd.ResignationDue:
		cctx, cancel := r.call(ctx)
		err := r.game.Resign(cctx, res.GameID)
		cancel()
		if err != nil {
			obslog.L().Warn("bot_resign_failed", zap.String("game_id", res.GameID), zap.Error(err))
			return
		}
		obslog.L().Info("bot_resigned_by_vote", zap.String("game_id", res.GameID),
			zap.Int("resign_votes", res.ResignVotes), zap.Int("total_votes", res.TotalVotes))
		r.state.ClearIf(res.GameID)
	case crowd.MoveChosen:
		if !r.state.IsMyTurn() {
			return
		}
		cctx, cancel := r.call(ctx)
		err := r.game.SubmitMove(cctx, res.GameID, res.Move)
		cancel()
		if err != nil {
			if lichess.IsStatus(err, fasthttp.StatusBadRequest) {
				obslog.L().Info("bot_move_rejected", zap.String("game_id", res.GameID), zap.String("move", res.Move), zap.Error(err))
			} else {
				obslog.L().Warn("bot_move_failed", zap.String("game_id", res.GameID), zap.String("move", res.Move), zap.Error(err))
			}
			r.state.ClearRound(res.GameID, res.Move)
			return
		}
		obslog.L().Info("bot_move_played", zap.String("game_id", res.GameID), zap.String("move", res.Move),
			zap.Int("total_votes", res.TotalVotes))
		r.state.MarkMoved(res.GameID, res.Move)
		r.state.ClearRound(res.GameID, "")
	}
}

// livenessOnce resigns when a human opponent has gone offline. Games without an
// opponent id (built-in AI, anonymous) are skipped.
func (r *Runner) livenessOnce(ctx context.Context) {
	sess := r.state.Snapshot()
	if !sess.Active() || sess.OpponentID == "" {
		return
	}
	cctx, cancel := r.call(ctx)
	online, err := r.game.PlayerOnline(cctx, sess.OpponentID)
	cancel()
	if err != nil {
		obslog.L().Debug("bot_liveness_failed", zap.String("opponent", sess.OpponentID), zap.Error(err))
		return
	}
	if online {
		return
	}
	if r.state.Snapshot().ID != sess.ID {
		return
	}
	cctx, cancel = r.call(ctx)
	err = r.game.Resign(cctx, sess.ID)
	cancel()
	if err != nil {
		obslog.L().Warn("bot_resign_failed", zap.String("game_id", sess.ID), zap.Error(err))
		return
	}
	obslog.L().Info("bot_resigned_opponent_offline", zap.String("game_id", sess.ID), zap.String("opponent", sess.OpponentID))
	r.state.ClearIf(sess.ID)
}

func (r *Runner) refreshOnce(ctx context.Context) {
	cctx, cancel := r.call(ctx)
	games, err := r.game.ListOngoing(cctx)
	cancel()
	if err != nil {
		obslog.L().Debug("bot_refresh_failed", zap.Error(err))
		return
	}
	tr := r.state.Reconcile(games)
	if tr.Ended {
		obslog.L().Info("bot_game_ended", zap.String("game_id", tr.Previous))
	}
	if tr.Started {
		obslog.L().Info("bot_game_started", zap.String("game_id", tr.Current.ID),
			zap.String("color", string(tr.Current.Color)), zap.String("opponent", tr.Current.OpponentID))
	}
}

// streamLoop consumes incoming events and reconnects after failures.
func (r *Runner) streamLoop(ctx context.Context) error {
	for {
		err := r.game.StreamEvents(ctx, func(ev domain.Event) { r.handleEvent(ctx, ev) })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			obslog.L().Warn("bot_event_stream_failed", zap.Error(err))
		} else {
			obslog.L().Info("bot_event_stream_closed")
		}
		t := time.NewTimer(r.iv.StreamRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Runner) handleEvent(ctx context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventChallenge:
		if ev.Challenge != nil {
			r.handleChallenge(ctx, *ev.Challenge)
		}
	case domain.EventGameStart:
		if ev.Game == nil || ev.Game.GameID == "" {
			return
		}
		if cur := r.state.Snapshot(); cur.Active() && cur.ID != ev.Game.GameID {
			obslog.L().Warn("bot_extra_game_ignored", zap.String("game_id", ev.Game.GameID), zap.String("active", cur.ID))
			return
		}
		r.state.SetActive(*ev.Game)
	case domain.EventGameFinish:
		if ev.Game != nil && r.state.ClearIf(ev.Game.GameID) {
			obslog.L().Info("bot_game_finished", zap.String("game_id", ev.Game.GameID))
		}
	}
}

// handleChallenge accepts unrated challenges while no game is active and declines the rest.
// Challenges the bot issued itself are left alone.
func (r *Runner) handleChallenge(ctx context.Context, ch domain.ChallengeInfo) {
	if r.self != "" && strings.EqualFold(ch.ChallengerID, r.self) {
		return
	}
	accept := !ch.Rated && !r.state.Snapshot().Active()
	cctx, cancel := r.call(ctx)
	defer cancel()
	var err error
	if accept {
		err = r.game.AcceptChallenge(cctx, ch.ID)
	} else {
		err = r.game.DeclineChallenge(cctx, ch.ID)
	}
	if err != nil {
		obslog.L().Warn("bot_challenge_reply_failed", zap.String("challenge_id", ch.ID), zap.Bool("accept", accept), zap.Error(err))
		return
	}
	obslog.L().Info("bot_challenge_replied", zap.String("challenge_id", ch.ID), zap.Bool("accept", accept),
		zap.Bool("rated", ch.Rated), zap.String("challenger", ch.ChallengerID))
}
