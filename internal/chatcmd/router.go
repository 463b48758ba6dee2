package chatcmd

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/park285/crowd-chess-bot/internal/challenge"
	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/notation"
	"github.com/park285/crowd-chess-bot/internal/obslog"
	"github.com/park285/crowd-chess-bot/internal/util"
	"go.uber.org/zap"
)

// VoteBook is the slice of crowd.State the router uses.
type VoteBook interface {
	Snapshot() crowd.Session
	RegisterVote(gameID, user, move string) (string, error)
	RegisterResignVote(gameID, user string) error
	Tally() []crowd.Entry
	VoterCount() int
}

type Challenger interface {
	OpenChallenge(ctx context.Context) (challenge.Offer, error)
	StartAIGame(ctx context.Context) error
}

// Replier sends one line to the chat channel.
type Replier interface {
	SendLine(ctx context.Context, text string) error
}

// Router turns chat messages into votes and commands. Validation failures are answered
// in chat and never returned; Handle only fails when a reply cannot be sent.
type Router struct {
	votes        VoteBook
	challenges   Challenger
	reply        Replier
	fmt          *Formatter
	offerTimeout time.Duration
}

func NewRouter(votes VoteBook, challenges Challenger, reply Replier, f *Formatter, offerTimeout time.Duration) *Router {
	if f == nil {
		f = NewFormatter(nil)
	}
	if offerTimeout <= 0 {
		offerTimeout = challenge.DefaultConfig().OfferTimeout
	}
	return &Router{votes: votes, challenges: challenges, reply: reply, fmt: f, offerTimeout: offerTimeout}
}

func (r *Router) Handle(ctx context.Context, msg domain.ChatMessage) error {
	user := strings.TrimSpace(msg.User)
	if user == "" {
		return nil
	}
	c := Classify(msg.Text)
	switch c.Kind {
	case KindCommand:
		return r.handleCommand(ctx, user, c)
	case KindMoveVote:
		return r.handleMove(ctx, user, c.Text)
	default:
		return nil
	}
}

func (r *Router) handleMove(ctx context.Context, user, text string) error {
	if !notation.IsWellFormed(text) {
		obslog.L().Debug("chat_noise_dropped", zap.String("user", user), zap.String("text", text))
		return nil
	}
	snap := r.votes.Snapshot()
	if !snap.Active() {
		return r.send(ctx, r.fmt.NoGame(user))
	}
	long, err := r.votes.RegisterVote(snap.ID, user, text)
	if err != nil {
		return r.rejectVote(ctx, user, text, err)
	}
	obslog.L().Debug("vote_accepted", zap.String("game_id", snap.ID), zap.String("user", user), zap.String("move", long))
	return nil
}

func (r *Router) handleCommand(ctx context.Context, user string, c Classification) error {
	obslog.L().Info("chat_command", zap.String("user", user), zap.String("command", c.Name), zap.String("arg", c.Arg))
	switch c.Name {
	case CmdResign:
		snap := r.votes.Snapshot()
		if !snap.Active() {
			return r.send(ctx, r.fmt.NoGame(user))
		}
		if err := r.votes.RegisterResignVote(snap.ID, user); err != nil {
			return r.rejectVote(ctx, user, crowd.ResignKey, err)
		}
		return nil
	case CmdVotes:
		snap := r.votes.Snapshot()
		if !snap.Active() {
			return r.send(ctx, r.fmt.NoGame(user))
		}
		return r.send(ctx, r.fmt.VoteSummary(r.votes.Tally(), r.votes.VoterCount(), snap.StartedAt))
	case CmdHelp:
		return r.send(ctx, r.fmt.Help())
	case CmdStart:
		if r.votes.Snapshot().Active() {
			return r.send(ctx, r.fmt.Busy(user))
		}
		if err := r.challenges.StartAIGame(ctx); err != nil {
			if errors.Is(err, challenge.ErrChallengeConflict) {
				return r.send(ctx, r.fmt.Busy(user))
			}
			obslog.L().Warn("chat_start_failed", zap.String("user", user), zap.Error(err))
			return r.send(ctx, r.fmt.StartFailed(user))
		}
		return r.send(ctx, r.fmt.StartOK(user))
	case CmdChallenge:
		if r.votes.Snapshot().Active() {
			return r.send(ctx, r.fmt.Busy(user))
		}
		offer, err := r.challenges.OpenChallenge(ctx)
		if err != nil {
			if errors.Is(err, challenge.ErrChallengeConflict) {
				return r.send(ctx, r.fmt.ChallengeConflict(user, offer))
			}
			obslog.L().Warn("chat_challenge_failed", zap.String("user", user), zap.Error(err))
			return r.send(ctx, r.fmt.ChallengeFailed(user))
		}
		return r.send(ctx, r.fmt.ChallengeOffered(offer, r.offerTimeout))
	}
	return nil
}

func (r *Router) rejectVote(ctx context.Context, user, move string, err error) error {
	switch {
	case errors.Is(err, crowd.ErrNoActiveGame):
		return r.send(ctx, r.fmt.NoGame(user))
	case errors.Is(err, crowd.ErrAlreadyVoted):
		return r.send(ctx, r.fmt.AlreadyVoted(user))
	case errors.Is(err, crowd.ErrInvalidMove):
		return r.send(ctx, r.fmt.InvalidMove(user, move))
	default:
		obslog.L().Warn("vote_rejected", zap.String("user", user), zap.String("move", move), zap.Error(err))
		return nil
	}
}

func (r *Router) send(ctx context.Context, text string) error {
	if r.reply == nil {
		return nil
	}
	line := util.ChatLine(text)
	if line == "" {
		return nil
	}
	return r.reply.SendLine(ctx, line)
}
