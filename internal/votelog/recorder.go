package votelog

import (
	"context"
	"time"

	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/obslog"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Sink is where the recorder writes accepted votes.
type Sink interface {
	AddVote(ctx context.Context, rec Record) error
}

// Recorder is a crowd.Listener that appends accepted votes to a Sink off the caller's goroutine.
type Recorder struct {
	sink  Sink
	queue chan Record
}

func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{sink: sink, queue: make(chan Record, buffer)}
}

func (r *Recorder) OnVoteAccepted(v crowd.Vote) {
	rec := Record{GameID: v.GameID, RoundID: v.RoundID, User: v.User, Move: v.Move, VotedAt: v.At}
	select {
	case r.queue <- rec:
	default:
		obslog.L().Warn("votelog_queue_full", zap.String("user", v.User), zap.String("game_id", v.GameID))
	}
}

func (r *Recorder) OnRoundCleared(string, string) {}

// Run writes queued votes until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-r.queue:
			r.write(context.WithoutCancel(ctx), rec)
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec Record) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.sink.AddVote(wctx, rec); err != nil {
		obslog.L().Warn("votelog_write_failed", zap.String("user", rec.User), zap.String("game_id", rec.GameID), zap.Error(err))
	}
}
