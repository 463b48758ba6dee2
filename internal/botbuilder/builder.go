package botbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/crowd-chess-bot/internal/bot"
	"github.com/park285/crowd-chess-bot/internal/challenge"
	"github.com/park285/crowd-chess-bot/internal/chatcmd"
	"github.com/park285/crowd-chess-bot/internal/config"
	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/lichess"
	"github.com/park285/crowd-chess-bot/internal/msgcat"
	"github.com/park285/crowd-chess-bot/internal/overlay"
	"github.com/park285/crowd-chess-bot/internal/twitch"
	"github.com/park285/crowd-chess-bot/internal/votelog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Runner     *bot.Runner
	State      *crowd.State
	Lichess    *lichess.Client
	Chat       *twitch.Conn
	Challenges *challenge.Coordinator
	Publisher  *overlay.Publisher
	VoteLog    *votelog.Repository
	Redis      *redis.Client
	Catalog    *msgcat.Catalog
}

// New wires every component from cfg. Redis and the vote database are optional.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("init messages: %w", err)
	}

	client := lichess.NewClient(cfg.LichessBaseURL, cfg.LichessToken,
		lichess.WithRetry(cfg.LichessRetryMax),
		lichess.WithHeaderProvider(userAgent(cfg.LichessUserAgent)),
	)
	chat := twitch.NewConn(twitch.Config{
		URL:          cfg.TwitchWSURL,
		Username:     cfg.TwitchUsername,
		OAuth:        cfg.TwitchOAuth,
		Channel:      cfg.TwitchChannel,
		MaxReconnect: cfg.ChatReconnectMax,
		DryRun:       cfg.DryRun,
	})
	chat.OnStateChange(func(st twitch.State) {
		logger.Info("chat_state", zap.String("state", string(st)))
	})

	deps := &Deps{Lichess: client, Chat: chat, Catalog: cat}

	var store *overlay.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		rdb := redis.NewClient(opts)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.Redis = rdb
		store = overlay.NewStore(rdb)
	} else {
		logger.Info("redis_disabled")
	}

	var recorder *votelog.Recorder
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, err := votelog.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("open vote log: %w", err)
		}
		deps.VoteLog = repo
		recorder = votelog.NewRecorder(repo, 0)
	} else {
		logger.Info("votelog_disabled")
	}

	state := crowd.NewState(crowd.WithThresholds(crowd.Thresholds{
		MinResignVotes:    cfg.VoteMinResign,
		MinResignFraction: cfg.VoteMinResignFraction,
	}))
	deps.State = state

	pubOpts := []overlay.PublisherOption{}
	if store != nil {
		pubOpts = append(pubOpts, overlay.WithStore(store))
	}
	if deps.VoteLog != nil {
		pubOpts = append(pubOpts, overlay.WithVoterBoard(deps.VoteLog))
	}
	pub := overlay.NewPublisher(overlay.PublisherConfig{
		Dir:        cfg.OverlayDir,
		BaseURL:    cfg.LichessBaseURL,
		BoardWidth: cfg.OverlayWidth,
	}, state, client, pubOpts...)
	deps.Publisher = pub
	state.AddListener(pub)
	if recorder != nil {
		state.AddListener(recorder)
	}

	coord := challenge.NewCoordinator(client, challenge.Config{
		OfferTimeout:       cfg.ChallengeTimeout,
		IdleChallengeAfter: cfg.IdleChallengeAfter,
		AILevel:            cfg.AILevel,
		Clock: domain.ChallengeOptions{
			ClockLimitSec:     cfg.ClockLimitSec,
			ClockIncrementSec: cfg.ClockIncrementSec,
		},
	}, challenge.WithListener(pub))
	deps.Challenges = coord

	router := chatcmd.NewRouter(state, coord, chat, chatcmd.NewFormatter(cat), cfg.ChallengeTimeout)

	runOpts := []bot.Option{
		bot.WithIntervals(bot.Intervals{
			Chat:     cfg.PollChat,
			Resolve:  cfg.PollResolve,
			Liveness: cfg.PollLiveness,
			Watchdog: cfg.PollWatchdog,
			Refresh:  cfg.PollRefresh,
		}),
		bot.WithTask("overlay", func(ctx context.Context) error { return pub.Run(ctx, cfg.PollOverlay) }),
	}
	if recorder != nil {
		runOpts = append(runOpts, bot.WithTask("votelog", recorder.Run))
	}
	deps.Runner = bot.NewRunner(client, chat, state, router, coord, runOpts...)
	return deps, nil
}

// Close releases the storage connections. The chat connection is closed by the runner.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.VoteLog != nil {
		errs = append(errs, d.VoteLog.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	return errors.Join(errs...)
}

func userAgent(ua string) lichess.HeaderProvider {
	headers := map[string]string{"User-Agent": ua}
	return func() map[string]string { return headers }
}
