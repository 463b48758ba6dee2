package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/park285/crowd-chess-bot/internal/botbuilder"
	appcfg "github.com/park285/crowd-chess-bot/internal/config"
	"github.com/park285/crowd-chess-bot/internal/obslog"
	"go.uber.org/zap"
)

func main() {
	flags, err := appcfg.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("flag error: %v", err)
	}
	cfg, err := appcfg.LoadWithFlags(flags)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := botbuilder.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init_failed", zap.Error(err))
	}
	defer deps.Close()

	logger.Info("crowd_chess_start",
		zap.String("channel", cfg.TwitchChannel),
		zap.String("lichess", cfg.LichessBaseURL),
		zap.Bool("dry_run", cfg.DryRun),
	)
	if err := deps.Runner.Run(ctx); err != nil {
		logger.Error("crowd_chess_stopped", zap.Error(err))
		_ = deps.Close()
		os.Exit(1)
	}
	logger.Info("crowd_chess_shutdown")
}
