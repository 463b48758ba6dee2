package botbuilder

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/crowd-chess-bot/internal/config"
	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/domain"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		LichessToken:          "lip_test",
		LichessBaseURL:        "http://127.0.0.1:1",
		TwitchChannel:         "crowdchess",
		DatabaseType:          "sqlite",
		VoteMinResign:         2,
		VoteMinResignFraction: 0.5,
		ChallengeTimeout:      time.Minute,
		IdleChallengeAfter:    2 * time.Minute,
		AILevel:               3,
		OverlayDir:            t.TempDir(),
		ChatReconnectMax:      1,
		DryRun:                true,
	}
}

func TestNewWiresOptionalStores(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.DatabaseURL = ":memory:"

	deps, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer deps.Close()

	if deps.Runner == nil || deps.Redis == nil || deps.VoteLog == nil || deps.Publisher == nil {
		t.Fatalf("missing components: %+v", deps)
	}

	// Votes reach the publisher through the state listeners and thresholds come from config.
	deps.State.SetActive(domain.GameInfo{GameID: "g1", Color: domain.White, FEN: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", IsMyTurn: true})
	if err := deps.State.RegisterResignVote("g1", "alice"); err != nil {
		t.Fatalf("RegisterResignVote: %v", err)
	}
	if res := deps.State.ResolveRound(); res.Outcome != crowd.NoOp {
		t.Fatalf("one resign vote must not meet a minimum of two, got %s", res.Outcome)
	}
}

func TestNewWithoutStorage(t *testing.T) {
	deps, err := New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer deps.Close()
	if deps.Redis != nil || deps.VoteLog != nil {
		t.Fatalf("storage should be disabled")
	}
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "http://nope"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected redis url error")
	}
}
