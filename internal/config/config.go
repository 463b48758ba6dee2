package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	LichessToken     string
	LichessBaseURL   string
	LichessUserAgent string
	LichessRetryMax  int

	TwitchWSURL    string
	TwitchUsername string
	TwitchOAuth    string
	TwitchChannel  string

	RedisURL     string
	DatabaseURL  string
	DatabaseType string

	VoteMinResign         int
	VoteMinResignFraction float64

	ChallengeTimeout   time.Duration
	IdleChallengeAfter time.Duration
	AILevel            int
	ClockLimitSec      int
	ClockIncrementSec  int

	PollChat     time.Duration
	PollResolve  time.Duration
	PollLiveness time.Duration
	PollWatchdog time.Duration
	PollRefresh  time.Duration
	PollOverlay  time.Duration

	OverlayDir       string
	OverlayWidth     int
	MessagesDir      string
	ChatReconnectMax int

	DryRun bool
}

// Flags are command line overrides applied on top of the environment.
type Flags struct {
	EnvFile string
	DryRun  bool
	Channel string
}

// ParseFlags reads the command line. Unknown flags are an error.
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("crowd-chess", flag.ContinueOnError)
	fs.StringVar(&f.EnvFile, "env-file", "", "Load environment from this .env file first")
	fs.BoolVar(&f.DryRun, "dry-run", false, "Log chat replies instead of sending them")
	fs.StringVar(&f.Channel, "channel", "", "Twitch channel (overrides TWITCH_CHANNEL)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// LoadWithFlags loads the optional env file, then the environment, then applies f.
func LoadWithFlags(f Flags) (*AppConfig, error) {
	if f.EnvFile != "" {
		if err := godotenv.Load(f.EnvFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		// Existing environment wins over .env.
		_ = godotenv.Load()
	}
	cfg, err := load(func(c *AppConfig) {
		if f.Channel != "" {
			c.TwitchChannel = f.Channel
		}
	})
	if err != nil {
		return nil, err
	}
	if f.DryRun {
		cfg.DryRun = true
	}
	return cfg, nil
}

func Load() (*AppConfig, error) { return load(nil) }

func load(override func(*AppConfig)) (*AppConfig, error) {
	cfg := &AppConfig{
		LichessBaseURL:        "https://lichess.org",
		LichessUserAgent:      "crowd-chess-bot",
		LichessRetryMax:       3,
		TwitchWSURL:           "wss://irc-ws.chat.twitch.tv:443",
		DatabaseType:          "sqlite",
		VoteMinResign:         1,
		VoteMinResignFraction: 0.1,
		ChallengeTimeout:      60 * time.Second,
		IdleChallengeAfter:    120 * time.Second,
		AILevel:               6,
		PollChat:              200 * time.Millisecond,
		PollResolve:           500 * time.Millisecond,
		PollLiveness:          500 * time.Millisecond,
		PollWatchdog:          time.Second,
		PollRefresh:           time.Second,
		PollOverlay:           5 * time.Second,
		OverlayDir:            "obs",
		ChatReconnectMax:      5,
	}

	cfg.LichessToken = strings.TrimSpace(os.Getenv("LICHESS_TOKEN"))
	if v := strings.TrimSpace(os.Getenv("LICHESS_BASE_URL")); v != "" {
		cfg.LichessBaseURL = strings.TrimRight(v, "/")
	}

	if v := strings.TrimSpace(os.Getenv("TWITCH_WS_URL")); v != "" {
		cfg.TwitchWSURL = v
	}
	cfg.TwitchUsername = strings.TrimSpace(os.Getenv("TWITCH_USERNAME"))
	cfg.TwitchOAuth = strings.TrimSpace(os.Getenv("TWITCH_OAUTH"))
	cfg.TwitchChannel = strings.TrimSpace(os.Getenv("TWITCH_CHANNEL"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("DATABASE_TYPE")); v != "" {
		cfg.DatabaseType = strings.ToLower(v)
	}

	var errs []error
	envIntRange("VOTE_MIN_RESIGN", &cfg.VoteMinResign, 1, -1, &errs)
	envFloatRange("VOTE_MIN_RESIGN_FRACTION", &cfg.VoteMinResignFraction, 0, 1, &errs)

	envDuration("CHALLENGE_TIMEOUT", &cfg.ChallengeTimeout, &errs)
	envDuration("IDLE_CHALLENGE_AFTER", &cfg.IdleChallengeAfter, &errs)
	envIntRange("AI_LEVEL", &cfg.AILevel, 1, 8, &errs)
	envIntRange("CHALLENGE_CLOCK_LIMIT", &cfg.ClockLimitSec, 0, -1, &errs)
	envIntRange("CHALLENGE_CLOCK_INCREMENT", &cfg.ClockIncrementSec, 0, -1, &errs)
	if v := strings.TrimSpace(os.Getenv("LICHESS_USER_AGENT")); v != "" {
		cfg.LichessUserAgent = v
	}
	envIntRange("LICHESS_RETRY_MAX", &cfg.LichessRetryMax, 1, 10, &errs)

	envDuration("POLL_CHAT", &cfg.PollChat, &errs)
	envDuration("POLL_RESOLVE", &cfg.PollResolve, &errs)
	envDuration("POLL_LIVENESS", &cfg.PollLiveness, &errs)
	envDuration("POLL_WATCHDOG", &cfg.PollWatchdog, &errs)
	envDuration("POLL_REFRESH", &cfg.PollRefresh, &errs)
	envDuration("POLL_OVERLAY", &cfg.PollOverlay, &errs)

	if v, ok := os.LookupEnv("OVERLAY_DIR"); ok {
		cfg.OverlayDir = strings.TrimSpace(v)
	}
	envIntRange("OVERLAY_WIDTH", &cfg.OverlayWidth, 0, -1, &errs)
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	envIntRange("CHAT_RECONNECT_MAX", &cfg.ChatReconnectMax, 1, -1, &errs)
	if v := strings.TrimSpace(os.Getenv("DRY_RUN")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DRY_RUN: %q is not a boolean", v))
		} else {
			cfg.DryRun = b
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if override != nil {
		override(cfg)
	}

	if cfg.LichessToken == "" {
		return nil, errors.New("LICHESS_TOKEN is required")
	}
	if cfg.TwitchChannel == "" {
		return nil, errors.New("TWITCH_CHANNEL is required")
	}
	if cfg.TwitchOAuth != "" && cfg.TwitchUsername == "" {
		return nil, errors.New("TWITCH_USERNAME is required when TWITCH_OAUTH is set")
	}
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return nil, fmt.Errorf("DATABASE_TYPE must be sqlite or postgres, got %q", cfg.DatabaseType)
	}

	return cfg, nil
}

// envIntRange sets dst from key when present. hi < lo means no upper bound.
func envIntRange(key string, dst *int, lo, hi int, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	switch {
	case err != nil:
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
	case n < lo || (hi >= lo && n > hi):
		if hi >= lo {
			*errs = append(*errs, fmt.Errorf("%s: %d is outside %d..%d", key, n, lo, hi))
		} else {
			*errs = append(*errs, fmt.Errorf("%s: %d is below %d", key, n, lo))
		}
	default:
		*dst = n
	}
}

func envFloatRange(key string, dst *float64, lo, hi float64, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	switch {
	case err != nil:
		*errs = append(*errs, fmt.Errorf("%s: %q is not a number", key, v))
	case f < lo || f > hi:
		*errs = append(*errs, fmt.Errorf("%s: %v is outside %v..%v", key, f, lo, hi))
	default:
		*dst = f
	}
}

// envDuration accepts Go durations ("1.5s") or plain seconds ("60"). Zero and
// negative values are rejected.
func envDuration(key string, dst *time.Duration, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, v))
			return
		}
		d = time.Duration(f * float64(time.Second))
	}
	if d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: %q must be positive", key, v))
		return
	}
	*dst = d
}
