package challenge

import (
	"context"
	"time"

	"github.com/park285/crowd-chess-bot/internal/domain"
)

type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusOffered  Status = "OFFERED"
	StatusAccepted Status = "ACCEPTED"
	StatusExpired  Status = "EXPIRED"
)

// Offer is an outstanding open challenge.
type Offer struct {
	ID        string
	URL       string
	CreatedAt time.Time
}

// Service is the part of the game service the coordinator needs.
type Service interface {
	CreateOpenChallenge(ctx context.Context, opts domain.ChallengeOptions) (domain.ChallengeInfo, error)
	CreateAIChallenge(ctx context.Context, level int, opts domain.ChallengeOptions) (domain.ChallengeInfo, error)
}

// Listener is told about every status change. Accepted and Expired are reported
// before the coordinator falls back to Idle.
type Listener interface {
	OnChallengeStateChanged(status Status, offer Offer)
}

type Config struct {
	OfferTimeout       time.Duration
	IdleChallengeAfter time.Duration
	AILevel            int
	// Clock applies to both open and AI challenges; the zero value is correspondence.
	Clock domain.ChallengeOptions
}

func DefaultConfig() Config {
	return Config{
		OfferTimeout:       60 * time.Second,
		IdleChallengeAfter: 120 * time.Second,
		AILevel:            6,
	}
}
