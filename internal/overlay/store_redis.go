package overlay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/park285/crowd-chess-bot/pkg/overlaydto"
	"github.com/redis/go-redis/v9"
)

const (
	ttlRound  = 24 * time.Hour
	ttlVoters = 7 * 24 * time.Hour

	// EventsChannel receives a JSON notification whenever the round or challenge changes.
	EventsChannel = "crowd:events"
)

// Store mirrors the live round into Redis so stream widgets can poll or subscribe.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keyRound() string     { return "crowd:round" }
func (s *Store) keyChallenge() string { return "crowd:challenge" }
func (s *Store) keyVoters(gameID string) string {
	return "crowd:voters:" + strings.TrimSpace(gameID)
}

// Event is the payload published on EventsChannel.
type Event struct {
	Kind    string `json:"kind"`
	GameID  string `json:"game_id,omitempty"`
	RoundID string `json:"round_id,omitempty"`
	User    string `json:"user,omitempty"`
	Move    string `json:"move,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (s *Store) SaveRound(ctx context.Context, st overlaydto.RoundState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyRound(), raw, ttlRound).Err()
}

// LoadRound returns nil when no round has been saved.
func (s *Store) LoadRound(ctx context.Context) (*overlaydto.RoundState, error) {
	raw, err := s.rdb.Get(ctx, s.keyRound()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st overlaydto.RoundState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) SaveChallenge(ctx context.Context, cs overlaydto.ChallengeState) error {
	raw, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyChallenge(), raw, ttlRound).Err()
}

func (s *Store) LoadChallenge(ctx context.Context) (*overlaydto.ChallengeState, error) {
	raw, err := s.rdb.Get(ctx, s.keyChallenge()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cs overlaydto.ChallengeState
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// IncrVoter counts one accepted vote for user in gameID.
func (s *Store) IncrVoter(ctx context.Context, gameID, user string) error {
	if strings.TrimSpace(gameID) == "" || strings.TrimSpace(user) == "" {
		return nil
	}
	key := s.keyVoters(gameID)
	if err := s.rdb.ZIncrBy(ctx, key, 1, user).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, ttlVoters).Err()
}

// TopVoters returns the n most active voters of gameID, highest first.
func (s *Store) TopVoters(ctx context.Context, gameID string, n int) ([]overlaydto.VoterCount, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, s.keyVoters(gameID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]overlaydto.VoterCount, 0, len(zs))
	for _, z := range zs {
		user, _ := z.Member.(string)
		out = append(out, overlaydto.VoterCount{User: user, Votes: int64(z.Score)})
	}
	return out, nil
}

func (s *Store) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, EventsChannel, raw).Err()
}
