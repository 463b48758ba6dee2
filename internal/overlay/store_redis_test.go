package overlay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/crowd-chess-bot/pkg/overlaydto"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), mr, rdb
}

func TestStoreRoundRoundTripWithTTL(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.LoadRound(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected empty round, got %+v err=%v", got, err)
	}

	st := overlaydto.RoundState{GameID: "g1", RoundID: "r1", Color: "white", Votes: []overlaydto.VoteCount{{Move: "e2e4", Votes: 2}}}
	if err := s.SaveRound(ctx, st); err != nil {
		t.Fatalf("SaveRound: %v", err)
	}
	if ttl := mr.TTL("crowd:round"); ttl != ttlRound {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	got, err = s.LoadRound(ctx)
	if err != nil || got == nil || got.GameID != "g1" || len(got.Votes) != 1 || got.Votes[0].Move != "e2e4" {
		t.Fatalf("unexpected round %+v err=%v", got, err)
	}

	mr.FastForward(ttlRound + time.Second)
	if got, _ := s.LoadRound(ctx); got != nil {
		t.Fatalf("round should expire")
	}
}

func TestStoreTopVoters(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "alice", "carol", "alice", "bob"} {
		if err := s.IncrVoter(ctx, "g1", u); err != nil {
			t.Fatalf("IncrVoter: %v", err)
		}
	}
	if err := s.IncrVoter(ctx, "g1", " "); err != nil {
		t.Fatalf("blank user should be a no-op: %v", err)
	}

	top, err := s.TopVoters(ctx, "g1", 2)
	if err != nil {
		t.Fatalf("TopVoters: %v", err)
	}
	if len(top) != 2 || top[0].User != "alice" || top[0].Votes != 3 || top[1].User != "bob" {
		t.Fatalf("unexpected leaderboard %+v", top)
	}
	if mr.TTL("crowd:voters:g1") != ttlVoters {
		t.Fatalf("voters key should carry a ttl")
	}
	if top, _ := s.TopVoters(ctx, "other", 5); len(top) != 0 {
		t.Fatalf("unknown game should be empty: %+v", top)
	}
}

func TestStorePublish(t *testing.T) {
	s, _, rdb := newTestStore(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, EventsChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := s.Publish(ctx, Event{Kind: "vote", GameID: "g1", User: "alice", Move: "e2e4"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-sub.Channel():
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if ev.Kind != "vote" || ev.User != "alice" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
}
