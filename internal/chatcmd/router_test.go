package chatcmd

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/crowd-chess-bot/internal/challenge"
	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/msgcat"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestClassify(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
		name string
		arg  string
		text string
	}{
		{"!resign", KindCommand, CmdResign, "", ""},
		{"!RESIGN now please", KindCommand, CmdResign, "now please", ""},
		{"!start", KindCommand, CmdStart, "", ""},
		{"!challenge", KindCommand, CmdChallenge, "", ""},
		{"!votes", KindCommand, CmdVotes, "", ""},
		{"e4", KindMoveVote, "", "", "e4"},
		{"  Nf3  ", KindMoveVote, "", "", "Nf3"},
		{"lol", KindMoveVote, "", "", "lol"},
		{"!dance", KindMoveVote, "", "", "!dance"},
		{"!dance party", KindIgnored, "", "", ""},
		{"play e4 please", KindIgnored, "", "", ""},
		{"e4 e5", KindIgnored, "", "", ""},
		{"", KindIgnored, "", "", ""},
	}
	for _, tc := range cases {
		got := Classify(tc.line)
		if got.Kind != tc.kind || got.Name != tc.name || got.Arg != tc.arg || got.Text != tc.text {
			t.Fatalf("Classify(%q)=%+v", tc.line, got)
		}
	}
}

type fakeReplier struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeReplier) SendLine(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, text)
	return nil
}

func (f *fakeReplier) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) == 0 {
		return ""
	}
	return f.lines[len(f.lines)-1]
}

func (f *fakeReplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

type fakeChallenger struct {
	opens  int
	starts int
	offer  challenge.Offer
	err    error
}

func (f *fakeChallenger) OpenChallenge(context.Context) (challenge.Offer, error) {
	f.opens++
	return f.offer, f.err
}

func (f *fakeChallenger) StartAIGame(context.Context) error {
	f.starts++
	return f.err
}

func newTestRouter(t *testing.T) (*Router, *crowd.State, *fakeChallenger, *fakeReplier) {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	state := crowd.NewState()
	ch := &fakeChallenger{offer: challenge.Offer{ID: "abc", URL: "https://lichess.org/abc", CreatedAt: time.Now()}}
	rep := &fakeReplier{}
	return NewRouter(state, ch, rep, NewFormatter(cat), time.Minute), state, ch, rep
}

func say(t *testing.T, r *Router, user, text string) {
	t.Helper()
	if err := r.Handle(context.Background(), domain.ChatMessage{User: user, Text: text}); err != nil {
		t.Fatalf("Handle(%q): %v", text, err)
	}
}

func TestRouter_VotesAndRejections(t *testing.T) {
	r, state, _, rep := newTestRouter(t)

	say(t, r, "alice", "e4")
	if !strings.Contains(rep.last(), "no game") {
		t.Fatalf("expected no-game reply, got %q", rep.last())
	}

	state.SetActive(domain.GameInfo{GameID: "g1", Color: domain.White, FEN: startFEN, IsMyTurn: true})
	say(t, r, "alice", "e4")
	say(t, r, "bob", "Nc4")
	if !strings.Contains(rep.last(), "Nc4") {
		t.Fatalf("expected invalid-move reply, got %q", rep.last())
	}
	say(t, r, "alice", "d4")
	if !strings.Contains(rep.last(), "already voted") {
		t.Fatalf("expected already-voted reply, got %q", rep.last())
	}

	before := rep.count()
	say(t, r, "carol", "hello")
	say(t, r, "carol", "what a game")
	if rep.count() != before {
		t.Fatalf("noise must not be answered")
	}

	entries := state.Tally()
	if len(entries) != 1 || entries[0].Move != "e2e4" {
		t.Fatalf("unexpected tally: %+v", entries)
	}
}

func TestRouter_ResignAndVotesCommands(t *testing.T) {
	r, state, _, rep := newTestRouter(t)
	state.SetActive(domain.GameInfo{GameID: "g1", Color: domain.White, FEN: startFEN, IsMyTurn: true})

	say(t, r, "alice", "!resign")
	say(t, r, "bob", "Nf3")
	if got := state.ResolveRound(); got.ResignVotes != 1 || got.TotalVotes != 2 {
		t.Fatalf("unexpected resolution: %+v", got)
	}
	say(t, r, "alice", "!resign")
	if !strings.Contains(rep.last(), "already voted") {
		t.Fatalf("second resign must be rejected, got %q", rep.last())
	}

	say(t, r, "dave", "!votes")
	if !strings.Contains(rep.last(), "g1f3 1") || !strings.Contains(rep.last(), "resign 1") {
		t.Fatalf("unexpected summary: %q", rep.last())
	}
}

func TestRouter_ChallengeAndStart(t *testing.T) {
	r, state, ch, rep := newTestRouter(t)

	say(t, r, "alice", "!challenge")
	if ch.opens != 1 || !strings.Contains(rep.last(), "https://lichess.org/abc") {
		t.Fatalf("expected offer reply, got %q", rep.last())
	}

	ch.err = challenge.ErrChallengeConflict
	say(t, r, "bob", "!challenge")
	if !strings.Contains(rep.last(), "already open") {
		t.Fatalf("expected conflict reply, got %q", rep.last())
	}

	ch.err = nil
	say(t, r, "bob", "!start")
	if ch.starts != 1 {
		t.Fatalf("expected ai game request")
	}

	state.SetActive(domain.GameInfo{GameID: "g1", Color: domain.White, FEN: startFEN})
	say(t, r, "bob", "!start")
	if ch.starts != 1 || !strings.Contains(rep.last(), "in progress") {
		t.Fatalf("start during a game must be refused, got %q", rep.last())
	}
}
