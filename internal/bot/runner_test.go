package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/lichess"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type fakeGame struct {
	mu        sync.Mutex
	account   domain.Account
	ongoing   []domain.GameInfo
	moveErr   error
	resignErr error
	online    bool
	moves     []string
	resigned  []string
	accepted  []string
	declined  []string
	streamErr error
	events    []domain.Event
}

func (f *fakeGame) Account(context.Context) (domain.Account, error) { return f.account, nil }

func (f *fakeGame) ListOngoing(context.Context) ([]domain.GameInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.GameInfo(nil), f.ongoing...), nil
}

func (f *fakeGame) StreamEvents(ctx context.Context, handle func(domain.Event)) error {
	f.mu.Lock()
	evs := f.events
	f.events = nil
	err := f.streamErr
	f.mu.Unlock()
	for _, ev := range evs {
		handle(ev)
	}
	if err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeGame) SubmitMove(_ context.Context, gameID, move string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, gameID+":"+move)
	return f.moveErr
}

func (f *fakeGame) Resign(_ context.Context, gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resigned = append(f.resigned, gameID)
	return f.resignErr
}

func (f *fakeGame) AcceptChallenge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, id)
	return nil
}

func (f *fakeGame) DeclineChallenge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined = append(f.declined, id)
	return nil
}

func (f *fakeGame) PlayerOnline(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online, nil
}

type fakeChat struct {
	mu    sync.Mutex
	queue []domain.ChatMessage
	err   error
}

func (f *fakeChat) Connect(context.Context) error { return nil }

func (f *fakeChat) ReceiveBatch(_ context.Context, max int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := min(max, len(f.queue))
	out := f.queue[:n]
	f.queue = f.queue[n:]
	return out, nil
}

func (f *fakeChat) SendLine(context.Context, string) error { return nil }
func (f *fakeChat) Close(context.Context) error            { return nil }

type voteHandler struct{ state *crowd.State }

func (h voteHandler) Handle(_ context.Context, msg domain.ChatMessage) error {
	_, err := h.state.RegisterVote(h.state.Snapshot().ID, msg.User, msg.Text)
	return err
}

func newActiveState(t *testing.T, opponent string) *crowd.State {
	t.Helper()
	st := crowd.NewState()
	st.SetActive(domain.GameInfo{GameID: "g1", Color: domain.White, FEN: startFEN, IsMyTurn: true, OpponentID: opponent})
	return st
}

func TestResolveSubmitsFirstMoveAndClearsRound(t *testing.T) {
	st := newActiveState(t, "")
	game := &fakeGame{}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)

	for _, v := range [][2]string{{"a", "e4"}, {"b", "d4"}, {"c", "d4"}} {
		if _, err := st.RegisterVote("g1", v[0], v[1]); err != nil {
			t.Fatalf("RegisterVote: %v", err)
		}
	}
	round := st.Snapshot().RoundID
	r.resolveOnce(context.Background())

	if len(game.moves) != 1 || game.moves[0] != "g1:e2e4" {
		t.Fatalf("unexpected moves %v", game.moves)
	}
	if st.IsMyTurn() {
		t.Fatalf("turn should flip after a move")
	}
	if st.VoterCount() != 0 || len(st.Tally()) != 0 || st.Snapshot().RoundID == round {
		t.Fatalf("round should be cleared")
	}

	// Not our turn: nothing is submitted.
	if _, err := st.RegisterVote("g1", "a", "d4"); err != nil {
		t.Fatalf("RegisterVote: %v", err)
	}
	r.resolveOnce(context.Background())
	if len(game.moves) != 1 {
		t.Fatalf("move submitted out of turn: %v", game.moves)
	}
}

func TestResolveFailedMoveDropsOnlyThatKey(t *testing.T) {
	st := newActiveState(t, "")
	game := &fakeGame{moveErr: domain.ErrExternalService}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)

	st.RegisterVote("g1", "a", "e4")
	st.RegisterVote("g1", "b", "d4")
	r.resolveOnce(context.Background())

	tally := st.Tally()
	if len(tally) != 1 || tally[0].Move != "d2d4" {
		t.Fatalf("expected only d2d4 left, got %+v", tally)
	}
	if !st.HasVoted("a") || !st.IsMyTurn() {
		t.Fatalf("voters and turn must be kept after a failed submit")
	}
}

func TestResolveRejectedMoveDropsOnlyThatKey(t *testing.T) {
	st := newActiveState(t, "")
	game := &fakeGame{moveErr: &lichess.StatusError{Method: "POST", Path: "/api/bot/game/g1/move/e2e4", Status: 400}}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)

	st.RegisterVote("g1", "a", "e4")
	st.RegisterVote("g1", "b", "d4")
	r.resolveOnce(context.Background())

	tally := st.Tally()
	if len(tally) != 1 || tally[0].Move != "d2d4" || !st.IsMyTurn() {
		t.Fatalf("rejected move should drop only its key, got %+v", tally)
	}
}

func TestRefreshAfterMoveKeepsTurnUntilPositionChanges(t *testing.T) {
	st := newActiveState(t, "")
	// The listing still shows the position before our move.
	game := &fakeGame{ongoing: []domain.GameInfo{{GameID: "g1", Color: domain.White, FEN: startFEN, IsMyTurn: true}}}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)
	ctx := context.Background()

	st.RegisterVote("g1", "a", "e4")
	r.resolveOnce(ctx)
	r.refreshOnce(ctx)
	if st.IsMyTurn() {
		t.Fatalf("stale listing handed the turn back")
	}

	if _, err := st.RegisterVote("g1", "b", "Nf3"); err != nil {
		t.Fatalf("RegisterVote: %v", err)
	}
	r.resolveOnce(ctx)
	if len(game.moves) != 1 {
		t.Fatalf("move submitted out of turn: %v", game.moves)
	}
	if tally := st.Tally(); len(tally) != 1 || tally[0].Move != "g1f3" {
		t.Fatalf("pending vote must survive, got %+v", tally)
	}

	game.mu.Lock()
	game.ongoing = []domain.GameInfo{{GameID: "g1", Color: domain.White, IsMyTurn: true, LastMove: "e7e5",
		FEN: "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2"}}
	game.mu.Unlock()
	r.refreshOnce(ctx)
	r.resolveOnce(ctx)
	if len(game.moves) != 2 || game.moves[1] != "g1:g1f3" {
		t.Fatalf("unexpected moves %v", game.moves)
	}
}

func TestResolveResignFailureKeepsVotes(t *testing.T) {
	st := newActiveState(t, "")
	game := &fakeGame{resignErr: domain.ErrExternalService}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)
	ctx := context.Background()

	if err := st.RegisterResignVote("g1", "a"); err != nil {
		t.Fatalf("RegisterResignVote: %v", err)
	}
	st.RegisterVote("g1", "b", "e4")
	round := st.Snapshot().RoundID

	r.resolveOnce(ctx)
	if len(game.resigned) != 1 {
		t.Fatalf("expected one resign attempt, got %v", game.resigned)
	}
	if len(st.Tally()) != 2 || !st.HasVoted("a") || st.Snapshot().RoundID != round || !st.Snapshot().Active() {
		t.Fatalf("failed resignation must keep the round: %+v", st.Tally())
	}
	if len(game.moves) != 0 {
		t.Fatalf("no move may be played instead: %v", game.moves)
	}

	// The next poll tries again.
	game.mu.Lock()
	game.resignErr = nil
	game.mu.Unlock()
	r.resolveOnce(ctx)
	if len(game.resigned) != 2 || st.Snapshot().Active() {
		t.Fatalf("expected resignation on the next poll, got %v", game.resigned)
	}
}

func TestResolveResignsOnVote(t *testing.T) {
	st := newActiveState(t, "")
	game := &fakeGame{}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)

	if err := st.RegisterResignVote("g1", "a"); err != nil {
		t.Fatalf("RegisterResignVote: %v", err)
	}
	r.resolveOnce(context.Background())
	if len(game.resigned) != 1 || game.resigned[0] != "g1" {
		t.Fatalf("expected resignation, got %v", game.resigned)
	}
	if st.Snapshot().Active() {
		t.Fatalf("session should be cleared after resigning")
	}
}

func TestLivenessResignsWhenOpponentOffline(t *testing.T) {
	st := newActiveState(t, "rival")
	game := &fakeGame{online: true}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)

	r.livenessOnce(context.Background())
	if len(game.resigned) != 0 {
		t.Fatalf("online opponent must not trigger resignation")
	}

	game.online = false
	r.livenessOnce(context.Background())
	if len(game.resigned) != 1 || st.Snapshot().Active() {
		t.Fatalf("expected resignation and cleared session, resigned=%v", game.resigned)
	}

	ai := newActiveState(t, "")
	r = NewRunner(game, &fakeChat{}, ai, nil, nil)
	r.livenessOnce(context.Background())
	if len(game.resigned) != 1 {
		t.Fatalf("games without an opponent id are skipped")
	}
}

func TestChallengePolicy(t *testing.T) {
	st := crowd.NewState()
	game := &fakeGame{}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)
	r.self = "crowdbot"
	ctx := context.Background()

	r.handleEvent(ctx, domain.Event{Type: domain.EventChallenge, Challenge: &domain.ChallengeInfo{ID: "c1", ChallengerID: "alice"}})
	r.handleEvent(ctx, domain.Event{Type: domain.EventChallenge, Challenge: &domain.ChallengeInfo{ID: "c2", Rated: true, ChallengerID: "bob"}})
	r.handleEvent(ctx, domain.Event{Type: domain.EventChallenge, Challenge: &domain.ChallengeInfo{ID: "c3", ChallengerID: "CrowdBot"}})

	st.SetActive(domain.GameInfo{GameID: "g1", Color: domain.White, FEN: startFEN})
	r.handleEvent(ctx, domain.Event{Type: domain.EventChallenge, Challenge: &domain.ChallengeInfo{ID: "c4", ChallengerID: "carol"}})

	if len(game.accepted) != 1 || game.accepted[0] != "c1" {
		t.Fatalf("unexpected accepted %v", game.accepted)
	}
	if len(game.declined) != 2 || game.declined[0] != "c2" || game.declined[1] != "c4" {
		t.Fatalf("unexpected declined %v", game.declined)
	}
}

func TestGameEventsDriveSession(t *testing.T) {
	st := crowd.NewState()
	r := NewRunner(&fakeGame{}, &fakeChat{}, st, nil, nil)
	ctx := context.Background()

	r.handleEvent(ctx, domain.Event{Type: domain.EventGameStart, Game: &domain.GameInfo{GameID: "g1", Color: domain.Black, FEN: startFEN}})
	if st.Snapshot().ID != "g1" {
		t.Fatalf("gameStart should activate the game")
	}
	r.handleEvent(ctx, domain.Event{Type: domain.EventGameStart, Game: &domain.GameInfo{GameID: "g2", Color: domain.White, FEN: startFEN}})
	if st.Snapshot().ID != "g1" {
		t.Fatalf("a second game must not replace the active one")
	}
	r.handleEvent(ctx, domain.Event{Type: domain.EventGameFinish, Game: &domain.GameInfo{GameID: "g2"}})
	if !st.Snapshot().Active() {
		t.Fatalf("finishing another game must not clear the session")
	}
	r.handleEvent(ctx, domain.Event{Type: domain.EventGameFinish, Game: &domain.GameInfo{GameID: "g1"}})
	if st.Snapshot().Active() {
		t.Fatalf("gameFinish should clear the session")
	}
}

func TestRefreshReconciles(t *testing.T) {
	st := crowd.NewState()
	game := &fakeGame{ongoing: []domain.GameInfo{{GameID: "g7", Color: domain.White, FEN: startFEN, IsMyTurn: true}}}
	r := NewRunner(game, &fakeChat{}, st, nil, nil)

	r.refreshOnce(context.Background())
	if st.Snapshot().ID != "g7" || !st.IsMyTurn() {
		t.Fatalf("unexpected session %+v", st.Snapshot())
	}
	game.mu.Lock()
	game.ongoing = nil
	game.mu.Unlock()
	r.refreshOnce(context.Background())
	if st.Snapshot().Active() {
		t.Fatalf("session should end when no game is listed")
	}
}

type countingWatchdog struct {
	mu  sync.Mutex
	ids []string
}

func (w *countingWatchdog) Tick(_ context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, id)
}

func (w *countingWatchdog) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ids)
}

func fastIntervals() Intervals {
	return Intervals{
		Chat:        5 * time.Millisecond,
		Resolve:     5 * time.Millisecond,
		Liveness:    5 * time.Millisecond,
		Watchdog:    5 * time.Millisecond,
		Refresh:     5 * time.Millisecond,
		StreamRetry: 5 * time.Millisecond,
	}
}

func TestRunPlaysVotedMoveAndStopsCleanly(t *testing.T) {
	game := &fakeGame{ongoing: []domain.GameInfo{{GameID: "g1", Color: domain.White, FEN: startFEN, IsMyTurn: true}}}
	st := crowd.NewState()
	st.SetActive(game.ongoing[0])
	chat := &fakeChat{queue: []domain.ChatMessage{{User: "alice", Text: "e4"}}}
	wd := &countingWatchdog{}
	taskRan := make(chan struct{})
	r := NewRunner(game, chat, st, voteHandler{state: st}, wd,
		WithIntervals(fastIntervals()),
		WithTask("probe", func(ctx context.Context) error {
			close(taskRan)
			<-ctx.Done()
			return ctx.Err()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		game.mu.Lock()
		n := len(game.moves)
		game.mu.Unlock()
		if n > 0 && wd.count() > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no move submitted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	<-taskRan
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	game.mu.Lock()
	defer game.mu.Unlock()
	if game.moves[0] != "g1:e2e4" {
		t.Fatalf("unexpected move %v", game.moves)
	}
}

func TestRunFailsWhenChatGivesUp(t *testing.T) {
	budget := errors.New("reconnect budget exhausted")
	r := NewRunner(&fakeGame{}, &fakeChat{err: budget}, crowd.NewState(), voteHandler{}, nil, WithIntervals(fastIntervals()))

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case err := <-done:
		if !errors.Is(err, budget) {
			t.Fatalf("expected chat error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("runner did not stop")
	}
}
