package crowd

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/notation"
	"github.com/park285/crowd-chess-bot/internal/obslog"
	"go.uber.org/zap"
)

var (
	ErrNoActiveGame = errors.New("no active game")
	ErrAlreadyVoted = errors.New("already voted this round")
	ErrInvalidMove  = notation.ErrInvalidMove
	ErrNoVoter      = errors.New("voter is required")
)

// Session is an immutable copy of the authoritative game session.
// A zero ID means there is no active game.
type Session struct {
	ID         string
	Color      domain.Color
	OpponentID string
	FEN        string
	LastMove   string
	IsMyTurn   bool
	RoundID    string
	StartedAt  time.Time

	// PendingMove is the move we played whose result the game service has not
	// reported yet. FEN and LastMove still describe the position before it.
	PendingMove string
}

func (s Session) Active() bool { return s.ID != "" }

// Thresholds controls when resign votes win a round.
type Thresholds struct {
	MinResignVotes    int
	MinResignFraction float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{MinResignVotes: 1, MinResignFraction: 0.1}
}

// Vote is an accepted vote, passed to listeners.
type Vote struct {
	GameID  string
	RoundID string
	User    string
	Move    string
	Count   int
	At      time.Time
}

// Listener receives notifications after state changes. Calls happen outside the state lock.
type Listener interface {
	OnVoteAccepted(v Vote)
	OnRoundCleared(gameID, roundID string)
}

type Outcome int

const (
	NoOp Outcome = iota
	ResignationDue
	MoveChosen
)

func (o Outcome) String() string {
	switch o {
	case ResignationDue:
		return "resignation_due"
	case MoveChosen:
		return "move_chosen"
	default:
		return "noop"
	}
}

// Resolution is the result of evaluating the current round.
type Resolution struct {
	Outcome     Outcome
	GameID      string
	RoundID     string
	Move        string
	ResignVotes int
	TotalVotes  int
}

// Transition describes what Reconcile did to the session.
type Transition struct {
	Started  bool
	Ended    bool
	Previous string
	Current  Session
	Ignored  []string
}

type LongFormFunc func(move, fen string, toMove domain.Color) (string, error)

// State owns the game session, the vote tally and the voter registry behind one lock,
// so session transitions and round resets are observed as one step.
type State struct {
	mu         sync.RWMutex
	session    Session
	tally      *tally
	voters     registry
	thresholds Thresholds

	toLongForm LongFormFunc
	now        func() time.Time
	listeners  []Listener
}

type Option func(*State)

func WithThresholds(t Thresholds) Option {
	return func(s *State) { s.thresholds = t }
}

func WithListener(l Listener) Option {
	return func(s *State) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// AddListener registers l after construction, for listeners that read back from the state.
func (s *State) AddListener(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

func WithLongForm(f LongFormFunc) Option {
	return func(s *State) { s.toLongForm = f }
}

func NewState(opts ...Option) *State {
	s := &State{
		tally:      newTally(),
		voters:     registry{},
		thresholds: DefaultThresholds(),
		toLongForm: notation.ToLongForm,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the current session.
func (s *State) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *State) IsMyTurn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Active() && s.session.IsMyTurn
}

// SetActive makes info the authoritative game. A different game id resets the round.
func (s *State) SetActive(info domain.GameInfo) Transition {
	s.mu.Lock()
	tr, cleared := s.setActiveLocked(info)
	s.mu.Unlock()
	s.notifyCleared(cleared)
	return tr
}

// Clear drops the active game together with its tally and voters.
func (s *State) Clear() Transition {
	s.mu.Lock()
	prev := s.session
	tr := Transition{Ended: prev.Active(), Previous: prev.ID}
	s.resetLocked(Session{})
	s.mu.Unlock()
	if prev.Active() {
		s.notifyCleared(&prev)
	}
	return tr
}

// ClearIf clears only when gameID is still the active game.
func (s *State) ClearIf(gameID string) bool {
	s.mu.Lock()
	if !s.session.Active() || s.session.ID != gameID {
		s.mu.Unlock()
		return false
	}
	prev := s.session
	s.resetLocked(Session{})
	s.mu.Unlock()
	s.notifyCleared(&prev)
	return true
}

// Reconcile applies the game service's list of ongoing games. The active game is kept while
// it is still listed; otherwise the first listed game takes over. Extra games are ignored.
func (s *State) Reconcile(games []domain.GameInfo) Transition {
	s.mu.Lock()
	cur := s.session
	var (
		tr      Transition
		cleared *Session
	)
	switch {
	case len(games) == 0:
		tr = Transition{Ended: cur.Active(), Previous: cur.ID}
		if cur.Active() {
			prev := cur
			cleared = &prev
		}
		s.resetLocked(Session{})
	default:
		pick := games[0]
		for _, g := range games {
			if cur.Active() && g.GameID == cur.ID {
				pick = g
				break
			}
		}
		tr, cleared = s.setActiveLocked(pick)
		for _, g := range games {
			if g.GameID != pick.GameID {
				tr.Ignored = append(tr.Ignored, g.GameID)
			}
		}
	}
	s.mu.Unlock()
	s.notifyCleared(cleared)
	if len(tr.Ignored) > 0 {
		obslog.L().Warn("crowd_extra_games_ignored", zap.String("game_id", tr.Current.ID), zap.Strings("ignored", tr.Ignored))
	}
	return tr
}

// MarkMoved flips the turn after move landed in gameID. Until the game service reports
// a position other than the one move was played from, refreshes of gameID cannot hand
// the turn back.
func (s *State) MarkMoved(gameID, move string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ID == gameID {
		s.session.IsMyTurn = false
		s.session.PendingMove = move
	}
}

// RegisterVote records user's vote for move in gameID. The move is stored in long form.
func (s *State) RegisterVote(gameID, user, move string) (string, error) {
	user = normalizeUser(user)
	if user == "" {
		return "", ErrNoVoter
	}

	s.mu.Lock()
	if !s.session.Active() || s.session.ID != gameID {
		s.mu.Unlock()
		return "", ErrNoActiveGame
	}
	if s.voters.has(user) {
		s.mu.Unlock()
		return "", ErrAlreadyVoted
	}
	if !notation.IsWellFormed(move) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrInvalidMove, move)
	}
	long, err := s.toLongForm(move, s.session.FEN, s.session.Color)
	if err != nil {
		s.mu.Unlock()
		if !errors.Is(err, ErrInvalidMove) {
			err = fmt.Errorf("%w: %v", ErrInvalidMove, err)
		}
		return "", err
	}
	count := s.tally.add(long)
	s.voters.add(user)
	v := Vote{GameID: gameID, RoundID: s.session.RoundID, User: user, Move: long, Count: count, At: s.now()}
	s.mu.Unlock()

	s.notifyVote(v)
	return long, nil
}

// RegisterResignVote records a vote for the reserved resign key.
func (s *State) RegisterResignVote(gameID, user string) error {
	user = normalizeUser(user)
	if user == "" {
		return ErrNoVoter
	}

	s.mu.Lock()
	if !s.session.Active() || s.session.ID != gameID {
		s.mu.Unlock()
		return ErrNoActiveGame
	}
	if s.voters.has(user) {
		s.mu.Unlock()
		return ErrAlreadyVoted
	}
	count := s.tally.add(ResignKey)
	s.voters.add(user)
	v := Vote{GameID: gameID, RoundID: s.session.RoundID, User: user, Move: ResignKey, Count: count, At: s.now()}
	s.mu.Unlock()

	s.notifyVote(v)
	return nil
}

// ResolveRound picks the round's outcome without mutating anything.
func (s *State) ResolveRound() Resolution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := Resolution{GameID: s.session.ID, RoundID: s.session.RoundID}
	if !s.session.Active() {
		return res
	}
	res.TotalVotes = s.tally.total()
	res.ResignVotes = s.tally.get(ResignKey)
	if res.TotalVotes == 0 {
		return res
	}
	if res.ResignVotes > 0 &&
		res.ResignVotes >= s.thresholds.MinResignVotes &&
		float64(res.ResignVotes)/float64(res.TotalVotes) >= s.thresholds.MinResignFraction {
		res.Outcome = ResignationDue
		return res
	}
	if mv, ok := s.tally.firstMove(); ok {
		res.Outcome = MoveChosen
		res.Move = mv
	}
	return res
}

// ClearRound ends a move attempt in gameID. An empty failedMove empties tally and voters;
// otherwise only that move's entry is dropped and the voters stay registered.
func (s *State) ClearRound(gameID, failedMove string) {
	s.mu.Lock()
	if !s.session.Active() || s.session.ID != gameID {
		s.mu.Unlock()
		return
	}
	if failedMove != "" {
		s.tally.remove(failedMove)
		s.mu.Unlock()
		return
	}
	prev := s.session
	s.tally.reset()
	s.voters = registry{}
	s.session.RoundID = uuid.NewString()
	s.mu.Unlock()
	s.notifyCleared(&prev)
}

// Tally returns the current round's entries in insertion order.
func (s *State) Tally() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tally.entries()
}

func (s *State) VoterCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.voters)
}

func (s *State) HasVoted(user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voters.has(normalizeUser(user))
}

func (s *State) setActiveLocked(info domain.GameInfo) (Transition, *Session) {
	prev := s.session
	next := Session{
		ID:         strings.TrimSpace(info.GameID),
		Color:      info.Color,
		OpponentID: info.OpponentID,
		FEN:        info.FEN,
		LastMove:   info.LastMove,
		IsMyTurn:   info.IsMyTurn,
	}
	if next.ID == "" {
		s.resetLocked(Session{})
		var cleared *Session
		if prev.Active() {
			cleared = &prev
		}
		return Transition{Ended: prev.Active(), Previous: prev.ID, Current: s.session}, cleared
	}
	if prev.ID == next.ID {
		if prev.PendingMove != "" && next.FEN == prev.FEN && next.LastMove == prev.LastMove {
			// Stale view from before our move.
			return Transition{Previous: prev.ID, Current: prev}, nil
		}
		next.RoundID = prev.RoundID
		next.StartedAt = prev.StartedAt
		s.session = next
		return Transition{Previous: prev.ID, Current: next}, nil
	}
	s.resetLocked(next)
	tr := Transition{Started: true, Ended: prev.Active(), Previous: prev.ID, Current: s.session}
	if prev.Active() {
		return tr, &prev
	}
	return tr, nil
}

// resetLocked installs next and starts a fresh round. Caller holds mu.
func (s *State) resetLocked(next Session) {
	if next.Active() {
		next.RoundID = uuid.NewString()
		next.StartedAt = s.now()
	}
	s.session = next
	s.tally.reset()
	s.voters = registry{}
}

func (s *State) notifyVote(v Vote) {
	for _, l := range s.currentListeners() {
		l.OnVoteAccepted(v)
	}
}

func (s *State) notifyCleared(prev *Session) {
	if prev == nil || !prev.Active() {
		return
	}
	for _, l := range s.currentListeners() {
		l.OnRoundCleared(prev.ID, prev.RoundID)
	}
}

func (s *State) currentListeners() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners
}

func normalizeUser(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}
