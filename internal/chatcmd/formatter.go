package chatcmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/park285/crowd-chess-bot/internal/challenge"
	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/msgcat"
)

const summaryTopN = 5

// Formatter renders chat replies from the message catalogue. Every method has a
// built-in fallback so a broken override file never silences the bot.
type Formatter struct {
	cat *msgcat.Catalog
	now func() time.Time
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	return &Formatter{cat: cat, now: time.Now}
}

func (f *Formatter) NoGame(user string) string {
	return f.cat.RenderOr("vote.rejected.no_game", map[string]any{"User": user},
		fmt.Sprintf("@%s there is no game in progress right now.", user))
}

func (f *Formatter) AlreadyVoted(user string) string {
	return f.cat.RenderOr("vote.rejected.already_voted", map[string]any{"User": user},
		fmt.Sprintf("@%s you already voted this round.", user))
}

func (f *Formatter) InvalidMove(user, move string) string {
	return f.cat.RenderOr("vote.rejected.invalid_move", map[string]any{"User": user, "Move": move},
		fmt.Sprintf("@%s %s is not a legal move.", user, move))
}

func (f *Formatter) Busy(user string) string {
	return f.cat.RenderOr("challenge.busy", map[string]any{"User": user},
		fmt.Sprintf("@%s a game is already in progress.", user))
}

func (f *Formatter) ChallengeOffered(offer challenge.Offer, timeout time.Duration) string {
	expires := humanize.Time(offer.CreatedAt.Add(timeout))
	return f.cat.RenderOr("challenge.offered", map[string]any{"URL": offer.URL, "Expires": expires},
		"Open challenge: "+offer.URL)
}

func (f *Formatter) ChallengeConflict(user string, offer challenge.Offer) string {
	return f.cat.RenderOr("challenge.conflict", map[string]any{"User": user, "URL": offer.URL},
		fmt.Sprintf("@%s a challenge is already open.", user))
}

func (f *Formatter) ChallengeFailed(user string) string {
	return f.cat.RenderOr("challenge.failed", map[string]any{"User": user},
		fmt.Sprintf("@%s could not create a challenge.", user))
}

func (f *Formatter) StartOK(user string) string {
	return f.cat.RenderOr("start.ok", map[string]any{"User": user},
		fmt.Sprintf("@%s starting a new game.", user))
}

func (f *Formatter) StartFailed(user string) string {
	return f.cat.RenderOr("start.failed", map[string]any{"User": user},
		fmt.Sprintf("@%s could not start a game.", user))
}

func (f *Formatter) Help() string {
	return f.cat.RenderOr("help", nil, "Vote by typing a move. Commands: !resign !votes !challenge !start")
}

// VoteSummary lists the most voted candidates, highest first; ties keep tally order.
func (f *Formatter) VoteSummary(entries []crowd.Entry, voters int, since time.Time) string {
	if len(entries) == 0 {
		return f.cat.RenderOr("vote.empty", nil, "No votes yet this round.")
	}
	sorted := append([]crowd.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Votes > sorted[j].Votes })
	if len(sorted) > summaryTopN {
		sorted = sorted[:summaryTopN]
	}
	parts := make([]string, 0, len(sorted))
	for _, e := range sorted {
		parts = append(parts, fmt.Sprintf("%s %s", e.Move, humanize.Comma(int64(e.Votes))))
	}
	top := strings.Join(parts, ", ")
	sinceText := humanize.RelTime(since, f.now(), "ago", "from now")
	return f.cat.RenderOr("vote.summary",
		map[string]any{"Since": sinceText, "Voters": humanize.Comma(int64(voters)), "Top": top},
		"Votes: "+top)
}
