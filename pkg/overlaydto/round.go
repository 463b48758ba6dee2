package overlaydto

import "time"

type VoteCount struct {
	Move  string `json:"move"`
	Votes int    `json:"votes"`
}

// RoundState is the live voting round as shown on stream.
type RoundState struct {
	GameID    string      `json:"game_id"`
	RoundID   string      `json:"round_id"`
	Color     string      `json:"color"`
	FEN       string      `json:"fen"`
	LastMove  string      `json:"last_move,omitempty"`
	IsMyTurn  bool        `json:"is_my_turn"`
	Votes     []VoteCount `json:"votes"`
	Voters    int         `json:"voters"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Next returns the candidate that would be played now: the earliest non-resign entry.
func (r RoundState) Next(resignKey string) (VoteCount, bool) {
	for _, v := range r.Votes {
		if v.Move != resignKey && v.Votes > 0 {
			return v, true
		}
	}
	return VoteCount{}, false
}

type ChallengeState struct {
	Status    string    `json:"status"`
	ID        string    `json:"id,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type VoterCount struct {
	User  string `json:"user"`
	Votes int64  `json:"votes"`
}

// OBSInfo is written to info.json for the streaming scene.
type OBSInfo struct {
	URL         string         `json:"url"`
	Wins        int            `json:"wins"`
	Draws       int            `json:"draws"`
	Losses      int            `json:"losses"`
	Record      string         `json:"record"`
	GameID      string         `json:"game_id,omitempty"`
	GameVotes   int            `json:"game_votes"`
	Challenge   ChallengeState `json:"challenge"`
	TopVoters   []VoterCount   `json:"top_voters"`
	GeneratedAt time.Time      `json:"generated_at"`
}
