package lichess

import (
	"strings"

	"github.com/park285/crowd-chess-bot/internal/domain"
)

type accountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Count    struct {
		Win  int `json:"win"`
		Draw int `json:"draw"`
		Loss int `json:"loss"`
	} `json:"count"`
}

type opponent struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	AI       int    `json:"ai"`
}

type nowPlaying struct {
	GameID   string   `json:"gameId"`
	FullID   string   `json:"fullId"`
	Color    string   `json:"color"`
	FEN      string   `json:"fen"`
	IsMyTurn bool     `json:"isMyTurn"`
	LastMove string   `json:"lastMove"`
	Rated    bool     `json:"rated"`
	Opponent opponent `json:"opponent"`
}

func (g nowPlaying) toDomain() domain.GameInfo {
	return domain.GameInfo{
		GameID:       strings.TrimSpace(g.GameID),
		FullID:       g.FullID,
		Color:        domain.ParseColor(g.Color),
		FEN:          g.FEN,
		IsMyTurn:     g.IsMyTurn,
		LastMove:     g.LastMove,
		OpponentID:   g.Opponent.ID,
		OpponentName: g.Opponent.Username,
		Rated:        g.Rated,
	}
}

type playingResponse struct {
	NowPlaying []nowPlaying `json:"nowPlaying"`
}

type challengeJSON struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	Rated      bool   `json:"rated"`
	Challenger struct {
		ID string `json:"id"`
	} `json:"challenger"`
	Variant struct {
		Key string `json:"key"`
	} `json:"variant"`
}

func (c challengeJSON) toDomain() domain.ChallengeInfo {
	return domain.ChallengeInfo{
		ID:           strings.TrimSpace(c.ID),
		URL:          c.URL,
		Status:       c.Status,
		Rated:        c.Rated,
		Variant:      c.Variant.Key,
		ChallengerID: c.Challenger.ID,
	}
}

// challengeResponse covers both the flat shape and the older {"challenge": {...}} wrapper.
type challengeResponse struct {
	challengeJSON
	Challenge *challengeJSON `json:"challenge"`
}

func (r challengeResponse) info() domain.ChallengeInfo {
	if r.Challenge != nil && r.Challenge.ID != "" {
		return r.Challenge.toDomain()
	}
	return r.challengeJSON.toDomain()
}

// gameEventJSON is the game object inside gameStart/gameFinish events.
type gameEventJSON struct {
	nowPlaying
	ID string `json:"id"`
}

type eventEnvelope struct {
	Type      string         `json:"type"`
	Challenge *challengeJSON `json:"challenge"`
	Game      *gameEventJSON `json:"game"`
}

func (e eventEnvelope) toDomain() domain.Event {
	ev := domain.Event{Type: domain.EventType(e.Type)}
	if e.Challenge != nil {
		c := e.Challenge.toDomain()
		ev.Challenge = &c
	}
	if e.Game != nil {
		g := e.Game.nowPlaying.toDomain()
		if g.GameID == "" {
			g.GameID = strings.TrimSpace(e.Game.ID)
		}
		ev.Game = &g
	}
	return ev
}

type userStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}
