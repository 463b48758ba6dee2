package domain

import "strings"

// Color identifies the side the bot plays in a game.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func ParseColor(s string) Color {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White
	case "black", "b":
		return Black
	default:
		return ""
	}
}

func (c Color) Valid() bool { return c == White || c == Black }

// GameInfo is an ongoing game as reported by the game service.
type GameInfo struct {
	GameID       string
	FullID       string
	Color        Color
	FEN          string
	IsMyTurn     bool
	LastMove     string
	OpponentID   string
	OpponentName string
	Rated        bool
}

type ChallengeInfo struct {
	ID           string
	URL          string
	Status       string
	Rated        bool
	Variant      string
	ChallengerID string
}

// ChallengeOptions carries the clock for created challenges. Zero limit means correspondence.
type ChallengeOptions struct {
	ClockLimitSec     int
	ClockIncrementSec int
	Rated             bool
}

type EventType string

const (
	EventChallenge         EventType = "challenge"
	EventChallengeCanceled EventType = "challengeCanceled"
	EventChallengeDeclined EventType = "challengeDeclined"
	EventGameStart         EventType = "gameStart"
	EventGameFinish        EventType = "gameFinish"
)

// Event is one entry of the game service's incoming event stream.
type Event struct {
	Type      EventType
	Challenge *ChallengeInfo
	Game      *GameInfo
}

type Account struct {
	ID       string
	Username string
	Wins     int
	Draws    int
	Losses   int
}

// ChatMessage is a single chat line attributed to a user.
type ChatMessage struct {
	Channel string
	User    string
	Text    string
}
