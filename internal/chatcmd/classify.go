package chatcmd

import (
	"strings"
	"unicode"
)

type Kind int

const (
	KindIgnored Kind = iota
	KindCommand
	KindMoveVote
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindMoveVote:
		return "move_vote"
	default:
		return "ignored"
	}
}

// Recognised command names, without the leading '!'.
const (
	CmdResign    = "resign"
	CmdStart     = "start"
	CmdChallenge = "challenge"
	CmdHelp      = "help"
	CmdVotes     = "votes"
)

var commands = map[string]struct{}{
	CmdResign:    {},
	CmdStart:     {},
	CmdChallenge: {},
	CmdHelp:      {},
	CmdVotes:     {},
}

// Classification is the result of Classify. Name and Arg are set for commands,
// Text for move votes.
type Classification struct {
	Kind Kind
	Name string
	Arg  string
	Text string
}

// Classify sorts a chat line into a command, a candidate move vote or noise.
// Lines with more than one word are never move votes.
func Classify(line string) Classification {
	line = strings.TrimSpace(line)
	if line == "" {
		return Classification{Kind: KindIgnored}
	}
	if line[0] == '!' {
		head, rest := splitFirst(line)
		name := strings.ToLower(strings.TrimPrefix(head, "!"))
		if _, ok := commands[name]; ok {
			return Classification{Kind: KindCommand, Name: name, Arg: rest}
		}
	}
	if strings.IndexFunc(line, unicode.IsSpace) >= 0 {
		return Classification{Kind: KindIgnored}
	}
	return Classification{Kind: KindMoveVote, Text: line}
}

func splitFirst(line string) (string, string) {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i:])
}
