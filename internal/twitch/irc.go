package twitch

import (
	"strings"

	"github.com/park285/crowd-chess-bot/internal/domain"
)

// Message is one parsed IRC line.
type Message struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
}

// Nick is the nickname part of the prefix ("alice" for "alice!alice@alice.tmi.twitch.tv").
func (m Message) Nick() string {
	p := m.Prefix
	if i := strings.IndexByte(p, '!'); i >= 0 {
		p = p[:i]
	}
	return p
}

// Trailing returns the last parameter, which carries the text for PRIVMSG and NOTICE.
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// ParseLine parses a single IRC line without its CRLF. ok is false for empty or
// command-less input.
func ParseLine(line string) (Message, bool) {
	line = strings.TrimRight(line, "\r\n")
	var m Message
	if strings.HasPrefix(line, "@") {
		i := strings.IndexByte(line, ' ')
		if i < 0 {
			return m, false
		}
		m.Tags = parseTags(line[1:i])
		line = strings.TrimLeft(line[i+1:], " ")
	}
	if strings.HasPrefix(line, ":") {
		i := strings.IndexByte(line, ' ')
		if i < 0 {
			return m, false
		}
		m.Prefix = line[1:i]
		line = strings.TrimLeft(line[i+1:], " ")
	}
	if line == "" {
		return m, false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	m.Command = strings.ToUpper(cmd)
	for rest != "" {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			m.Params = append(m.Params, rest[1:])
			break
		}
		var p string
		p, rest, _ = strings.Cut(rest, " ")
		m.Params = append(m.Params, p)
	}
	return m, true
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		tags[k] = unescapeTag(v)
	}
	return tags
}

var tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")

func unescapeTag(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	return tagUnescaper.Replace(v)
}

// ToChat converts a PRIVMSG into a chat message. ok is false for anything else.
func (m Message) ToChat() (domain.ChatMessage, bool) {
	if m.Command != "PRIVMSG" || len(m.Params) < 2 {
		return domain.ChatMessage{}, false
	}
	user := m.Nick()
	if user == "" {
		user = m.Tags["login"]
	}
	if user == "" {
		return domain.ChatMessage{}, false
	}
	return domain.ChatMessage{
		Channel: strings.TrimPrefix(m.Params[0], "#"),
		User:    strings.ToLower(user),
		Text:    m.Trailing(),
	}, true
}

// SplitFrame splits a websocket text frame into IRC lines; Twitch batches several
// CRLF-terminated lines per frame.
func SplitFrame(frame []byte) []string {
	raw := strings.Split(string(frame), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func channelName(ch string) string {
	return "#" + strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

func privmsg(channel, text string) string {
	return "PRIVMSG " + channelName(channel) + " :" + text
}
