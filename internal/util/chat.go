package util

import (
	"strings"
	"unicode/utf8"
)

const (
	// ChatMaxLength is the longest PRIVMSG body Twitch accepts.
	ChatMaxLength = 500
	chatEllipsis  = "…"
)

// SanitizeLine folds a reply onto a single IRC line: CR/LF become spaces and runs of
// whitespace collapse.
func SanitizeLine(text string) string {
	if text == "" {
		return text
	}
	text = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// Truncate cuts text to at most max runes, ending with an ellipsis when shortened.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	keep := max - utf8.RuneCountInString(chatEllipsis)
	if keep <= 0 {
		return string([]rune(text)[:max])
	}
	return strings.TrimRight(string([]rune(text)[:keep]), " ") + chatEllipsis
}

// ChatLine prepares text for a single chat message.
func ChatLine(text string) string {
	return Truncate(SanitizeLine(text), ChatMaxLength)
}

// StripMention removes a leading "@name" token from text.
func StripMention(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "@") {
		return t
	}
	i := strings.IndexAny(t, " \t")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(t[i+1:])
}
