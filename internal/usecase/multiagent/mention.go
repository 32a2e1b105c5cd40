package multiagent

import (
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// discardLogger returns a no-op logger for components created without one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var mentionRe = regexp.MustCompile(`@([\w-]+)`)

// ParseMention extracts the first @mention from text.
// clean is text with that one token removed and the whitespace around it
// collapsed to a single space and trimmed at the edges. Later mentions stay
// verbatim. Without a mention target is empty and clean is text unchanged.
func ParseMention(text string) (target, clean string) {
	loc := mentionRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", text
	}
	target = text[loc[2]:loc[3]]

	before := strings.TrimRight(text[:loc[0]], " \t\r\n")
	after := strings.TrimLeft(text[loc[1]:], " \t\r\n")
	switch {
	case before == "":
		clean = after
	case after == "":
		clean = before
	default:
		clean = before + " " + after
	}
	return target, strings.TrimSpace(clean)
}

// Mentions returns every @mention in text, in order of appearance.
func Mentions(text string) []string {
	matches := mentionRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
