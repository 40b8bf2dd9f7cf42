package core

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxReactionRunes = 8

var reactionShortcodes = map[string]string{
	":+1:":       "👍",
	":thumbsup:": "👍",
	":-1:":       "👎",
	":heart:":    "❤️",
	":joy:":      "😂",
	":tada:":     "🎉",
	":eyes:":     "👀",
	":fire:":     "🔥",
	":rocket:":   "🚀",
	":pray:":     "🙏",
	":check:":    "✅",
}

// NormalizeReactionText validates a reaction and expands shortcodes.
// Reactions are short emoji sequences; words are rejected.
func NormalizeReactionText(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if emoji, ok := reactionShortcodes[strings.ToLower(trimmed)]; ok {
		return emoji, true
	}
	if utf8.RuneCountInString(trimmed) > maxReactionRunes {
		return "", false
	}
	for _, r := range trimmed {
		if r < utf8.RuneSelf || unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return "", false
		}
	}
	return trimmed, true
}
