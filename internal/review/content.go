package review

import (
	"regexp"
	"strings"
)

// Content screening rules applied during automatic verification. A review
// that trips any of them is held for manual moderation instead of being
// rejected outright.
const (
	minContentLength = 20
	maxLinks         = 2
)

var (
	urlPattern = regexp.MustCompile(`https?://\S+|www\.\S+`)

	blockedWords = []string{
		"scam", "scammer", "fraud", "fraudster",
		"idiot", "moron", "bastard",
		"shit", "fuck", "asshole",
	}
)

// ScreenContent checks review text against the content rules and returns
// every violated rule. An empty result means the content is publishable.
func ScreenContent(content string) []string {
	var violations []string

	trimmed := strings.TrimSpace(content)
	if len(trimmed) < minContentLength {
		violations = append(violations, "content too short")
	}

	lower := strings.ToLower(trimmed)
	for _, w := range blockedWords {
		if containsWord(lower, w) {
			violations = append(violations, "blocked word: "+w)
			break
		}
	}

	if hasRepeatedRun(trimmed, 6) {
		violations = append(violations, "repeated character spam")
	}

	if links := urlPattern.FindAllString(trimmed, -1); len(links) > maxLinks {
		violations = append(violations, "too many links")
	}

	return violations
}

// hasRepeatedRun reports whether the text contains a run of at least min
// consecutive identical runes, the usual keyboard-mash spam.
func hasRepeatedRun(text string, min int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run >= min {
			return true
		}
	}
	return false
}

// containsWord matches whole words only, so "scampi" does not trip "scam".
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}
