package retrieval

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// sentenceSplit matches Chinese and English sentence-ending
// punctuation, used to split a query into sub-statements.
var sentenceSplit = regexp.MustCompile(`[。！？；\.!?;\n]+`)

// splitSentences breaks query into sub-statements, dropping any
// shorter than 3 runes.
func splitSentences(query string) []string {
	parts := sentenceSplit.Split(query, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) < 3 {
			continue
		}
		out = append(out, p)
	}
	return out
}
