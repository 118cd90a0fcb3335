// Package keyword implements the synchronous CJK+English tokenizer
// used by the ingestor (knowledge tscontent) and the pipeline's
// add_context stage (query -> keywords). Tokenization runs on bleve's
// CJK-aware analyzer (bleve is the library behind the graph store's
// full-text index, see internal/graphstore/fulltext.go) so Chinese text is split
// into overlapping bigrams the way bleve's `cjk` analyzer does, while
// English runs through its standard-analyzer token stream; a letter
// check then keeps only tokens containing at least one letter
// (dropping pure punctuation and numeric tokens).
package keyword

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/blevesearch/bleve/v2/analysis/analyzer/cjk"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

var numericToken = regexp.MustCompile(`^[-+]?[0-9]+([.,][0-9]+)?%?$`)

// Extract tokenizes text into deduplicated keywords, discards numeric
// tokens, and always appends the original full string as one extra
// keyword. The tokenizer runs on a worker goroutine via errgroup and
// Extract waits for it, so the call returns once tokenization is done.
func Extract(ctx context.Context, text string) ([]string, error) {
	var out []string
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		out = extract(text)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func extract(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	seen := make(map[string]bool)
	var keywords []string
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" || numericToken.MatchString(tok) {
			return
		}
		if seen[tok] {
			return
		}
		seen[tok] = true
		keywords = append(keywords, tok)
	}

	for _, tok := range tokenize(trimmed) {
		add(tok)
	}
	// The original full string is always appended as one extra keyword,
	// even if it duplicates a token (dedup only applies to sub-tokens).
	keywords = append(keywords, trimmed)
	return keywords
}

// tokenize runs the CJK analyzer over runs of Han/Hiragana/Katakana
// text and the standard analyzer over runs of Latin text, picking the
// analyzer per script rather than using one tokenizer for both.
func tokenize(text string) []string {
	var tokens []string
	for _, segment := range splitByScript(text) {
		an := standard.Analyzer
		if segment.isCJK {
			an = cjk.Analyzer
		}
		result := an().Analyze([]byte(segment.text))
		for _, t := range result {
			tok := string(t.Term)
			if isAllowedToken(tok) {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

type scriptRun struct {
	text  string
	isCJK bool
}

// splitByScript partitions text into contiguous CJK and non-CJK runs
// so each can be handed to the analyzer best suited to it.
func splitByScript(text string) []scriptRun {
	var runs []scriptRun
	var cur strings.Builder
	curIsCJK := false
	started := false

	flush := func() {
		if cur.Len() > 0 {
			runs = append(runs, scriptRun{text: cur.String(), isCJK: curIsCJK})
			cur.Reset()
		}
	}

	for _, r := range text {
		isCJK := unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r)
		if started && isCJK != curIsCJK {
			flush()
		}
		cur.WriteRune(r)
		curIsCJK = isCJK
		started = true
	}
	flush()
	return runs
}

// isAllowedToken approximates a content-bearing-token filter without a
// true POS tagger: nouns, proper names, verbs, adjectives, English
// tokens, idioms, and fixed phrases are all acceptable, so this only
// excludes empty tokens, numeric tokens, and tokens with no letter at
// all (pure punctuation or symbols), leaving anything else to the downstream LLM filter
// stages to discard if irrelevant — this stage only removes clear
// noise.
func isAllowedToken(tok string) bool {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return false
	}
	if numericToken.MatchString(tok) {
		return false
	}
	hasLetter := false
	for _, r := range tok {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	return hasLetter
}
