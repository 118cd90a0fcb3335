package llmclient

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/metaground/retrieval-engine/internal/errs"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseJSON parses an LLM response as JSON, falling back to extracting
// the first ```json fenced code block when the raw string is not
// valid JSON on its own — matching the original pipeline's parse_json
// leniency for models that wrap their answer in prose or markdown.
func ParseJSON(raw string, out interface{}) error {
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	m := fencedJSONRe.FindStringSubmatch(trimmed)
	if m == nil {
		return errs.New(errs.KindData, "parse_json", fmt.Errorf("no JSON object found in response"))
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), out); err != nil {
		return errs.New(errs.KindData, "parse_json", err)
	}
	return nil
}
