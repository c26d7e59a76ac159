package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ExtractJSON pulls the first JSON object or array out of free-form worker
// output. Workers wrap their result in prose or markdown fences more often
// than not, so the extractor scans for the first opening brace or bracket,
// decodes greedily from there, and falls back to structural repair when the
// candidate is close to valid JSON but not quite.
func ExtractJSON(text string) (json.RawMessage, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON value found in output")
	}
	candidate := text[start:]

	// 1. Try a strict decode of the first value
	dec := json.NewDecoder(strings.NewReader(candidate))
	var value json.RawMessage
	if err := dec.Decode(&value); err == nil {
		return value, nil
	}

	// 2. Strip a trailing markdown fence and retry
	if end := strings.LastIndex(candidate, "```"); end > 0 {
		trimmed := strings.TrimSpace(candidate[:end])
		dec = json.NewDecoder(strings.NewReader(trimmed))
		if err := dec.Decode(&value); err == nil {
			return value, nil
		}
		candidate = trimmed
	}

	// 3. Repair near-JSON: unquoted keys, single quotes, trailing commas
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("output is not valid JSON after repair")
	}
	return json.RawMessage(repaired), nil
}
