package llm

import (
	"encoding/json"
	"math"

	"github.com/pbaille/notes/internal/domain"
)

// ParseUsage reads a usage object from either API variant. Every field is
// optional; null, missing or non-numeric values are skipped.
func ParseUsage(raw json.RawMessage) *domain.Usage {
	if len(raw) == 0 {
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil
	}

	u := &domain.Usage{
		InputTokens:  firstInt(fields, "input_tokens", "prompt_tokens"),
		OutputTokens: firstInt(fields, "output_tokens", "completion_tokens"),
		TotalTokens:  firstInt(fields, "total_tokens"),
	}

	if u.TotalTokens == nil && u.InputTokens != nil && u.OutputTokens != nil {
		total := *u.InputTokens + *u.OutputTokens
		u.TotalTokens = &total
	}

	if u.Empty() {
		return nil
	}
	return u
}

func firstInt(fields map[string]any, keys ...string) *int {
	for _, key := range keys {
		f, ok := fields[key].(float64)
		if !ok || f < 0 || f != math.Trunc(f) {
			continue
		}
		n := int(f)
		return &n
	}
	return nil
}
