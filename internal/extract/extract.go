package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pbaille/notes/internal/domain"
)

// DefaultReasoning is used when nothing readable could be recovered
const DefaultReasoning = "Answer generated from relevant notes."

// Method records which strategy produced the answer
type Method string

const (
	MethodTyped     Method = "typed"
	MethodFields    Method = "fields"
	MethodJSON      Method = "json"
	MethodMarkdown  Method = "json_markdown"
	MethodEmbedded  Method = "json_extracted"
	MethodTruncated Method = "truncated_salvage"
	MethodText      Method = "text"
	MethodTrace     Method = "trace"
	MethodDefault   Method = "default"
)

// Result is the outcome of Extract
type Result struct {
	Answer domain.StructuredAnswer
	// FallbackText is the best readable text recovered, possibly empty
	FallbackText string
	Method       Method
	// Location names the RawResult field the answer came from
	Location string
}

type location struct {
	name  string
	value Value
}

// Extract turns raw into a StructuredAnswer. Locations are tried in order
// final output, output, content; the trace is the last resort. It always
// returns an answer with non-empty reasoning and non-nil lists.
func Extract(raw RawResult) Result {
	var (
		best       string
		bestMethod Method
		bestLoc    string
	)
	keep := func(text string, m Method, loc string) {
		if best == "" && strings.TrimSpace(text) != "" {
			best, bestMethod, bestLoc = strings.TrimSpace(text), m, loc
		}
	}

	for _, loc := range []location{
		{"final_output", raw.FinalOutput},
		{"output", raw.Output},
		{"content", raw.Content},
	} {
		switch loc.value.kind {
		case KindTyped:
			return finish(loc.value.answer, "", MethodTyped, loc.name)

		case KindFields:
			if a, ok := fromFields(loc.value.fields); ok {
				return finish(a, "", MethodFields, loc.name)
			}

		case KindText:
			text := loc.value.text
			if strings.Contains(text, "RunResult:") {
				text = stripTrace(text)
			}
			if a, m, ok := parseText(text); ok {
				return finish(a, "", m, loc.name)
			}
			if salvaged := salvageReasoning(text); salvaged != "" {
				keep(salvaged, MethodTruncated, loc.name)
				continue
			}
			if !looksLikeJSON(text) {
				keep(text, MethodText, loc.name)
			}
		}
	}

	if best == "" && raw.Trace != "" {
		text := stripTrace(raw.Trace)
		if a, m, ok := parseText(text); ok {
			return finish(a, "", m, "trace")
		}
		if salvaged := salvageReasoning(text); salvaged != "" {
			keep(salvaged, MethodTruncated, "trace")
		} else if !looksLikeJSON(text) {
			keep(text, MethodTrace, "trace")
		}
	}

	if best == "" {
		return finish(domain.StructuredAnswer{}, "", MethodDefault, "")
	}
	return finish(domain.StructuredAnswer{Reasoning: best}, best, bestMethod, bestLoc)
}

// finish fills the invariants every returned answer must satisfy
func finish(a domain.StructuredAnswer, fallback string, m Method, loc string) Result {
	if strings.TrimSpace(a.Reasoning) == "" {
		if strings.TrimSpace(fallback) != "" {
			a.Reasoning = strings.TrimSpace(fallback)
		} else {
			a.Reasoning = DefaultReasoning
		}
	}
	if a.NoteFiles == nil {
		a.NoteFiles = []string{}
	}
	if a.DailyFiles == nil {
		a.DailyFiles = []string{}
	}
	if a.Links == nil {
		a.Links = []string{}
	}
	return Result{Answer: a, FallbackText: fallback, Method: m, Location: loc}
}

// parseText tries direct JSON, fenced JSON, then JSON embedded in prose
func parseText(text string) (domain.StructuredAnswer, Method, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.StructuredAnswer{}, "", false
	}

	if a, ok := decodeAnswer(trimmed); ok {
		return a, MethodJSON, true
	}

	if inner, ok := stripFence(trimmed); ok {
		if a, ok := decodeAnswer(inner); ok {
			return a, MethodMarkdown, true
		}
	}

	for _, candidate := range findJSONCandidates(trimmed) {
		if a, ok := decodeAnswer(candidate); ok {
			return a, MethodEmbedded, true
		}
	}

	return domain.StructuredAnswer{}, "", false
}

func decodeAnswer(s string) (domain.StructuredAnswer, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return domain.StructuredAnswer{}, false
	}
	return fromFields(m)
}

// field aliases accepted when rebuilding an answer from a loose map
var (
	reasoningKeys = []string{"reasoning", "answer"}
	noteKeys      = []string{"relevant_note_files", "note_files"}
	dailyKeys     = []string{"relevant_daily_files", "daily_files"}
	linkKeys      = []string{"noteplan_links", "links"}
)

// fromFields rebuilds an answer field by field. The map must carry a
// reasoning string or at least one of the file lists.
func fromFields(m map[string]any) (domain.StructuredAnswer, bool) {
	var (
		a     domain.StructuredAnswer
		found bool
	)

	for _, key := range reasoningKeys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			a.Reasoning = s
			found = true
			break
		}
	}

	var ok bool
	if a.NoteFiles, ok = stringList(m, noteKeys); ok {
		found = true
	}
	if a.DailyFiles, ok = stringList(m, dailyKeys); ok {
		found = true
	}
	if a.Links, ok = stringList(m, linkKeys); ok {
		found = true
	}

	return a, found
}

// stringList reads the first key holding a list; non-string items are formatted
func stringList(m map[string]any, keys []string) ([]string, bool) {
	for _, key := range keys {
		raw, present := m[key]
		if !present {
			continue
		}
		switch v := raw.(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				switch s := item.(type) {
				case string:
					out = append(out, s)
				case nil:
					out = append(out, "")
				default:
					out = append(out, fmt.Sprint(s))
				}
			}
			return out, true
		case string:
			if v == "" {
				return []string{}, true
			}
			return []string{v}, true
		case nil:
			return []string{}, true
		}
	}
	return nil, false
}

// stripFence removes a surrounding ``` or ```json fence
func stripFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		// a fence may follow some prose
		idx := strings.Index(s, "```")
		if idx < 0 {
			return "", false
		}
		s = s[idx:]
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s), true
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if inner, ok := stripFence(s); ok && strings.HasPrefix(s, "```") {
		s = inner
	}
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

var reasoningKey = regexp.MustCompile(`"reasoning"\s*:\s*"`)

// salvageReasoning recovers the reasoning string from a JSON object cut off
// before its closing brace. An object whose opening brace is balanced is
// complete and is not salvaged, whatever its last character.
func salvageReasoning(s string) string {
	s = strings.TrimSpace(s)
	if inner, ok := stripFence(s); ok && strings.HasPrefix(s, "```") {
		s = inner
	}
	if !strings.HasPrefix(s, "{") || len(findJSONCandidates(s)) > 0 {
		return ""
	}

	loc := reasoningKey.FindStringIndex(s)
	if loc == nil {
		return ""
	}

	rest := s[loc[1]:]
	end := len(rest)
	escaped := false
	for i := 0; i < len(rest); i++ {
		if escaped {
			escaped = false
			continue
		}
		if rest[i] == '\\' {
			escaped = true
			continue
		}
		if rest[i] == '"' {
			end = i
			break
		}
	}

	body := rest[:end]
	if escaped {
		// cut in the middle of an escape sequence
		body = strings.TrimSuffix(body, `\`)
	}

	var out string
	if err := json.Unmarshal([]byte(`"`+body+`"`), &out); err != nil {
		out = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`).Replace(body)
	}
	return strings.TrimSpace(out)
}

// stripTrace returns the final-output block of a run trace, or the text
// itself when no trace markers are present.
func stripTrace(s string) string {
	idx := strings.Index(s, "Final output")
	if idx < 0 {
		if strings.Contains(s, "RunResult:") {
			return ""
		}
		return strings.TrimSpace(s)
	}

	block := s[idx+len("Final output"):]
	// drop the "(str):" style type marker
	if strings.HasPrefix(strings.TrimSpace(block), "(") {
		block = strings.TrimSpace(block)
		if marker := strings.Index(block, "):"); marker >= 0 {
			block = block[marker+2:]
		}
	}
	block = strings.TrimPrefix(strings.TrimSpace(block), ":")

	if end := strings.Index(block, "\n- "); end >= 0 {
		block = block[:end]
	}

	lines := strings.Split(block, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
