package domain

import "strings"

// RetrievedFile is a note file returned by semantic search
type RetrievedFile struct {
	FilePath        string  `json:"file_path"`
	FileName        string  `json:"file_name"`
	SimilarityScore float64 `json:"similarity_score"`
	ModifiedAt      *string `json:"modified_at,omitempty"`
}

// StructuredAnswer is the shape the generation agent is asked to produce.
// Links are ordered note files first, then daily files.
type StructuredAnswer struct {
	Reasoning  string   `json:"reasoning"`
	NoteFiles  []string `json:"relevant_note_files"`
	DailyFiles []string `json:"relevant_daily_files"`
	Links      []string `json:"noteplan_links"`
}

// Files returns note files followed by daily files
func (a StructuredAnswer) Files() []string {
	files := make([]string, 0, len(a.NoteFiles)+len(a.DailyFiles))
	files = append(files, a.NoteFiles...)
	return append(files, a.DailyFiles...)
}

// GuardrailVerdict is the outcome of a single guardrail invocation
type GuardrailVerdict struct {
	Name      string `json:"name"`
	Tripped   bool   `json:"tripped"`
	Reasoning string `json:"reasoning"`
	RawOutput any    `json:"raw_output,omitempty"`
	Err       error  `json:"-"`
}

// Response is the externally visible result of a note query
type Response struct {
	RequestID         string          `json:"request_id"`
	Answer            string          `json:"answer"`
	Reasoning         string          `json:"reasoning"`
	RelevantFiles     []RetrievedFile `json:"relevant_files"`
	OriginalQuery     string          `json:"original_query"`
	QueryAnswered     bool            `json:"query_answered"`
	GuardrailsTripped []string        `json:"guardrails_tripped"`
}

// MinAnswerLength is the shortest trimmed answer counted as answering the query
const MinAnswerLength = 10

// Answered reports whether answer is long enough to count as a real answer
func Answered(answer string) bool {
	return len(strings.TrimSpace(answer)) >= MinAnswerLength
}

// Usage holds token counts; nil fields were not reported
type Usage struct {
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`
	TotalTokens  *int `json:"total_tokens,omitempty"`
}

// Add accumulates other into u, keeping fields nil only if both are nil
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens = addOpt(u.InputTokens, other.InputTokens)
	u.OutputTokens = addOpt(u.OutputTokens, other.OutputTokens)
	u.TotalTokens = addOpt(u.TotalTokens, other.TotalTokens)
}

// Empty reports whether no token count is known
func (u *Usage) Empty() bool {
	return u == nil || (u.InputTokens == nil && u.OutputTokens == nil && u.TotalTokens == nil)
}

func addOpt(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	sum := 0
	if a != nil {
		sum += *a
	}
	if b != nil {
		sum += *b
	}
	return &sum
}

// GenerationMetadata describes the generation call for observability
type GenerationMetadata struct {
	ModelName      string  `json:"model_name"`
	APIVariant     string  `json:"api_variant"`
	ModelClass     string  `json:"model_class"`
	ProxyURL       string  `json:"proxy_url"`
	GenerationTime float64 `json:"generation_time_seconds"`
	Usage          *Usage  `json:"usage,omitempty"`
}

// UnknownMetadata is used when nothing is known about the generation call
func UnknownMetadata() GenerationMetadata {
	return GenerationMetadata{
		ModelName:  "unknown",
		APIVariant: "unknown",
		ModelClass: "unknown",
		ProxyURL:   "unknown",
	}
}
