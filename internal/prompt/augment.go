// Package prompt holds the instruction texts given to the generation agent
// and the guardrail sub-agents.
package prompt

import (
	"fmt"
	"strings"

	"github.com/pbaille/notes/internal/domain"
)

// NoResultsSection is emitted in place of the candidate list when retrieval found nothing
const NoResultsSection = "No relevant note files found via semantic search."

// Augment renders the generation agent instructions with the retrieved
// candidates interpolated. limit is only used for display.
func Augment(candidates []domain.RetrievedFile, limit int) string {
	return strings.TrimSpace(strings.Replace(agentTemplate, "{semantic_search_results}", formatCandidates(candidates, limit), 1))
}

func formatCandidates(candidates []domain.RetrievedFile, limit int) string {
	if len(candidates) == 0 {
		return NoResultsSection
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Relevant Note Files (Top %d)\n\n", limit)
	sb.WriteString("Based on semantic analysis of your question, the following note files are most relevant:\n\n")

	for i, c := range candidates {
		name := c.FileName
		if name == "" {
			name = "Unknown"
		}
		filePath := c.FilePath
		if filePath == "" {
			filePath = "Unknown"
		}
		fmt.Fprintf(&sb, "%d. **File**: %s (Path: %s, Similarity: %.3f)\n", i+1, name, filePath, c.SimilarityScore)
	}

	sb.WriteString("\n**Use information from these files to answer the user's question.**\n")
	return sb.String()
}
