package contextualizer

import (
	"fmt"
	"strings"
)

const tokensPerChar = 3

// truncateDocument bounds doc to roughly maxTokens estimated tokens,
// keeping the head 70% and tail 25% of the budget joined by a marker when
// truncation is needed (spec.md §4.4).
func truncateDocument(doc string, maxTokens int) string {
	maxChars := maxTokens * tokensPerChar
	if maxChars <= 0 || len(doc) <= maxChars {
		return doc
	}

	headChars := int(float64(maxChars) * 0.70)
	tailChars := int(float64(maxChars) * 0.25)
	if headChars+tailChars >= len(doc) {
		return doc
	}
	return doc[:headChars] + "\n...\n" + doc[len(doc)-tailChars:]
}

// buildPrompt constructs the batch prompt: a truncated document excerpt
// followed by each chunk wrapped in a <chunk index="i"> block, asking for
// a JSON array of context strings.
func buildPrompt(docExcerpt string, chunks []string) string {
	var b strings.Builder
	b.WriteString("You are generating short retrieval context for document chunks.\n\n")
	b.WriteString("Document:\n")
	b.WriteString(docExcerpt)
	b.WriteString("\n\nFor each chunk below, write a 1-2 sentence description of what it covers and ")
	b.WriteString("how it relates to the rest of the document. Respond with a JSON array of strings, ")
	b.WriteString("one per chunk, in order. Output only the JSON array.\n\n")

	for i, c := range chunks {
		fmt.Fprintf(&b, "<chunk index=\"%d\">\n%s\n</chunk>\n\n", i, c)
	}
	return b.String()
}
