package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/regcheck/engine/domain"
)

const systemPrompt = `You are a strict JSON API for regulatory compliance analysis. Output exactly one valid JSON object and nothing else: no markdown, no commentary, no text outside the object.`

const promptTemplate = `Analyze this compliance concern against the provided regulatory documents.

CONCERN: %s
CONTEXT: %s

RELEVANT REGULATORY CONTENT:
%s

Return a JSON object with these fields:
{
  "status": "compliant" | "non_compliant" | "partial_compliance" | "requires_review",
  "confidence_score": number between 0 and 1,
  "summary": string,
  "impacted_rules": [string],
  "reasoning": string,
  "compliance_details": [{"rule_reference": string, "description": string, "impact_level": "high" | "medium" | "low", "required_action": string, "deadline": string}],
  "recommendations": [string]
}
Base the assessment only on the regulatory content above. If it does not settle the question, use "requires_review".`

const noDocuments = "No relevant documents were found in the regulatory corpus."

const separator = "=================================================="

// FormatContext renders retrieved chunks as numbered, labeled blocks in
// result order. The output depends only on the results.
func FormatContext(results []domain.RetrievedResult) string {
	if len(results) == 0 {
		return noDocuments
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("Document %d:\n- Source: %s\n- Page: %s\n- Type: %s\n- Relevance Score: %.2f\n- Content: %s\n%s\n",
			i+1, r.Chunk.DocumentName, r.Chunk.Page(), r.Chunk.Type, r.Score, r.Chunk.Content, separator)
	}
	return strings.Join(blocks, "\n")
}

// BuildPrompt fills the template. The context block is cut to maxContext
// characters; the instructions are never truncated.
func BuildPrompt(concern, extra string, results []domain.RetrievedResult, maxContext int) string {
	if strings.TrimSpace(extra) == "" {
		extra = "None provided"
	}
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(concern), strings.TrimSpace(extra), truncate(FormatContext(results), maxContext))
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
