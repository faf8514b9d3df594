package llm

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer merges entity summaries through an LLM. It implements the
// entitymem.Summarizer interface.
type Summarizer struct {
	provider Provider
}

// NewSummarizer creates a summarizer over the given provider.
func NewSummarizer(provider Provider) *Summarizer {
	return &Summarizer{provider: provider}
}

// MergeSummary combines an entity's existing summary with a new context
// snippet into one concise summary.
func (s *Summarizer) MergeSummary(ctx context.Context, name, oldSummary, snippet string) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("no LLM provider configured for summarization")
	}

	prompt := fmt.Sprintf(`Entity: %s

Existing summary:
%s

New mention:
%s

Merge the existing summary with the new mention into a single summary of
1-2 sentences. Keep every distinct fact from both. Return only the merged
summary with no preamble.`, name, oldSummary, snippet)

	resp, err := s.provider.Chat(ctx, ChatRequest{
		Messages:  []Message{{Role: "user", Content: prompt}},
		MaxTokens: 200,
	})
	if err != nil {
		return "", fmt.Errorf("summary merge LLM call failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
