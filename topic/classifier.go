package topic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dialogkit/dialogkit/llm"
)

const classifyPrompt = `You assign topics to user messages.

Topics:
%s
Message: %s

Respond with ONLY a JSON array of topic ids that apply, most relevant
first, at most %d entries. Respond with [] if no topic applies.`

// LLMClassifier assigns topics using a chat completion provider.
type LLMClassifier struct {
	provider llm.Provider
}

// NewLLMClassifier builds a classifier over the given provider.
func NewLLMClassifier(provider llm.Provider) *LLMClassifier {
	return &LLMClassifier{provider: provider}
}

// ClassifyTopics implements Classifier.
func (c *LLMClassifier) ClassifyTopics(ctx context.Context, text string, candidates []Topic, limit int) ([]string, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("no provider configured")
	}
	if strings.TrimSpace(text) == "" || len(candidates) == 0 {
		return nil, nil
	}

	var listing strings.Builder
	for _, t := range candidates {
		fmt.Fprintf(&listing, "- %s: %s\n", t.ID, t.Description)
	}

	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, listing.String(), text, limit)},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return nil, err
	}

	raw := jsonArray(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in classifier response")
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("parse classifier response: %w", err)
	}
	return ids, nil
}

// jsonArray slices the outermost JSON array out of a response that
// may be wrapped in prose or a markdown fence.
func jsonArray(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if i := strings.Index(content, "```"); i >= 0 {
			content = content[:i]
		}
		content = strings.TrimSpace(content)
	}

	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
