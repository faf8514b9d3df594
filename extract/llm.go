package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dialogkit/dialogkit/entitymem"
	"github.com/dialogkit/dialogkit/llm"
	"github.com/dialogkit/dialogkit/session"
)

// intentPrompt is the system prompt for intent classification.
const intentPrompt = `You are an intent classifier for a conversational agent.
Given a user message and a list of candidate intents, pick the best match.

Return a JSON object:
{"intent": "<candidate name or none>", "confidence": <0.0-1.0>, "parameters": {}}

Use "none" when no candidate fits. Put any slot values you can identify
into parameters. Return ONLY the JSON object, no markdown.`

// entityPrompt is the system prompt for entity extraction.
const entityPrompt = `You are an entity extractor for a conversational agent.
Given a user message, extract the entities worth remembering across turns:
products, people, preferences, constraints, problems.

Return a JSON array:
[{"name": "...", "type": "...", "context_snippet": "<short phrase from the message>",
  "sentiment": <-1.0 to 1.0>, "importance": <0.0-1.0>}]

Return ONLY the JSON array, no markdown. Return [] when nothing is worth keeping.`

// LLMExtractor implements IntentDetector and EntityExtractor over an
// LLM provider. Extraction failures return errors; callers decide how
// to degrade.
type LLMExtractor struct {
	provider llm.Provider
}

// NewLLMExtractor creates an extractor over the given provider.
func NewLLMExtractor(provider llm.Provider) *LLMExtractor {
	return &LLMExtractor{provider: provider}
}

// DetectIntent classifies the message against the candidate intents.
func (e *LLMExtractor) DetectIntent(ctx context.Context, text string, candidates []string) (*session.Intent, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("no llm provider configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	user := fmt.Sprintf("Candidates: %s\n\nMessage: %s", strings.Join(candidates, ", "), text)
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: intentPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Intent     string                 `json:"intent"`
		Confidence float64                `json:"confidence"`
		Parameters map[string]interface{} `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content, '{', '}')), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable intent response: %w", err)
	}
	if parsed.Intent == "" || parsed.Intent == "none" {
		return nil, nil
	}
	return &session.Intent{
		Name:       parsed.Intent,
		Confidence: parsed.Confidence,
		Parameters: parsed.Parameters,
	}, nil
}

// ExtractEntities pulls entity observations out of the message.
func (e *LLMExtractor) ExtractEntities(ctx context.Context, text string) ([]entitymem.Observation, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("no llm provider configured")
	}
	if len(strings.TrimSpace(text)) < 3 {
		return nil, nil
	}

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: entityPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens: 600,
	})
	if err != nil {
		return nil, err
	}

	var observations []entitymem.Observation
	if err := json.Unmarshal([]byte(extractJSON(resp.Content, '[', ']')), &observations); err != nil {
		return nil, fmt.Errorf("unparseable entity response: %w", err)
	}
	return observations, nil
}

// extractJSON pulls the outermost JSON value out of an LLM response,
// tolerating markdown code fences around it.
func extractJSON(content string, open, close byte) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		var kept []string
		for _, line := range lines {
			if strings.HasPrefix(line, "```") {
				continue
			}
			kept = append(kept, line)
		}
		content = strings.Join(kept, "\n")
	}

	start := strings.IndexByte(content, open)
	end := strings.LastIndexByte(content, close)
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}
