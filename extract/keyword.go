package extract

import (
	"context"
	"strings"

	"github.com/dialogkit/dialogkit/entitymem"
	"github.com/dialogkit/dialogkit/session"
)

// KeywordIntentDetector is a no-LLM fallback: a configured map of
// keywords to intent names, matched by case-insensitive substring.
// Matches get a fixed confidence since there is no model behind them.
type KeywordIntentDetector struct {
	intents    map[string][]string // intent name -> trigger keywords
	confidence float64
}

// NewKeywordIntentDetector creates a detector from intent keyword lists.
func NewKeywordIntentDetector(intents map[string][]string, confidence float64) *KeywordIntentDetector {
	if confidence <= 0 {
		confidence = 0.75
	}
	return &KeywordIntentDetector{intents: intents, confidence: confidence}
}

// DetectIntent returns the first intent whose keyword appears in the
// message, or nil when none match.
func (d *KeywordIntentDetector) DetectIntent(_ context.Context, text string, candidates []string) (*session.Intent, error) {
	lower := strings.ToLower(text)
	for _, name := range candidates {
		for _, kw := range d.intents[name] {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return &session.Intent{Name: name, Confidence: d.confidence}, nil
			}
		}
	}
	return nil, nil
}

// MentionedEntities returns the names of known entities whose name
// appears in the message, in order of first appearance. Used to build
// the "mentioned" leg of entity relevance without an extraction call.
func MentionedEntities(text string, known []entitymem.Record) []string {
	lower := strings.ToLower(text)
	type hit struct {
		name string
		pos  int
	}
	var hits []hit
	for _, rec := range known {
		if rec.Name == "" {
			continue
		}
		if pos := strings.Index(lower, strings.ToLower(rec.Name)); pos >= 0 {
			hits = append(hits, hit{name: rec.Name, pos: pos})
		}
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.name
	}
	return names
}
