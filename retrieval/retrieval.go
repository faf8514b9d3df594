// Package retrieval coordinates hybrid document retrieval across
// semantic, keyword, structured and personalization sources.
package retrieval

import (
	"context"
	"hash/fnv"
)

// Strategy selects which sources participate in a query.
type Strategy string

const (
	// StrategySemantic queries only the semantic (vector) source.
	StrategySemantic Strategy = "semantic"

	// StrategyKeyword queries only the keyword (lexical) source.
	StrategyKeyword Strategy = "keyword"

	// StrategyHybrid fans out to every registered source and fuses
	// the results. This is the default.
	StrategyHybrid Strategy = "hybrid"
)

// Source tags identify where a document came from. They double as the
// source priority order for fusion tie-breaking.
const (
	TagSemantic   = "semantic"
	TagKeyword    = "keyword"
	TagStructured = "structured"
	TagProfile    = "profile"
)

// Query describes a single retrieval request.
type Query struct {
	// Text is the free-text query, usually the raw user message.
	Text string

	// BotType scopes caching and source selection per bot.
	BotType string

	// Scope restricts the search to named collections or topic ids.
	// Empty means all collections.
	Scope []string

	// TopK bounds the result list. Zero means the coordinator default.
	TopK int

	// Strategy is semantic, keyword or hybrid. Empty means hybrid.
	Strategy Strategy
}

// Document is a single retrieved result.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	SourceTag string            `json:"source_tag"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// RawScore is the score as reported by the originating source.
	RawScore float64 `json:"raw_score"`

	// CombinedScore is the fused score. Documents returned by
	// Coordinator.Retrieve are sorted descending by this value.
	CombinedScore float64 `json:"combined_score"`
}

// Source is a single retrieval backend. Implementations must be safe
// for concurrent use.
type Source interface {
	// Tag returns the source identity (TagSemantic, TagKeyword, ...).
	Tag() string

	// Normalized reports whether the source's raw scores are already
	// on a comparable 0..1 scale. When every surviving source is
	// normalized the coordinator fuses by weighted score, otherwise
	// it falls back to rank-based fusion.
	Normalized() bool

	// Search returns up to limit documents matching text within the
	// given scope. An empty scope means the source's full corpus.
	Search(ctx context.Context, text string, scope []string, limit int) ([]Document, error)
}

// ContentHash returns the dedup key for a document's content.
func ContentHash(content string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(content))
	return h.Sum64()
}
