// Package topic narrows free-text queries to a bounded set of topic
// ids before retrieval.
package topic

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/dialogkit/dialogkit/embedding"
	"github.com/dialogkit/dialogkit/logging"
)

// Strategy picks how queries map to topics.
type Strategy string

const (
	// StrategyClassifier maps via the external classification
	// capability only.
	StrategyClassifier Strategy = "classifier"

	// StrategySemantic maps by embedding similarity between the
	// query and topic descriptions.
	StrategySemantic Strategy = "semantic"

	// StrategyKeyword maps by keyword overlap against per-topic
	// keyword lists.
	StrategyKeyword Strategy = "keyword"

	// StrategyHybrid cascades classifier, then semantic, then
	// keyword, taking the first strategy that yields topics. This is
	// the default.
	StrategyHybrid Strategy = "hybrid"
)

// minSimilarity is the cutoff below which a topic description is not
// considered related to the query.
const minSimilarity = 0.3

// Topic is one subject a bot knows about. BotType scopes the topic to
// one bot; empty means shared across bots.
type Topic struct {
	ID          string   `json:"id" toml:"id"`
	BotType     string   `json:"bot_type,omitempty" toml:"bot_type"`
	Description string   `json:"description" toml:"description"`
	Keywords    []string `json:"keywords,omitempty" toml:"keywords"`
}

// Classifier is an external capability that assigns topics to text.
type Classifier interface {
	ClassifyTopics(ctx context.Context, text string, candidates []Topic, limit int) ([]string, error)
}

// Mapper maps query text to topic ids. Each strategy is exported on
// its own so callers can invoke one directly; Map applies the
// configured strategy.
type Mapper struct {
	topics     []Topic
	classifier Classifier
	embedder   embedding.Provider
	strategy   Strategy
	log        *logging.Logger
}

// NewMapper builds a mapper over the given topics. classifier and
// embedder may be nil; the hybrid cascade skips strategies whose
// capability is missing.
func NewMapper(topics []Topic, classifier Classifier, embedder embedding.Provider, strategy Strategy, log *logging.Logger) *Mapper {
	if strategy == "" {
		strategy = StrategyHybrid
	}
	if log == nil {
		log = logging.New()
	}
	return &Mapper{
		topics:     topics,
		classifier: classifier,
		embedder:   embedder,
		strategy:   strategy,
		log:        log.WithComponent("topic"),
	}
}

// Map returns up to limit topic ids for the query, scoped to the
// given bot type. An empty result means the query fits no known
// topic; retrieval then runs unscoped.
func (m *Mapper) Map(ctx context.Context, queryText, botType string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	candidates := m.candidatesFor(botType)
	if len(candidates) == 0 {
		return nil, nil
	}

	switch m.strategy {
	case StrategyClassifier:
		return m.Classify(ctx, queryText, candidates, limit)
	case StrategySemantic:
		return m.MapSemantic(ctx, queryText, candidates, limit)
	case StrategyKeyword:
		return m.MapKeyword(queryText, candidates, limit), nil
	default:
		return m.mapHybrid(ctx, queryText, candidates, limit)
	}
}

// mapHybrid cascades: classifier first, semantic similarity if the
// classifier yields nothing, keyword overlap as the last resort. A
// strategy error degrades to the next strategy rather than failing
// the mapping.
func (m *Mapper) mapHybrid(ctx context.Context, queryText string, candidates []Topic, limit int) ([]string, error) {
	if m.classifier != nil {
		ids, err := m.Classify(ctx, queryText, candidates, limit)
		if err != nil {
			m.log.Warn("topic classification failed", map[string]interface{}{"error": err.Error()})
		} else if len(ids) > 0 {
			return ids, nil
		}
	}

	if m.embedder != nil {
		ids, err := m.MapSemantic(ctx, queryText, candidates, limit)
		if err != nil {
			m.log.Warn("semantic topic mapping failed", map[string]interface{}{"error": err.Error()})
		} else if len(ids) > 0 {
			return ids, nil
		}
	}

	return m.MapKeyword(queryText, candidates, limit), nil
}

// Classify maps via the classification capability.
func (m *Mapper) Classify(ctx context.Context, queryText string, candidates []Topic, limit int) ([]string, error) {
	if m.classifier == nil {
		return nil, nil
	}
	ids, err := m.classifier.ClassifyTopics(ctx, queryText, candidates, limit)
	if err != nil {
		return nil, err
	}
	return m.known(ids, candidates, limit), nil
}

// MapSemantic ranks topics by cosine similarity between the query and
// each topic description, keeping those above the similarity cutoff.
func (m *Mapper) MapSemantic(ctx context.Context, queryText string, candidates []Topic, limit int) ([]string, error) {
	if m.embedder == nil {
		return nil, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, queryText)
	for _, t := range candidates {
		texts = append(texts, t.Description)
	}

	vecs, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, nil
	}

	type scored struct {
		id  string
		sim float32
	}
	var matches []scored
	for i, t := range candidates {
		sim := embedding.CosineSimilarity(vecs[0], vecs[i+1])
		if sim >= minSimilarity {
			matches = append(matches, scored{id: t.ID, sim: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].sim > matches[j].sim })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	ids := make([]string, len(matches))
	for i, s := range matches {
		ids[i] = s.id
	}
	return ids, nil
}

// MapKeyword ranks topics by how many of their keywords appear in the
// query. Topics with no overlap are dropped.
func (m *Mapper) MapKeyword(queryText string, candidates []Topic, limit int) []string {
	words := tokenize(queryText)
	if len(words) == 0 {
		return nil
	}

	type scored struct {
		id      string
		overlap int
	}
	var matches []scored
	for _, t := range candidates {
		overlap := 0
		for _, kw := range t.Keywords {
			if words[strings.ToLower(kw)] {
				overlap++
			}
		}
		if overlap > 0 {
			matches = append(matches, scored{id: t.ID, overlap: overlap})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].overlap > matches[j].overlap })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	ids := make([]string, len(matches))
	for i, s := range matches {
		ids[i] = s.id
	}
	return ids
}

// Topics returns the topics visible to a bot type.
func (m *Mapper) Topics(botType string) []Topic {
	return m.candidatesFor(botType)
}

func (m *Mapper) candidatesFor(botType string) []Topic {
	var out []Topic
	for _, t := range m.topics {
		if t.BotType == "" || t.BotType == botType {
			out = append(out, t)
		}
	}
	return out
}

// known filters classifier output down to candidate topic ids,
// preserving the classifier's order.
func (m *Mapper) known(ids []string, candidates []Topic, limit int) []string {
	valid := make(map[string]bool, len(candidates))
	for _, t := range candidates {
		valid[t.ID] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		if !valid[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out
}

func tokenize(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
