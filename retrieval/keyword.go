package retrieval

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
)

// keywordDoc is the shape indexed into bleve.
type keywordDoc struct {
	Content    string `json:"content"`
	Collection string `json:"collection"`
}

// KeywordSource retrieves documents by BM25 lexical ranking over a
// bleve index. Scope entries name collections.
type KeywordSource struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewKeywordSource opens or creates a bleve index at path. An empty
// path builds a memory-only index.
func NewKeywordSource(path string) (*KeywordSource, error) {
	var (
		index bleve.Index
		err   error
	)

	switch {
	case path == "":
		index, err = bleve.NewMemOnly(keywordIndexMapping())
	default:
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			index, err = bleve.New(path, keywordIndexMapping())
		} else {
			index, err = bleve.Open(path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	return &KeywordSource{index: index}, nil
}

func keywordIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textField)

	collectionField := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("collection", collectionField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

func (s *KeywordSource) Tag() string { return TagKeyword }

// Normalized reports false: BM25 scores have no shared upper bound,
// so fused queries fall back to rank-based fusion.
func (s *KeywordSource) Normalized() bool { return false }

// Index adds a document to the given collection and returns its ID.
func (s *KeywordSource) Index(collection, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if collection == "" {
		collection = DefaultCollection
	}
	id := uuid.New().String()
	doc := keywordDoc{Content: content, Collection: collection}
	if err := s.index.Index(id, doc); err != nil {
		return "", fmt.Errorf("index document: %w", err)
	}
	return id, nil
}

// Search runs a match query over content, filtered to the scoped
// collections when scope is non-empty.
func (s *KeywordSource) Search(_ context.Context, text string, scope []string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultTopK
	}

	contentQuery := bleve.NewMatchQuery(text)
	contentQuery.SetField("content")

	var searchQuery query.Query = contentQuery
	if len(scope) > 0 {
		var collections []query.Query
		for _, name := range scope {
			tq := bleve.NewTermQuery(name)
			tq.SetField("collection")
			collections = append(collections, tq)
		}
		boolQuery := bleve.NewBooleanQuery()
		boolQuery.AddMust(contentQuery)
		boolQuery.AddMust(bleve.NewDisjunctionQuery(collections...))
		searchQuery = boolQuery
	}

	searchReq := bleve.NewSearchRequest(searchQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"content", "collection"}

	result, err := s.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	var docs []Document
	for _, hit := range result.Hits {
		content, _ := hit.Fields["content"].(string)
		collection, _ := hit.Fields["collection"].(string)

		// BM25 scores are unbounded; 1-1/(1+s) squashes every score
		// into 0..1 monotonically, so list order is preserved.
		score := 1 - (1 / (1 + hit.Score))

		docs = append(docs, Document{
			ID:       hit.ID,
			Content:  content,
			Metadata: map[string]string{"collection": collection},
			RawScore: score,
		})
	}
	return docs, nil
}

// Close releases the underlying index.
func (s *KeywordSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}
