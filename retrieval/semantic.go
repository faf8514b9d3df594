package retrieval

import (
	"context"
	"fmt"
	"sort"

	chromem "github.com/philippgille/chromem-go"

	"github.com/dialogkit/dialogkit/embedding"
)

// DefaultCollection receives documents indexed without an explicit
// collection name and is searched when a query has no scope.
const DefaultCollection = "knowledge"

// SemanticSource retrieves documents by embedding similarity using an
// in-process chromem-go vector store. Scope entries name collections.
type SemanticSource struct {
	db        *chromem.DB
	embedFunc chromem.EmbeddingFunc
}

// NewSemanticSource builds an in-memory semantic source backed by the
// given embedding provider.
func NewSemanticSource(provider embedding.Provider) *SemanticSource {
	return &SemanticSource{
		db:        chromem.NewDB(),
		embedFunc: toChromemFunc(provider),
	}
}

// toChromemFunc adapts a batch embedder to chromem's one-text shape.
func toChromemFunc(provider embedding.Provider) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := provider.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("embedding provider returned no vector")
		}
		return vecs[0], nil
	}
}

func (s *SemanticSource) Tag() string { return TagSemantic }

// Normalized reports true: chromem similarities are cosine scores on
// a shared 0..1 scale.
func (s *SemanticSource) Normalized() bool { return true }

// Index adds documents to a named collection, creating it on first
// use. An empty collection name targets DefaultCollection.
func (s *SemanticSource) Index(ctx context.Context, collection string, docs []Document) error {
	if collection == "" {
		collection = DefaultCollection
	}
	if len(docs) == 0 {
		return nil
	}

	col, err := s.db.GetOrCreateCollection(collection, nil, s.embedFunc)
	if err != nil {
		return fmt.Errorf("create collection %q: %w", collection, err)
	}

	chromDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromDocs[i] = chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}
	}
	return col.AddDocuments(ctx, chromDocs, 1)
}

// Search queries each scoped collection and merges the hits, keeping
// the best similarity per document.
func (s *SemanticSource) Search(ctx context.Context, text string, scope []string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultTopK
	}

	collections := scope
	if len(collections) == 0 {
		for name := range s.db.ListCollections() {
			collections = append(collections, name)
		}
	}

	var docs []Document
	for _, name := range collections {
		col := s.db.GetCollection(name, s.embedFunc)
		if col == nil {
			continue
		}

		n := limit
		count := col.Count()
		if count == 0 {
			continue
		}
		if n > count {
			n = count
		}

		results, err := col.Query(ctx, text, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query collection %q: %w", name, err)
		}

		for _, r := range results {
			docs = append(docs, Document{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: r.Metadata,
				RawScore: float64(r.Similarity),
			})
		}
	}

	// Merged lists must come back in similarity order, not collection
	// order; rank-based fusion reads ranks off this ordering.
	sort.Slice(docs, func(i, j int) bool { return docs[i].RawScore > docs[j].RawScore })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}
