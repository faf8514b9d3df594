package retrieval

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dialogkit/dialogkit/kvstore"
	"github.com/dialogkit/dialogkit/logging"
)

// stubSource is a canned Source for coordinator tests.
type stubSource struct {
	tag        string
	normalized bool
	docs       []Document
	err        error
	delay      time.Duration
	calls      int32
}

func (s *stubSource) Tag() string      { return s.tag }
func (s *stubSource) Normalized() bool { return s.normalized }

func (s *stubSource) Search(ctx context.Context, _ string, _ []string, limit int) ([]Document, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	docs := s.docs
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func quietLogger() *logging.Logger {
	log := logging.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRetrieveDegradesOnSourceFailure(t *testing.T) {
	semantic := &stubSource{
		tag:        TagSemantic,
		normalized: true,
		docs: []Document{
			{ID: "a", Content: "alpha", RawScore: 0.9},
			{ID: "b", Content: "beta", RawScore: 0.6},
			{ID: "c", Content: "gamma", RawScore: 0.4},
		},
	}
	keyword := &stubSource{tag: TagKeyword, err: errors.New("index unreachable")}

	c := NewCoordinator([]Source{semantic, keyword}, nil, DefaultCoordinatorConfig(), quietLogger())

	docs, err := c.Retrieve(context.Background(), Query{Text: "plans", BotType: "sales"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	for i := 1; i < len(docs); i++ {
		if docs[i].CombinedScore > docs[i-1].CombinedScore {
			t.Errorf("results not ordered by descending score")
		}
	}
	// The surviving source's weight renormalizes to 1.
	for i, raw := range []float64{0.9, 0.6, 0.4} {
		if diff := docs[i].CombinedScore - raw; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("position %d: combined score %v, want %v", i, docs[i].CombinedScore, raw)
		}
	}
}

func TestRetrieveDegradesOnSourceTimeout(t *testing.T) {
	fast := &stubSource{
		tag:        TagSemantic,
		normalized: true,
		docs:       []Document{{ID: "a", Content: "alpha", RawScore: 0.8}},
	}
	slow := &stubSource{tag: TagKeyword, delay: 200 * time.Millisecond}

	cfg := DefaultCoordinatorConfig()
	cfg.SourceTimeout = 20 * time.Millisecond
	c := NewCoordinator([]Source{fast, slow}, nil, cfg, quietLogger())

	docs, err := c.Retrieve(context.Background(), Query{Text: "plans", BotType: "sales"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "alpha" {
		t.Fatalf("expected the fast source's document, got %v", docs)
	}
}

func TestRetrieveStrategySelectsSources(t *testing.T) {
	semantic := &stubSource{tag: TagSemantic, normalized: true, docs: []Document{{ID: "s", Content: "sem", RawScore: 0.9}}}
	keyword := &stubSource{tag: TagKeyword, docs: []Document{{ID: "k", Content: "kw", RawScore: 2.0}}}

	c := NewCoordinator([]Source{semantic, keyword}, nil, DefaultCoordinatorConfig(), quietLogger())

	docs, err := c.Retrieve(context.Background(), Query{Text: "plans", Strategy: StrategySemantic})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].SourceTag != TagSemantic {
		t.Fatalf("semantic strategy should only use the semantic source, got %v", docs)
	}
	if atomic.LoadInt32(&keyword.calls) != 0 {
		t.Errorf("keyword source searched under semantic strategy")
	}

	docs, err = c.Retrieve(context.Background(), Query{Text: "refunds", Strategy: StrategyKeyword})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].SourceTag != TagKeyword {
		t.Fatalf("keyword strategy should only use the keyword source, got %v", docs)
	}
}

func TestRetrieveTopKBoundsResults(t *testing.T) {
	semantic := &stubSource{
		tag:        TagSemantic,
		normalized: true,
		docs: []Document{
			{ID: "a", Content: "one", RawScore: 0.9},
			{ID: "b", Content: "two", RawScore: 0.8},
			{ID: "c", Content: "three", RawScore: 0.7},
			{ID: "d", Content: "four", RawScore: 0.6},
		},
	}

	c := NewCoordinator([]Source{semantic}, nil, DefaultCoordinatorConfig(), quietLogger())

	docs, err := c.Retrieve(context.Background(), Query{Text: "plans", TopK: 2})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Content != "one" || docs[1].Content != "two" {
		t.Errorf("top-k should keep the best-scored documents, got %v", docs)
	}
}

func TestRetrieveServesFromCache(t *testing.T) {
	semantic := &stubSource{
		tag:        TagSemantic,
		normalized: true,
		docs:       []Document{{ID: "a", Content: "alpha", RawScore: 0.9}},
	}

	cache := kvstore.NewMemoryStore()
	c := NewCoordinator([]Source{semantic}, cache, DefaultCoordinatorConfig(), quietLogger())

	q := Query{Text: "  Which PLANS  do you have ", BotType: "sales", Scope: []string{"b", "a"}}
	if _, err := c.Retrieve(context.Background(), q); err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}

	// Same query modulo whitespace, case and scope order.
	q2 := Query{Text: "which plans do you have", BotType: "sales", Scope: []string{"a", "b"}}
	docs, err := c.Retrieve(context.Background(), q2)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "alpha" {
		t.Fatalf("cached result mismatch: %v", docs)
	}
	if got := atomic.LoadInt32(&semantic.calls); got != 1 {
		t.Errorf("source searched %d times, want 1 (second call should hit cache)", got)
	}
}

func TestRetrieveCacheKeyIncludesBotType(t *testing.T) {
	semantic := &stubSource{
		tag:        TagSemantic,
		normalized: true,
		docs:       []Document{{ID: "a", Content: "alpha", RawScore: 0.9}},
	}

	cache := kvstore.NewMemoryStore()
	c := NewCoordinator([]Source{semantic}, cache, DefaultCoordinatorConfig(), quietLogger())

	ctx := context.Background()
	if _, err := c.Retrieve(ctx, Query{Text: "plans", BotType: "sales"}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if _, err := c.Retrieve(ctx, Query{Text: "plans", BotType: "support"}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got := atomic.LoadInt32(&semantic.calls); got != 2 {
		t.Errorf("source searched %d times, want 2 (different bot types must not share cache)", got)
	}
}

func TestRetrieveEmptyQueryText(t *testing.T) {
	c := NewCoordinator(nil, nil, DefaultCoordinatorConfig(), quietLogger())
	if _, err := c.Retrieve(context.Background(), Query{Text: "   "}); err == nil {
		t.Fatal("expected an error for empty query text")
	}
}

func TestRetrieveAllSourcesFailedReturnsEmpty(t *testing.T) {
	broken := &stubSource{tag: TagSemantic, err: errors.New("down")}
	c := NewCoordinator([]Source{broken}, nil, DefaultCoordinatorConfig(), quietLogger())

	docs, err := c.Retrieve(context.Background(), Query{Text: "plans"})
	if err != nil {
		t.Fatalf("total source failure should degrade, not error: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("got %d documents, want 0", len(docs))
	}
}

func TestRetrieveCanceledContext(t *testing.T) {
	slow := &stubSource{tag: TagSemantic, delay: time.Second}
	c := NewCoordinator([]Source{slow}, nil, DefaultCoordinatorConfig(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := c.Retrieve(ctx, Query{Text: "plans"}); err == nil {
		t.Fatal("expected an error after cancellation")
	}
}

func TestRetrieveCachedListNotTruncatedByEarlierTopK(t *testing.T) {
	semantic := &stubSource{
		tag:        TagSemantic,
		normalized: true,
		docs: []Document{
			{ID: "a", Content: "alpha", RawScore: 0.9},
			{ID: "b", Content: "beta", RawScore: 0.7},
		},
	}
	profile := &stubSource{
		tag:        TagProfile,
		normalized: true,
		docs: []Document{
			{ID: "c", Content: "gamma", RawScore: 0.6},
			{ID: "d", Content: "delta", RawScore: 0.4},
		},
	}

	cache := kvstore.NewMemoryStore()
	c := NewCoordinator([]Source{semantic, profile}, cache, DefaultCoordinatorConfig(), quietLogger())
	ctx := context.Background()

	docs, err := c.Retrieve(ctx, Query{Text: "plans", BotType: "sales", TopK: 2})
	if err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	// Same query with a larger bound must see the full fused list, not
	// the first call's truncation.
	docs, err = c.Retrieve(ctx, Query{Text: "plans", BotType: "sales", TopK: 4})
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if len(docs) != 4 {
		t.Fatalf("got %d documents, want all 4 fused documents", len(docs))
	}
	if got := atomic.LoadInt32(&semantic.calls); got != 1 {
		t.Errorf("semantic searched %d times, want 1 (second call should hit cache)", got)
	}
}
