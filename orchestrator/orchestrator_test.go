package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dialogkit/dialogkit/condition"
	"github.com/dialogkit/dialogkit/config"
	"github.com/dialogkit/dialogkit/entitymem"
	dkerrors "github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/kvstore"
	"github.com/dialogkit/dialogkit/logging"
	"github.com/dialogkit/dialogkit/retrieval"
	"github.com/dialogkit/dialogkit/session"
	"github.com/dialogkit/dialogkit/topic"
	"github.com/dialogkit/dialogkit/transition"
)

const salesBot = `
name = "sales"
entry_state = "greeting"
states = ["greeting", "product_interest", "support_handoff"]
intents = ["purchase_intent", "support_request"]

[[rules]]
source_state = "greeting"
target_state = "product_interest"

  [[rules.conditions]]
  type = "intent_match"
    [rules.conditions.params]
    intent = "purchase_intent"
    min_confidence = 0.7

[[rules]]
source_state = "greeting"
target_state = "support_handoff"

  [[rules.conditions]]
  type = "keyword_match"
    [rules.conditions.params]
    keywords = ["broken", "refund"]

[[topics]]
id = "plans"
description = "plan tiers and pricing"
keywords = ["plan", "pricing", "upgrade"]
`

type fakeIntentDetector struct {
	intent *session.Intent
	err    error
}

func (f *fakeIntentDetector) DetectIntent(context.Context, string, []string) (*session.Intent, error) {
	return f.intent, f.err
}

type fakeEntityExtractor struct {
	observations []entitymem.Observation
	err          error
}

func (f *fakeEntityExtractor) ExtractEntities(context.Context, string) ([]entitymem.Observation, error) {
	return f.observations, f.err
}

type stubSource struct {
	docs []retrieval.Document
	err  error
}

func (s *stubSource) Tag() string      { return retrieval.TagSemantic }
func (s *stubSource) Normalized() bool { return true }

func (s *stubSource) Search(_ context.Context, _ string, _ []string, limit int) ([]retrieval.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	docs := s.docs
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// failingStore breaks reads and writes while satisfying the rest of
// the kvstore interface.
type failingStore struct{ kvstore.Store }

func (failingStore) Get(string) ([]byte, error)              { return nil, errors.New("backend down") }
func (failingStore) Put(string, []byte, time.Duration) error { return errors.New("backend down") }
func (failingStore) Delete(string) error                     { return errors.New("backend down") }

func quietLogger() *logging.Logger {
	log := logging.New()
	log.SetOutput(io.Discard)
	return log
}

func loadTestBots(t *testing.T) *config.Bots {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sales.toml"), []byte(salesBot), 0644); err != nil {
		t.Fatal(err)
	}
	bots, err := config.LoadBots(dir, condition.NewRegistry(quietLogger()))
	if err != nil {
		t.Fatalf("LoadBots: %v", err)
	}
	return bots
}

type fixture struct {
	orch     *Orchestrator
	store    *session.Store
	memory   *entitymem.Memory
	detector *fakeIntentDetector
	source   *stubSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := quietLogger()
	bots := loadTestBots(t)

	reg := condition.NewRegistry(log)
	engine := transition.NewEngine(bots.RuleSet(), reg, log)

	backend := kvstore.NewMemoryStore()
	store := session.NewStore(backend, session.DefaultStoreConfig(), log)
	memory := entitymem.New(backend, nil, log)

	detector := &fakeIntentDetector{}
	source := &stubSource{docs: []retrieval.Document{
		{ID: "d1", Content: "the pro plan includes priority support", RawScore: 0.9},
		{ID: "d2", Content: "plans can be upgraded at any time", RawScore: 0.6},
		{ID: "d3", Content: "annual billing saves two months", RawScore: 0.4},
	}}

	orch, err := New(Deps{
		Store:    store,
		Bots:     bots,
		Engine:   engine,
		Memory:   memory,
		Intents:  detector,
		Entities: &fakeEntityExtractor{},
		Mapper:   topic.NewMapper(bots.Topics(), nil, nil, topic.StrategyKeyword, log),
		Sources:  []retrieval.Source{source},
		Log:      log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{orch: orch, store: store, memory: memory, detector: detector, source: source}
}

func TestProcessTurnTransitionsOnIntent(t *testing.T) {
	f := newFixture(t)
	f.detector.intent = &session.Intent{Name: "purchase_intent", Confidence: 0.85}

	res, err := f.orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "I want to upgrade my plan")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if res.NextState != "product_interest" || !res.Transitioned {
		t.Errorf("next state = %q (transitioned %v), want product_interest", res.NextState, res.Transitioned)
	}
	if len(res.Documents) != 3 {
		t.Errorf("got %d documents, want 3", len(res.Documents))
	}
	for i := 1; i < len(res.Documents); i++ {
		if res.Documents[i].CombinedScore > res.Documents[i-1].CombinedScore {
			t.Errorf("documents not ordered by descending score")
		}
	}
	if len(res.Topics) != 1 || res.Topics[0] != "plans" {
		t.Errorf("topics = %v, want [plans]", res.Topics)
	}

	if res.Context.CurrentState != "product_interest" {
		t.Errorf("snapshot state = %q", res.Context.CurrentState)
	}
	if len(res.Context.Messages) != 1 || res.Context.Messages[0].Text != "I want to upgrade my plan" {
		t.Errorf("message not appended: %v", res.Context.Messages)
	}
	if res.Context.DetectedIntent == nil || res.Context.DetectedIntent.Name != "purchase_intent" {
		t.Errorf("intent not recorded on context")
	}
}

func TestProcessTurnLowConfidenceStays(t *testing.T) {
	f := newFixture(t)
	f.detector.intent = &session.Intent{Name: "purchase_intent", Confidence: 0.5}

	res, err := f.orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "maybe later")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.NextState != "greeting" || res.Transitioned {
		t.Errorf("next state = %q (transitioned %v), want greeting without transition", res.NextState, res.Transitioned)
	}
}

func TestProcessTurnKeywordRule(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "my device arrived broken")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.NextState != "support_handoff" {
		t.Errorf("next state = %q, want support_handoff", res.NextState)
	}
}

func TestProcessTurnDegradesOnExtractionFailure(t *testing.T) {
	f := newFixture(t)
	f.detector.err = errors.New("capability down")

	res, err := f.orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "hello")
	if err != nil {
		t.Fatalf("extraction failure must not fail the turn: %v", err)
	}
	if res.NextState != "greeting" {
		t.Errorf("next state = %q, want greeting", res.NextState)
	}
	if res.Intent != nil {
		t.Errorf("intent should be nil after a failed detection")
	}
}

func TestProcessTurnDegradesOnRetrievalFailure(t *testing.T) {
	f := newFixture(t)
	f.detector.intent = &session.Intent{Name: "purchase_intent", Confidence: 0.9}
	f.source.err = errors.New("index down")

	res, err := f.orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "upgrade me")
	if err != nil {
		t.Fatalf("retrieval failure must not fail the turn: %v", err)
	}
	if len(res.Documents) != 0 {
		t.Errorf("got %d documents from a dead source", len(res.Documents))
	}
	if res.NextState != "product_interest" {
		t.Errorf("next state = %q, want product_interest despite retrieval failure", res.NextState)
	}
}

func TestProcessTurnStoreFailureIsFatal(t *testing.T) {
	log := quietLogger()
	bots := loadTestBots(t)
	reg := condition.NewRegistry(log)

	store := session.NewStore(failingStore{Store: kvstore.NewMemoryStore()}, session.DefaultStoreConfig(), log)
	orch, err := New(Deps{
		Store:  store,
		Bots:   bots,
		Engine: transition.NewEngine(bots.RuleSet(), reg, log),
		Log:    log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "hello")
	if err == nil {
		t.Fatal("expected a store failure to fail the turn")
	}
	if !dkerrors.Is(err, dkerrors.ErrCodeStoreFailure) {
		t.Errorf("error code = %v, want STORE_FAILURE", err)
	}
}

func TestProcessTurnRecordsEntities(t *testing.T) {
	f := newFixture(t)
	extractor := &fakeEntityExtractor{observations: []entitymem.Observation{
		{Name: "pro plan", Type: "product", ContextSnippet: "asking about the pro plan", Sentiment: 0.4, Importance: 0.8},
	}}
	f.orch.deps.Entities = extractor

	res, err := f.orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "how much is the pro plan")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if _, ok := res.Context.Entities["pro plan"]; !ok {
		t.Errorf("entity missing from session context: %v", res.Context.Entities)
	}

	found := false
	for _, rec := range res.Entities {
		if rec.Name == "pro plan" {
			found = true
			if rec.MentionCount != 1 {
				t.Errorf("mention count = %d, want 1", rec.MentionCount)
			}
		}
	}
	if !found {
		t.Errorf("pro plan not in relevant entities: %v", res.Entities)
	}
}

func TestProcessTurnSecondTurnSeesFirst(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "hello"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	res, err := f.orch.ProcessTurn(context.Background(), "s1", "u1", "sales", "still here")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(res.Context.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(res.Context.Messages))
	}
}

func TestProcessTurnCanceledContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.orch.ProcessTurn(ctx, "s1", "u1", "sales", "hello"); err == nil {
		t.Fatal("expected an error for a canceled turn")
	}
}

func TestNewRequiresCoreDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected an error without a store")
	}
}
