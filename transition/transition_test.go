package transition

import (
	"testing"

	"github.com/dialogkit/dialogkit/condition"
	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/session"
)

func salesRules() *RuleSet {
	rs := NewRuleSet()
	rs.Add("sales", Rule{
		SourceState: "greeting",
		TargetState: "product_interest",
		Conditions: []Condition{
			{Type: "intent_match", Params: map[string]interface{}{
				"intent": "purchase_intent", "min_confidence": 0.7,
			}},
		},
	})
	rs.Add("sales", Rule{
		SourceState: "greeting",
		TargetState: "support_handoff",
		Conditions: []Condition{
			{Type: "keyword_match", Params: map[string]interface{}{
				"keywords": []interface{}{"broken", "refund"},
			}},
		},
	})
	return rs
}

func newTestEngine(rs *RuleSet) *Engine {
	return NewEngine(rs, condition.NewRegistry(nil), nil)
}

func TestEvaluate_IntentDrivenTransition(t *testing.T) {
	e := newTestEngine(salesRules())

	ctx := session.NewContext("sess-1", "user-1", "sales", "greeting")
	ctx.DetectedIntent = &session.Intent{Name: "purchase_intent", Confidence: 0.82}
	msg := session.Message{Text: "I'd like to buy the pro plan", Role: session.RoleUser}

	next, ok := e.Evaluate("sales", "greeting", msg, ctx)
	if !ok || next != "product_interest" {
		t.Fatalf("Evaluate = (%q, %v), want (product_interest, true)", next, ok)
	}
}

func TestEvaluate_ConfidenceTooLow(t *testing.T) {
	e := newTestEngine(salesRules())

	ctx := session.NewContext("sess-1", "user-1", "sales", "greeting")
	ctx.DetectedIntent = &session.Intent{Name: "purchase_intent", Confidence: 0.6}
	msg := session.Message{Text: "maybe I'll buy something", Role: session.RoleUser}

	if next, ok := e.Evaluate("sales", "greeting", msg, ctx); ok {
		t.Fatalf("expected no transition, got %q", next)
	}
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	rs := NewRuleSet()
	// Both rules match; declaration order decides.
	rs.Add("sales", Rule{
		SourceState: "greeting",
		TargetState: "first",
		Conditions: []Condition{
			{Type: "keyword_match", Params: map[string]interface{}{"keywords": []interface{}{"hello"}}},
		},
	})
	rs.Add("sales", Rule{
		SourceState: "greeting",
		TargetState: "second",
		Conditions: []Condition{
			{Type: "keyword_match", Params: map[string]interface{}{"keywords": []interface{}{"hello"}}},
		},
	})
	e := newTestEngine(rs)

	ctx := session.NewContext("sess-1", "user-1", "sales", "greeting")
	msg := session.Message{Text: "hello there", Role: session.RoleUser}

	next, ok := e.Evaluate("sales", "greeting", msg, ctx)
	if !ok || next != "first" {
		t.Fatalf("Evaluate = (%q, %v), want first declared rule to win", next, ok)
	}
}

func TestEvaluate_AllConditionsMustHold(t *testing.T) {
	rs := NewRuleSet()
	rs.Add("sales", Rule{
		SourceState: "product_interest",
		TargetState: "negotiation",
		Conditions: []Condition{
			{Type: "entity_present", Params: map[string]interface{}{"name": "product"}},
			{Type: "entity_present", Params: map[string]interface{}{"name": "budget"}},
		},
	})
	e := newTestEngine(rs)

	ctx := session.NewContext("sess-1", "user-1", "sales", "product_interest")
	ctx.SetEntity("product", session.EntityValue{Value: "pro plan"})
	msg := session.Message{Role: session.RoleUser}

	if next, ok := e.Evaluate("sales", "product_interest", msg, ctx); ok {
		t.Fatalf("one failing condition must fail the rule, got %q", next)
	}

	ctx.SetEntity("budget", session.EntityValue{Value: 500})
	next, ok := e.Evaluate("sales", "product_interest", msg, ctx)
	if !ok || next != "negotiation" {
		t.Fatalf("Evaluate = (%q, %v), want (negotiation, true)", next, ok)
	}
}

func TestEvaluate_EmptyConditionsNeverMatch(t *testing.T) {
	rs := NewRuleSet()
	rs.Add("sales", Rule{SourceState: "greeting", TargetState: "anywhere"})
	rs.Add("sales", Rule{
		SourceState: "greeting",
		TargetState: "guarded",
		Conditions: []Condition{
			{Type: "keyword_match", Params: map[string]interface{}{"keywords": []interface{}{"hi"}}},
		},
	})
	e := newTestEngine(rs)

	ctx := session.NewContext("sess-1", "user-1", "sales", "greeting")
	msg := session.Message{Text: "hi", Role: session.RoleUser}

	// The unguarded rule is skipped; the guarded one still fires.
	next, ok := e.Evaluate("sales", "greeting", msg, ctx)
	if !ok || next != "guarded" {
		t.Fatalf("Evaluate = (%q, %v), want unguarded rule skipped", next, ok)
	}
}

func TestEvaluate_NoRulesForState(t *testing.T) {
	e := newTestEngine(salesRules())
	ctx := session.NewContext("sess-1", "user-1", "sales", "completed")
	msg := session.Message{Text: "thanks", Role: session.RoleUser}

	if next, ok := e.Evaluate("sales", "completed", msg, ctx); ok {
		t.Fatalf("state with no outgoing rules must stay, got %q", next)
	}
}

func TestEvaluate_BotTypesIsolated(t *testing.T) {
	e := newTestEngine(salesRules())
	ctx := session.NewContext("sess-1", "user-1", "support", "greeting")
	ctx.DetectedIntent = &session.Intent{Name: "purchase_intent", Confidence: 0.9}
	msg := session.Message{Text: "buy", Role: session.RoleUser}

	if next, ok := e.Evaluate("support", "greeting", msg, ctx); ok {
		t.Fatalf("rules for another bot type must not apply, got %q", next)
	}
}

func TestRuleSet_Validate(t *testing.T) {
	reg := condition.NewRegistry(nil)

	rs := salesRules()
	if err := rs.Validate(reg); err != nil {
		t.Errorf("valid rules should pass: %v", err)
	}

	empty := NewRuleSet()
	empty.Add("sales", Rule{SourceState: "a", TargetState: "b"})
	if err := empty.Validate(reg); !errors.Is(err, errors.ErrCodeConfigInvalid) {
		t.Errorf("empty conditions should be rejected, got %v", err)
	}

	unknown := NewRuleSet()
	unknown.Add("sales", Rule{
		SourceState: "a", TargetState: "b",
		Conditions: []Condition{{Type: "no_such_type"}},
	})
	if err := unknown.Validate(reg); !errors.Is(err, errors.ErrCodeConfigInvalid) {
		t.Errorf("unknown condition type should be rejected, got %v", err)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := newTestEngine(salesRules())
	ctx := session.NewContext("sess-1", "user-1", "sales", "greeting")
	ctx.DetectedIntent = &session.Intent{Name: "purchase_intent", Confidence: 0.75}
	msg := session.Message{Text: "buy", Role: session.RoleUser}

	first, _ := e.Evaluate("sales", "greeting", msg, ctx)
	for i := 0; i < 10; i++ {
		next, _ := e.Evaluate("sales", "greeting", msg, ctx)
		if next != first {
			t.Fatalf("same inputs produced %q then %q", first, next)
		}
	}
}
