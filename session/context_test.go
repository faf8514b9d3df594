package session

import (
	"testing"
	"time"
)

func TestContext_Transition(t *testing.T) {
	c := NewContext("s1", "u1", "sales", "greeting")
	before := c.StateEntryTime

	time.Sleep(5 * time.Millisecond)
	c.Transition("product_interest")

	if c.CurrentState != "product_interest" {
		t.Errorf("CurrentState = %q", c.CurrentState)
	}
	if c.PreviousState != "greeting" {
		t.Errorf("PreviousState = %q", c.PreviousState)
	}
	if !c.StateEntryTime.After(before) {
		t.Error("StateEntryTime should be refreshed on transition")
	}

	// Transitioning to the same state must not touch entry time
	entry := c.StateEntryTime
	c.Transition("product_interest")
	if !c.StateEntryTime.Equal(entry) {
		t.Error("self-transition should not refresh StateEntryTime")
	}
}

func TestContext_Compact(t *testing.T) {
	c := NewContext("s1", "u1", "sales", "greeting")
	base := time.Now()
	for i := 0; i < 10; i++ {
		c.Append(Message{Text: "m", Role: RoleUser, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	removed := c.compact(6)
	if removed != 4 {
		t.Fatalf("removed = %d, want 4", removed)
	}
	if len(c.Messages) != 6 {
		t.Errorf("live messages = %d, want 6", len(c.Messages))
	}
	if c.Summary == nil || c.Summary.Count != 4 {
		t.Fatalf("summary = %+v, want count 4", c.Summary)
	}
	if !c.Summary.From.Equal(base) {
		t.Errorf("summary From = %v, want %v", c.Summary.From, base)
	}

	// A second fold only widens the range and grows the count
	for i := 10; i < 14; i++ {
		c.Append(Message{Text: "m", Role: RoleUser, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	c.compact(6)
	if c.Summary.Count != 8 {
		t.Errorf("summary count = %d, want 8", c.Summary.Count)
	}
	if !c.Summary.From.Equal(base) {
		t.Error("summary From should never move forward")
	}

	// Under the limit nothing happens
	if got := c.compact(100); got != 0 {
		t.Errorf("compact below limit removed %d", got)
	}
}

func TestContext_UserMessagesSince(t *testing.T) {
	c := NewContext("s1", "u1", "sales", "greeting")
	base := time.Now()
	c.Append(Message{Text: "old", Role: RoleUser, Timestamp: base.Add(-time.Hour)})
	c.Append(Message{Text: "hi", Role: RoleUser, Timestamp: base})
	c.Append(Message{Text: "reply", Role: RoleAssistant, Timestamp: base})
	c.Append(Message{Text: "more", Role: RoleUser, Timestamp: base.Add(time.Second)})

	if got := c.UserMessagesSince(base); got != 2 {
		t.Errorf("UserMessagesSince = %d, want 2", got)
	}
}

func TestContext_Lookup(t *testing.T) {
	c := NewContext("s1", "u1", "sales", "greeting")
	c.DetectedIntent = &Intent{Name: "purchase_intent", Confidence: 0.85}
	c.Metadata["plan"] = map[string]interface{}{"tier": "enterprise"}
	c.SetEntity("budget", EntityValue{Value: 5000.0, Confidence: 0.9, Source: "extraction"})

	tests := []struct {
		path   string
		want   interface{}
		wantOK bool
	}{
		{"current_state", "greeting", true},
		{"bot_type", "sales", true},
		{"detected_intent.name", "purchase_intent", true},
		{"detected_intent.confidence", 0.85, true},
		{"metadata.plan.tier", "enterprise", true},
		{"entities.budget.value", 5000.0, true},
		{"entities.budget.confidence", 0.9, true},
		{"entities.missing", nil, false},
		{"metadata.absent", nil, false},
		{"detected_intent.nope", nil, false},
		{"unknown_root", nil, false},
		{"current_state.too.deep", nil, false},
	}

	for _, tt := range tests {
		got, ok := c.Lookup(tt.path)
		if ok != tt.wantOK {
			t.Errorf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			continue
		}
		if tt.wantOK && got != tt.want {
			t.Errorf("Lookup(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestContext_CloneIsDeep(t *testing.T) {
	c := NewContext("s1", "u1", "sales", "greeting")
	c.Append(Message{Text: "hello", Role: RoleUser})
	c.SetEntity("budget", EntityValue{Value: 100})
	c.DetectedIntent = &Intent{Name: "greet", Confidence: 0.9}

	cp := c.Clone()
	cp.Messages[0].Text = "mutated"
	cp.Entities["budget"] = EntityValue{Value: 999}
	cp.DetectedIntent.Name = "mutated"
	cp.Metadata["k"] = "v"

	if c.Messages[0].Text != "hello" {
		t.Error("clone shares message slice")
	}
	if c.Entities["budget"].Value != 100 {
		t.Error("clone shares entity map")
	}
	if c.DetectedIntent.Name != "greet" {
		t.Error("clone shares intent pointer")
	}
	if _, ok := c.Metadata["k"]; ok {
		t.Error("clone shares metadata map")
	}
}
