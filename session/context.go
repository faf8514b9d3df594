package session

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversational message within a session.
type Message struct {
	Text      string    `json:"text"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// EntityValue is a fact attached to the session under an entity name.
type EntityValue struct {
	Value      interface{} `json:"value"`
	Confidence float64     `json:"confidence"`
	Source     string      `json:"source"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Intent is the classified intent of the latest user message.
type Intent struct {
	Name       string                 `json:"name"`
	Confidence float64                `json:"confidence"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// MessageSummary records messages folded out of the live list by the
// retention policy. Count only grows and the time range only widens.
type MessageSummary struct {
	Count int       `json:"count"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// Context is the full conversational state of one session.
type Context struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	BotType   string `json:"bot_type"`

	Messages []Message              `json:"messages"`
	Entities map[string]EntityValue `json:"entities"`

	CurrentState   string    `json:"current_state"`
	PreviousState  string    `json:"previous_state,omitempty"`
	StateEntryTime time.Time `json:"state_entry_time"`

	DetectedIntent *Intent `json:"detected_intent,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Summary *MessageSummary `json:"message_summary,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	LastUpdated  time.Time `json:"last_updated"`
}

// NewContext creates a fresh context in the given entry state.
func NewContext(sessionID, userID, botType, entryState string) *Context {
	now := time.Now()
	return &Context{
		SessionID:      sessionID,
		UserID:         userID,
		BotType:        botType,
		Entities:       make(map[string]EntityValue),
		Metadata:       make(map[string]interface{}),
		CurrentState:   entryState,
		StateEntryTime: now,
		CreatedAt:      now,
		LastAccessed:   now,
		LastUpdated:    now,
	}
}

// Append adds a message to the live list.
func (c *Context) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.Messages = append(c.Messages, msg)
}

// Transition moves the context to a new state. StateEntryTime is set
// exactly once per transition.
func (c *Context) Transition(next string) {
	if next == c.CurrentState {
		return
	}
	c.PreviousState = c.CurrentState
	c.CurrentState = next
	c.StateEntryTime = time.Now()
}

// SetEntity records an entity fact on the context.
func (c *Context) SetEntity(name string, v EntityValue) {
	if c.Entities == nil {
		c.Entities = make(map[string]EntityValue)
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	c.Entities[name] = v
}

// UserMessagesSince counts user-authored messages with a timestamp at or
// after t.
func (c *Context) UserMessagesSince(t time.Time) int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser && !m.Timestamp.Before(t) {
			n++
		}
	}
	return n
}

// compact folds the oldest messages into the summary so the live list
// never exceeds max. It returns the number of messages removed.
func (c *Context) compact(max int) int {
	if max <= 0 || len(c.Messages) <= max {
		return 0
	}
	removed := len(c.Messages) - max
	oldest := c.Messages[:removed]

	if c.Summary == nil {
		c.Summary = &MessageSummary{
			From: oldest[0].Timestamp,
			To:   oldest[removed-1].Timestamp,
		}
	}
	c.Summary.Count += removed
	if c.Summary.From.IsZero() || oldest[0].Timestamp.Before(c.Summary.From) {
		c.Summary.From = oldest[0].Timestamp
	}
	if oldest[removed-1].Timestamp.After(c.Summary.To) {
		c.Summary.To = oldest[removed-1].Timestamp
	}

	c.Messages = append([]Message(nil), c.Messages[removed:]...)
	return removed
}

// Clone returns a deep copy suitable for handing to callers without
// exposing the store's live context.
func (c *Context) Clone() *Context {
	cp := *c

	cp.Messages = append([]Message(nil), c.Messages...)

	cp.Entities = make(map[string]EntityValue, len(c.Entities))
	for k, v := range c.Entities {
		cp.Entities[k] = v
	}

	cp.Metadata = make(map[string]interface{}, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}

	if c.DetectedIntent != nil {
		intent := *c.DetectedIntent
		if c.DetectedIntent.Parameters != nil {
			intent.Parameters = make(map[string]interface{}, len(c.DetectedIntent.Parameters))
			for k, v := range c.DetectedIntent.Parameters {
				intent.Parameters[k] = v
			}
		}
		cp.DetectedIntent = &intent
	}

	if c.Summary != nil {
		summary := *c.Summary
		cp.Summary = &summary
	}

	return &cp
}

// Lookup resolves a dotted path into the context and reports whether the
// path exists. Supported roots: session_id, user_id, bot_type,
// current_state, previous_state, detected_intent, metadata, entities.
// Deeper segments traverse maps and the intent/entity fields.
func (c *Context) Lookup(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, false
	}

	switch parts[0] {
	case "session_id":
		return leaf(c.SessionID, parts[1:])
	case "user_id":
		return leaf(c.UserID, parts[1:])
	case "bot_type":
		return leaf(c.BotType, parts[1:])
	case "current_state":
		return leaf(c.CurrentState, parts[1:])
	case "previous_state":
		return leaf(c.PreviousState, parts[1:])
	case "detected_intent":
		if c.DetectedIntent == nil {
			return nil, false
		}
		return lookupIntent(c.DetectedIntent, parts[1:])
	case "metadata":
		return lookupMap(c.Metadata, parts[1:])
	case "entities":
		return lookupEntities(c.Entities, parts[1:])
	default:
		return nil, false
	}
}

// leaf returns v only when no path segments remain.
func leaf(v interface{}, rest []string) (interface{}, bool) {
	if len(rest) != 0 {
		return nil, false
	}
	return v, true
}

func lookupIntent(intent *Intent, rest []string) (interface{}, bool) {
	if len(rest) == 0 {
		return intent, true
	}
	switch rest[0] {
	case "name":
		return leaf(intent.Name, rest[1:])
	case "confidence":
		return leaf(intent.Confidence, rest[1:])
	case "parameters":
		return lookupMap(intent.Parameters, rest[1:])
	default:
		return nil, false
	}
}

func lookupMap(m map[string]interface{}, rest []string) (interface{}, bool) {
	if len(rest) == 0 {
		return m, m != nil
	}
	v, ok := m[rest[0]]
	if !ok {
		return nil, false
	}
	if len(rest) == 1 {
		return v, true
	}
	nested, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return lookupMap(nested, rest[1:])
}

func lookupEntities(entities map[string]EntityValue, rest []string) (interface{}, bool) {
	if len(rest) == 0 {
		return entities, entities != nil
	}
	ev, ok := entities[rest[0]]
	if !ok {
		return nil, false
	}
	if len(rest) == 1 {
		return ev, true
	}
	switch rest[1] {
	case "value":
		return leaf(ev.Value, rest[2:])
	case "confidence":
		return leaf(ev.Confidence, rest[2:])
	case "source":
		return leaf(ev.Source, rest[2:])
	default:
		return nil, false
	}
}
