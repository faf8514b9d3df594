// Package transition implements the per-bot conversational state machine.
//
// States are opaque strings defined entirely by bot configuration. There
// is no terminal state: "completed" or "failed" are ordinary states that
// happen to have no outgoing rules.
package transition

import (
	"fmt"
	"sync"

	"github.com/dialogkit/dialogkit/condition"
	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/logging"
	"github.com/dialogkit/dialogkit/session"
)

// Condition is one guard on a rule, dispatched by type name through the
// condition registry.
type Condition struct {
	Type   string                 `json:"type" toml:"type"`
	Params map[string]interface{} `json:"params" toml:"params"`
}

// Rule is a guarded edge in the state graph. A rule with no conditions
// never fires.
type Rule struct {
	SourceState string      `json:"source_state" toml:"source_state"`
	TargetState string      `json:"target_state" toml:"target_state"`
	Conditions  []Condition `json:"conditions" toml:"conditions"`
}

// RuleSet holds transition rules grouped by bot type and source state,
// preserving declaration order within each group.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[string][]Rule
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[string][]Rule)}
}

func groupKey(botType, sourceState string) string {
	return botType + "\x00" + sourceState
}

// Add appends a rule to its (botType, source state) group. Declaration
// order is evaluation order.
func (rs *RuleSet) Add(botType string, rule Rule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	key := groupKey(botType, rule.SourceState)
	rs.rules[key] = append(rs.rules[key], rule)
}

// Rules returns the ordered rule list for a (botType, state) pair, or
// nil if the state has no outgoing rules.
func (rs *RuleSet) Rules(botType, state string) []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.rules[groupKey(botType, state)]
}

// Validate checks every rule against the condition registry: each rule
// must have at least one condition and every condition type must be
// registered. Run at configuration load so misconfiguration fails fast.
func (rs *RuleSet) Validate(reg *condition.Registry) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, group := range rs.rules {
		for _, rule := range group {
			if len(rule.Conditions) == 0 {
				return errors.ConfigInvalid(fmt.Sprintf(
					"rule %s -> %s has no conditions", rule.SourceState, rule.TargetState))
			}
			for _, c := range rule.Conditions {
				if !reg.Has(c.Type) {
					return errors.ConfigInvalid(fmt.Sprintf(
						"rule %s -> %s uses unknown condition type %q",
						rule.SourceState, rule.TargetState, c.Type))
				}
			}
		}
	}
	return nil
}

// Engine evaluates transition rules for a turn.
type Engine struct {
	rules      *RuleSet
	conditions *condition.Registry
	log        *logging.Logger
}

// NewEngine creates an engine over the given rules and condition registry.
func NewEngine(rules *RuleSet, conditions *condition.Registry, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.New()
	}
	return &Engine{
		rules:      rules,
		conditions: conditions,
		log:        log.WithComponent("transition"),
	}
}

// Evaluate picks the next state for a turn. It walks the rules for
// (botType, current state) in declaration order and returns the target
// of the first rule whose conditions all hold. The second return is
// false when no rule matched and the session stays where it is.
//
// Evaluation is a pure function of (rules, message, context): condition
// failures inside an evaluator count as false and are never propagated.
func (e *Engine) Evaluate(botType, currentState string, msg session.Message, ctx *session.Context) (string, bool) {
	rules := e.rules.Rules(botType, currentState)
	if len(rules) == 0 {
		return "", false
	}

	for _, rule := range rules {
		if len(rule.Conditions) == 0 {
			e.log.RuleSkipped(botType, currentState, "rule has no conditions")
			continue
		}
		if e.ruleMatches(rule, msg, ctx) {
			e.log.TransitionFired(botType, currentState, rule.TargetState)
			return rule.TargetState, true
		}
	}
	return "", false
}

// ruleMatches evaluates a rule's conditions with short-circuit AND.
func (e *Engine) ruleMatches(rule Rule, msg session.Message, ctx *session.Context) bool {
	for _, c := range rule.Conditions {
		if !e.conditions.Evaluate(c.Type, msg, ctx, c.Params) {
			return false
		}
	}
	return true
}
