// Package condition evaluates transition rule guards.
package condition

import (
	"fmt"
	"sync"
	"time"

	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/logging"
	"github.com/dialogkit/dialogkit/session"
)

// Evaluator decides whether one condition holds for the given turn.
// Params carry the condition's configured parameters.
type Evaluator func(msg session.Message, ctx *session.Context, params map[string]interface{}) bool

// Registry maps condition type names to evaluators. Built-in evaluators
// are pre-registered; new types register under a string key without
// touching the transition engine.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
	log        *logging.Logger

	// now is swappable so duration conditions are testable.
	now func() time.Time
}

// NewRegistry creates a registry with the built-in evaluators registered.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.New()
	}
	r := &Registry{
		evaluators: make(map[string]Evaluator),
		log:        log.WithComponent("condition"),
		now:        time.Now,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register("intent_match", r.intentMatch)
	r.Register("keyword_match", r.keywordMatch)
	r.Register("entity_present", r.entityPresent)
	r.Register("state_duration", r.stateDuration)
	r.Register("context_value", r.contextValue)
	r.Register("message_count", r.messageCount)
}

// Register adds or replaces an evaluator under the given type name.
func (r *Registry) Register(condType string, fn Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[condType] = fn
}

// Has returns true if an evaluator is registered for the type.
func (r *Registry) Has(condType string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.evaluators[condType]
	return ok
}

// Evaluate runs the evaluator for condType. An unknown type or a
// panicking evaluator counts as a failed condition, never a crash.
func (r *Registry) Evaluate(condType string, msg session.Message, ctx *session.Context, params map[string]interface{}) (result bool) {
	r.mu.RLock()
	fn, ok := r.evaluators[condType]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("unknown condition type, treating as false", map[string]interface{}{"type": condType})
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.ConditionError(condType, fmt.Errorf("evaluator panic: %v", rec))
			result = false
		}
	}()
	return fn(msg, ctx, params)
}

// Validate checks that every listed condition type has an evaluator.
// Called at configuration load so a typo fails fast instead of silently
// never matching.
func (r *Registry) Validate(condTypes []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range condTypes {
		if _, ok := r.evaluators[t]; !ok {
			return errors.ConfigInvalid(fmt.Sprintf("unknown condition type %q", t))
		}
	}
	return nil
}
