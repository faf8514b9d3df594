package condition

import (
	"strings"

	"github.com/dialogkit/dialogkit/session"
)

const (
	defaultMinConfidence    = 0.7
	defaultDurationSeconds  = 300.0
	defaultMessageThreshold = 5
)

// intentMatch holds when the detected intent name matches and its
// confidence clears the configured minimum.
func (r *Registry) intentMatch(_ session.Message, ctx *session.Context, params map[string]interface{}) bool {
	want, ok := stringParam(params, "intent")
	if !ok || ctx.DetectedIntent == nil {
		return false
	}
	minConf := floatParam(params, "min_confidence", defaultMinConfidence)
	return ctx.DetectedIntent.Name == want && ctx.DetectedIntent.Confidence >= minConf
}

// keywordMatch holds when any configured keyword appears in the message,
// case-insensitively.
func (r *Registry) keywordMatch(msg session.Message, _ *session.Context, params map[string]interface{}) bool {
	keywords := stringsParam(params, "keywords")
	if len(keywords) == 0 {
		return false
	}
	text := strings.ToLower(msg.Text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// entityPresent holds when the named entity exists in the context.
func (r *Registry) entityPresent(_ session.Message, ctx *session.Context, params map[string]interface{}) bool {
	name, ok := stringParam(params, "name")
	if !ok {
		name, ok = stringParam(params, "entity_name")
	}
	if !ok {
		return false
	}
	_, present := ctx.Entities[name]
	return present
}

// stateDuration holds when the session has been in its current state
// longer than the threshold.
func (r *Registry) stateDuration(_ session.Message, ctx *session.Context, params map[string]interface{}) bool {
	threshold := floatParam(params, "threshold_seconds", defaultDurationSeconds)
	return r.now().Sub(ctx.StateEntryTime).Seconds() > threshold
}

// contextValue resolves a dotted path into the context and compares the
// value against the expectation. A missing path never matches.
func (r *Registry) contextValue(_ session.Message, ctx *session.Context, params map[string]interface{}) bool {
	path, ok := stringParam(params, "path")
	if !ok {
		return false
	}
	op, ok := stringParam(params, "operator")
	if !ok {
		return false
	}
	expected, ok := params["expected"]
	if !ok {
		expected, ok = params["expected_value"]
	}
	if !ok {
		return false
	}

	actual, found := ctx.Lookup(path)
	if !found {
		return false
	}
	return compare(actual, op, expected)
}

// messageCount holds when the user has sent at least threshold messages
// since entering the current state.
func (r *Registry) messageCount(_ session.Message, ctx *session.Context, params map[string]interface{}) bool {
	threshold := intParam(params, "threshold", defaultMessageThreshold)
	return ctx.UserMessagesSince(ctx.StateEntryTime) >= threshold
}

// compare applies one of eq, neq, gt, lt, contains. Numeric comparisons
// coerce both sides to float64; everything else falls back to string
// equality.
func compare(actual interface{}, op string, expected interface{}) bool {
	switch op {
	case "eq":
		return equal(actual, expected)
	case "neq":
		return !equal(actual, expected)
	case "gt":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a > b
	case "lt":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a < b
	case "contains":
		return contains(actual, expected)
	default:
		return false
	}
}

func equal(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}

func contains(actual, expected interface{}) bool {
	needle := toString(expected)
	switch v := actual.(type) {
	case string:
		return strings.Contains(strings.ToLower(v), strings.ToLower(needle))
	case []string:
		for _, item := range v {
			if item == needle {
				return true
			}
		}
	case []interface{}:
		for _, item := range v {
			if toString(item) == needle {
				return true
			}
		}
	}
	return false
}
