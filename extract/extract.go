// Package extract turns raw user messages into structured signals:
// the detected intent, observed entities, and entity names mentioned in
// the current turn.
package extract

import (
	"context"

	"github.com/dialogkit/dialogkit/entitymem"
	"github.com/dialogkit/dialogkit/session"
)

// IntentDetector classifies the intent of a user message.
type IntentDetector interface {
	// DetectIntent returns the detected intent, or nil when no intent
	// could be determined.
	DetectIntent(ctx context.Context, text string, candidates []string) (*session.Intent, error)
}

// EntityExtractor pulls entity observations out of a user message.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) ([]entitymem.Observation, error)
}
