// Package orchestrator processes conversational turns: it enriches the
// session context, retrieves grounding documents, and drives the state
// machine.
package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dialogkit/dialogkit/config"
	"github.com/dialogkit/dialogkit/entitymem"
	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/extract"
	"github.com/dialogkit/dialogkit/kvstore"
	"github.com/dialogkit/dialogkit/logging"
	"github.com/dialogkit/dialogkit/retrieval"
	"github.com/dialogkit/dialogkit/session"
	"github.com/dialogkit/dialogkit/topic"
	"github.com/dialogkit/dialogkit/transition"
)

// Deps wires the orchestrator's collaborators. Store, Bots and Engine
// are required; everything else degrades gracefully when nil.
type Deps struct {
	Store  *session.Store
	Bots   *config.Bots
	Engine *transition.Engine

	// Memory accumulates entity records per session.
	Memory *entitymem.Memory

	// Intents and Entities are the extraction capabilities.
	Intents  extract.IntentDetector
	Entities extract.EntityExtractor

	// Mapper narrows retrieval scope by topic.
	Mapper *topic.Mapper

	// Sources are the fixed retrieval sources. Profiles, when set,
	// contributes a per-user personalization source each turn.
	Sources  []retrieval.Source
	Profiles *retrieval.ProfileStore

	// Cache backs the retrieval coordinator's result cache.
	Cache kvstore.Store

	Retrieval retrieval.CoordinatorConfig
	Log       *logging.Logger
}

// TurnResult is what a processed turn hands back to the caller layer.
type TurnResult struct {
	// NextState is the state after rule evaluation.
	NextState string

	// Transitioned reports whether a rule fired this turn.
	Transitioned bool

	// Documents are the fused retrieval results grounding the reply.
	Documents []retrieval.Document

	// Intent is the detected intent, nil when detection was
	// unavailable or found nothing.
	Intent *session.Intent

	// Topics are the topic ids the query was narrowed to.
	Topics []string

	// Entities are the records relevant to this turn.
	Entities []entitymem.Record

	// Context is a snapshot of the updated session context.
	Context *session.Context
}

// Relevant-entity selection tuning.
const (
	relevantTopN     = 5
	relevantRecentM  = 3
	topicLimit       = 3
	entityImportance = entitymem.DefaultImportanceThreshold
)

// Orchestrator coordinates one turn end to end.
type Orchestrator struct {
	deps Deps
	log  *logging.Logger
}

// New validates the dependency set and builds an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.ConfigInvalid("orchestrator requires a session store")
	}
	if deps.Bots == nil {
		return nil, errors.ConfigInvalid("orchestrator requires bot definitions")
	}
	if deps.Engine == nil {
		return nil, errors.ConfigInvalid("orchestrator requires a transition engine")
	}
	log := deps.Log
	if log == nil {
		log = logging.New()
	}

	// New sessions start in the bot's configured entry state.
	deps.Store.SetEntryStateFunc(deps.Bots.EntryState)

	return &Orchestrator{deps: deps, log: log.WithComponent("orchestrator")}, nil
}

// enrichment is what the concurrent fan-out produces for a turn.
type enrichment struct {
	intent       *session.Intent
	observations []entitymem.Observation
	topics       []string
}

// ProcessTurn runs one turn: load-or-create the session context,
// enrich concurrently (intent, entities, topics), retrieve grounding
// documents, then atomically apply the turn to the context and pick
// the next state.
//
// Extraction and retrieval failures degrade; only a context store
// failure fails the turn.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, userID, botType, text string) (*TurnResult, error) {
	start := time.Now()
	log := o.log.WithSession(sessionID)

	sctx, err := o.deps.Store.GetOrCreate(sessionID, userID, botType)
	if err != nil {
		return nil, err
	}
	log.TurnStart(botType, sctx.CurrentState)

	enr := o.enrich(ctx, log, botType, text)
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "turn canceled")
	}

	docs := o.retrieve(ctx, log, userID, botType, text, enr.topics)
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "turn canceled")
	}

	relevant := o.rememberEntities(ctx, log, sessionID, text, enr.observations)

	// All reads are done; apply the turn under the session lock.
	msg := session.Message{Text: text, Role: session.RoleUser, Timestamp: time.Now()}
	var (
		nextState    string
		transitioned bool
	)
	err = o.deps.Store.Update(sessionID, func(c *session.Context) {
		c.DetectedIntent = enr.intent
		for _, obs := range enr.observations {
			c.SetEntity(obs.Name, session.EntityValue{
				Value:      obs.ContextSnippet,
				Confidence: obs.Importance,
				Source:     "extraction",
			})
		}
		c.Append(msg)

		next, ok := o.deps.Engine.Evaluate(botType, c.CurrentState, msg, c)
		if ok {
			c.Transition(next)
		}
		nextState = c.CurrentState
		transitioned = ok
	})
	if err != nil {
		return nil, err
	}

	snap, err := o.deps.Store.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}

	log.TurnComplete(nextState, len(docs), time.Since(start))
	return &TurnResult{
		NextState:    nextState,
		Transitioned: transitioned,
		Documents:    docs,
		Intent:       enr.intent,
		Topics:       enr.topics,
		Entities:     relevant,
		Context:      snap,
	}, nil
}

// enrich runs intent detection, entity extraction and topic mapping
// concurrently. Each capability degrades independently.
func (o *Orchestrator) enrich(ctx context.Context, log *logging.Logger, botType, text string) enrichment {
	var enr enrichment

	g, gctx := errgroup.WithContext(ctx)

	if o.deps.Intents != nil {
		g.Go(func() error {
			intent, err := o.deps.Intents.DetectIntent(gctx, text, o.deps.Bots.Intents(botType))
			if err != nil {
				log.Warn("intent detection failed", map[string]interface{}{"error": err.Error()})
				return nil
			}
			enr.intent = intent
			return nil
		})
	}

	if o.deps.Entities != nil {
		g.Go(func() error {
			obs, err := o.deps.Entities.ExtractEntities(gctx, text)
			if err != nil {
				log.Warn("entity extraction failed", map[string]interface{}{"error": err.Error()})
				return nil
			}
			enr.observations = obs
			return nil
		})
	}

	if o.deps.Mapper != nil {
		g.Go(func() error {
			topics, err := o.deps.Mapper.Map(gctx, text, botType, topicLimit)
			if err != nil {
				log.Warn("topic mapping failed", map[string]interface{}{"error": err.Error()})
				return nil
			}
			enr.topics = topics
			return nil
		})
	}

	g.Wait()
	return enr
}

// retrieve builds the per-turn source set and fans the query out. A
// retrieval failure degrades to no documents.
func (o *Orchestrator) retrieve(ctx context.Context, log *logging.Logger, userID, botType, text string, topics []string) []retrieval.Document {
	sources := o.deps.Sources
	if o.deps.Profiles != nil {
		sources = append(append([]retrieval.Source(nil), sources...), o.deps.Profiles.Bind(userID))
	}
	if len(sources) == 0 {
		return nil
	}

	coord := retrieval.NewCoordinator(sources, o.deps.Cache, o.deps.Retrieval, o.log)
	docs, err := coord.Retrieve(ctx, retrieval.Query{
		Text:    text,
		BotType: botType,
		Scope:   topics,
	})
	if err != nil {
		log.Warn("retrieval failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return docs
}

// rememberEntities records this turn's observations and selects the
// entities relevant to the turn: mentioned first, then important,
// then recent.
func (o *Orchestrator) rememberEntities(ctx context.Context, log *logging.Logger, sessionID, text string, observations []entitymem.Observation) []entitymem.Record {
	if o.deps.Memory == nil {
		return nil
	}

	if err := o.deps.Memory.Observe(ctx, sessionID, observations); err != nil {
		log.Warn("entity observation failed", map[string]interface{}{"error": err.Error()})
	}

	known, err := o.deps.Memory.Query(sessionID, entitymem.Filter{})
	if err != nil {
		return nil
	}
	mentioned := extract.MentionedEntities(text, known)

	relevant, err := o.deps.Memory.Relevant(sessionID, mentioned, relevantTopN, relevantRecentM, entityImportance)
	if err != nil {
		return nil
	}
	return relevant
}
