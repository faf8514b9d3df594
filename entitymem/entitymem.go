// Package entitymem accumulates per-session entity knowledge across turns.
//
// Each observed entity gets a running record: mention count, running
// average sentiment, peak importance, and a textual summary merged as
// new mentions arrive. Records persist through the kvstore backend so a
// session's entity memory survives process restarts.
package entitymem

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/kvstore"
	"github.com/dialogkit/dialogkit/logging"
)

const keyPrefix = "entities."

// DefaultImportanceThreshold gates the importance leg of Relevant.
const DefaultImportanceThreshold = 0.7

// Record is the accumulated knowledge about one entity.
type Record struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Summary      string    `json:"summary"`
	Sentiment    float64   `json:"sentiment"`
	Importance   float64   `json:"importance"`
	MentionCount int       `json:"mention_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// Observation is one entity sighting extracted from a turn.
type Observation struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	ContextSnippet string  `json:"context_snippet"`
	Sentiment      float64 `json:"sentiment"`
	Importance     float64 `json:"importance"`
}

// Summarizer merges an entity's existing summary with a new context
// snippet. Implementations typically call an LLM.
type Summarizer interface {
	MergeSummary(ctx context.Context, name, oldSummary, snippet string) (string, error)
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	MinImportance float64
	Type          string
	RecencyLimit  int // keep only the N most recently seen
}

// Memory stores entity records per session, cached in process and
// persisted through a kvstore backend. Access is serialized with a
// per-session mutex, so a slow summary merge on one session never
// blocks observations or queries on another.
type Memory struct {
	mu      sync.Mutex                    // guards cache and session maps only
	cache   map[string]map[string]*Record // sessionID -> name -> record
	session map[string]*sync.Mutex        // per-session record locks
	backend kvstore.Store

	summarizer Summarizer
	log        *logging.Logger
	now        func() time.Time
}

// New creates an entity memory over the given backend. The summarizer
// is optional: without one, summaries degrade to concatenation.
func New(backend kvstore.Store, summarizer Summarizer, log *logging.Logger) *Memory {
	if log == nil {
		log = logging.New()
	}
	return &Memory{
		cache:      make(map[string]map[string]*Record),
		session:    make(map[string]*sync.Mutex),
		backend:    backend,
		summarizer: summarizer,
		log:        log.WithComponent("entitymem"),
		now:        time.Now,
	}
}

// sessionLock returns the mutex serializing access to one session's
// records.
func (m *Memory) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.session[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.session[sessionID] = l
	}
	return l
}

// Observe folds new observations into the session's records.
//
// An unseen entity creates a record with mention count 1. A seen entity
// updates sentiment as the running average over all mentions, takes the
// maximum importance, increments the mention count, and refreshes
// last seen. Summary merging degrades to concatenation when the
// summarizer is missing or fails, so information is never lost.
func (m *Memory) Observe(ctx context.Context, sessionID string, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	records, err := m.load(sessionID)
	if err != nil {
		return err
	}

	now := m.now()
	for _, obs := range observations {
		if obs.Name == "" {
			continue
		}
		rec, seen := records[obs.Name]
		if !seen {
			records[obs.Name] = &Record{
				Name:         obs.Name,
				Type:         obs.Type,
				Summary:      obs.ContextSnippet,
				Sentiment:    obs.Sentiment,
				Importance:   obs.Importance,
				MentionCount: 1,
				FirstSeen:    now,
				LastSeen:     now,
			}
			m.log.WithSession(sessionID).EntityObserved(obs.Name, 1)
			continue
		}

		n := float64(rec.MentionCount)
		rec.Sentiment = (rec.Sentiment*n + obs.Sentiment) / (n + 1)
		if obs.Importance > rec.Importance {
			rec.Importance = obs.Importance
		}
		rec.MentionCount++
		rec.LastSeen = now
		rec.Summary = m.mergeSummary(ctx, obs.Name, rec.Summary, obs.ContextSnippet)
		m.log.WithSession(sessionID).EntityObserved(obs.Name, rec.MentionCount)
	}

	return m.persist(sessionID, records)
}

// Query returns the session's records matching the filter, most
// recently seen first.
func (m *Memory) Query(sessionID string, filter Filter) ([]Record, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	records, err := m.load(sessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		if rec.Importance < filter.MinImportance {
			continue
		}
		out = append(out, *rec)
	}
	lock.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	if filter.RecencyLimit > 0 && len(out) > filter.RecencyLimit {
		out = out[:filter.RecencyLimit]
	}
	return out, nil
}

// Relevant selects the entities worth surfacing for a turn: the union
// of entities mentioned in the current message, the top-N records above
// the importance threshold, and the M most recently seen records.
// Deduplicated, with mentioned entities first in mention order.
func (m *Memory) Relevant(sessionID string, mentioned []string, topN, recentM int, importanceThreshold float64) ([]Record, error) {
	if importanceThreshold <= 0 {
		importanceThreshold = DefaultImportanceThreshold
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	records, err := m.load(sessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	all := make([]Record, 0, len(records))
	for _, rec := range records {
		all = append(all, *rec)
	}
	lock.Unlock()

	var out []Record
	picked := make(map[string]bool)
	add := func(rec Record) {
		if !picked[rec.Name] {
			picked[rec.Name] = true
			out = append(out, rec)
		}
	}

	byName := make(map[string]Record, len(all))
	for _, rec := range all {
		byName[rec.Name] = rec
	}
	for _, name := range mentioned {
		if rec, ok := byName[name]; ok {
			add(rec)
		}
	}

	byImportance := append([]Record(nil), all...)
	sort.Slice(byImportance, func(i, j int) bool {
		return byImportance[i].Importance > byImportance[j].Importance
	})
	taken := 0
	for _, rec := range byImportance {
		if taken >= topN || rec.Importance < importanceThreshold {
			break
		}
		add(rec)
		taken++
	}

	byRecency := append([]Record(nil), all...)
	sort.Slice(byRecency, func(i, j int) bool {
		return byRecency[i].LastSeen.After(byRecency[j].LastSeen)
	})
	for i := 0; i < recentM && i < len(byRecency); i++ {
		add(byRecency[i])
	}

	return out, nil
}

// Clear drops all records for a session.
func (m *Memory) Clear(sessionID string) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	delete(m.cache, sessionID)
	m.mu.Unlock()

	if err := m.backend.Delete(keyPrefix + sessionID); err != nil && err != kvstore.ErrNotFound {
		return errors.StoreFailure(sessionID, err)
	}
	return nil
}

func (m *Memory) mergeSummary(ctx context.Context, name, oldSummary, snippet string) string {
	if snippet == "" {
		return oldSummary
	}
	if oldSummary == "" {
		return snippet
	}
	if m.summarizer != nil {
		merged, err := m.summarizer.MergeSummary(ctx, name, oldSummary, snippet)
		if err == nil && merged != "" {
			return merged
		}
		if err != nil {
			m.log.Warn("summary merge failed, falling back to concatenation",
				map[string]interface{}{"entity": name, "error": err.Error()})
		}
	}
	if strings.Contains(oldSummary, snippet) {
		return oldSummary
	}
	return oldSummary + " | " + snippet
}

// load returns the session's record map, consulting the backend on
// cache miss. Caller holds the session lock.
func (m *Memory) load(sessionID string) (map[string]*Record, error) {
	m.mu.Lock()
	if records, ok := m.cache[sessionID]; ok {
		m.mu.Unlock()
		return records, nil
	}
	m.mu.Unlock()

	records := make(map[string]*Record)
	data, err := m.backend.Get(keyPrefix + sessionID)
	if err != nil && err != kvstore.ErrNotFound {
		return nil, errors.StoreFailure(sessionID, err)
	}
	if err == nil {
		if jerr := json.Unmarshal(data, &records); jerr != nil {
			return nil, errors.New(errors.ErrCodeCorruption, "corrupt entity records",
				errors.WithSessionID(sessionID), errors.WithCause(jerr))
		}
	}

	m.mu.Lock()
	m.cache[sessionID] = records
	m.mu.Unlock()
	return records, nil
}

// persist writes the session's record map through to the backend.
// Caller holds the session lock.
func (m *Memory) persist(sessionID string, records map[string]*Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return errors.StoreFailure(sessionID, err)
	}
	if err := m.backend.Put(keyPrefix+sessionID, data, 0); err != nil {
		// One retry; writes are full overwrites so this is safe.
		if err = m.backend.Put(keyPrefix+sessionID, data, 0); err != nil {
			return errors.StoreFailure(sessionID, err)
		}
	}

	m.mu.Lock()
	m.cache[sessionID] = records
	m.mu.Unlock()
	return nil
}
