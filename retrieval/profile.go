package retrieval

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/kvstore"
)

const profileKeyPrefix = "profile."

// ProfileEntry is one topic-scoped fact in a user's knowledge
// profile.
type ProfileEntry struct {
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Weight    float64   `json:"weight"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileStore holds per-user knowledge profiles in a key/value
// backend. Bind a user to obtain a retrieval Source over their
// profile.
type ProfileStore struct {
	mu      sync.Mutex
	backend kvstore.Store
	now     func() time.Time
}

// NewProfileStore builds a profile store over the given backend.
func NewProfileStore(backend kvstore.Store) *ProfileStore {
	return &ProfileStore{backend: backend, now: time.Now}
}

// Add appends an entry to a user's profile. Weight is clamped to
// [0,1] so profile scores stay on the normalized scale.
func (p *ProfileStore) Add(userID string, entry ProfileEntry) error {
	if entry.Weight < 0 {
		entry.Weight = 0
	}
	if entry.Weight > 1 {
		entry.Weight = 1
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := p.load(userID)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	return p.save(userID, entries)
}

// Entries returns a user's full profile.
func (p *ProfileStore) Entries(userID string) ([]ProfileEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(userID)
}

// Bind returns a Source that searches one user's profile.
func (p *ProfileStore) Bind(userID string) *ProfileSource {
	return &ProfileSource{store: p, userID: userID}
}

func (p *ProfileStore) load(userID string) ([]ProfileEntry, error) {
	data, err := p.backend.Get(profileKeyPrefix + userID)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load profile")
	}
	var entries []ProfileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.New(errors.ErrCodeCorruption, "profile data is corrupt", errors.WithCause(err))
	}
	return entries, nil
}

func (p *ProfileStore) save(userID string, entries []ProfileEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "encode profile")
	}
	return p.backend.Put(profileKeyPrefix+userID, data, 0)
}

// ProfileSource retrieves topic-scoped entries from one user's
// profile. Scope entries name topic ids; an empty scope matches the
// whole profile.
type ProfileSource struct {
	store  *ProfileStore
	userID string
}

func (s *ProfileSource) Tag() string { return TagProfile }

// Normalized reports true: entry weights are kept in [0,1].
func (s *ProfileSource) Normalized() bool { return true }

// Search returns the user's entries for the scoped topics, ordered by
// descending weight. Entries whose content shares a keyword with the
// query rank above those matched by topic alone.
func (s *ProfileSource) Search(_ context.Context, text string, scope []string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultTopK
	}

	entries, err := s.store.Entries(s.userID)
	if err != nil {
		return nil, err
	}

	topics := make(map[string]bool, len(scope))
	for _, t := range scope {
		topics[t] = true
	}
	keywords := queryKeywords(text)

	var docs []Document
	for i, e := range entries {
		if len(topics) > 0 && !topics[e.Topic] {
			continue
		}

		score := e.Weight
		if matchesKeyword(e.Content, keywords) {
			score = score/2 + 0.5
		}

		docs = append(docs, Document{
			ID:      s.userID + "/" + e.Topic + "/" + strconv.Itoa(i),
			Content: e.Content,
			Metadata: map[string]string{
				"topic":   e.Topic,
				"user_id": s.userID,
			},
			RawScore: score,
		})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].RawScore > docs[j].RawScore })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func matchesKeyword(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
