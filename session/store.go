package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/kvstore"
	"github.com/dialogkit/dialogkit/logging"
)

// keyPrefix namespaces session entries in the backing store.
const keyPrefix = "session."

// StoreConfig configures the session context store.
type StoreConfig struct {
	// MaxMessages bounds the live message list per session.
	// Older messages are folded into the summary. Default: 100.
	MaxMessages int

	// PersistTTL is the TTL applied to persisted contexts (0 = no expiry;
	// expiry is the backing store's policy, not this layer's).
	PersistTTL time.Duration

	// EntryState is the state assigned to newly created contexts when the
	// bot configuration does not dictate one per bot type.
	EntryState string

	// SharedBackend marks the backing store as shared between engine
	// instances (a NATS bucket, typically). Turns then bypass the
	// in-process context cache and take the backend's per-key lock
	// around each read-modify-write, so two instances cannot interleave
	// writes on one session.
	SharedBackend bool

	// TurnLockTTL is the TTL on the backend lock taken per turn in
	// shared mode, bounding how long a crashed instance can hold a
	// session. Default: 30s.
	TurnLockTTL time.Duration

	// TurnLockWait bounds how long a turn waits for another instance to
	// release the session in shared mode. Default: 5s.
	TurnLockWait time.Duration
}

// DefaultStoreConfig returns configuration with sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxMessages:  100,
		EntryState:   "greeting",
		TurnLockTTL:  30 * time.Second,
		TurnLockWait: 5 * time.Second,
	}
}

// EntryStateFunc resolves the entry state for a bot type. Used so the
// store can create contexts without importing the bot configuration.
type EntryStateFunc func(botType string) string

// Store owns per-session conversational state. It keeps an in-process
// cache in front of a kvstore backend and serializes concurrent turns for
// the same session id with a per-session mutex. When the backend is
// shared between engine instances (StoreConfig.SharedBackend), turns
// additionally hold the backend's per-key lock and skip the cache.
type Store struct {
	mu      sync.Mutex
	cache   map[string]*Context
	session map[string]*sync.Mutex // per-session turn locks

	backend    kvstore.Store
	cfg        StoreConfig
	entryState EntryStateFunc
	log        *logging.Logger
}

// NewStore creates a session store over the given backend.
func NewStore(backend kvstore.Store, cfg StoreConfig, log *logging.Logger) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultStoreConfig().MaxMessages
	}
	if cfg.EntryState == "" {
		cfg.EntryState = DefaultStoreConfig().EntryState
	}
	if cfg.TurnLockTTL <= 0 {
		cfg.TurnLockTTL = DefaultStoreConfig().TurnLockTTL
	}
	if cfg.TurnLockWait <= 0 {
		cfg.TurnLockWait = DefaultStoreConfig().TurnLockWait
	}
	if log == nil {
		log = logging.New()
	}
	return &Store{
		cache:   make(map[string]*Context),
		session: make(map[string]*sync.Mutex),
		backend: backend,
		cfg:     cfg,
		log:     log.WithComponent("session"),
	}
}

// SetEntryStateFunc installs a per-bot entry state resolver.
func (s *Store) SetEntryStateFunc(fn EntryStateFunc) {
	s.entryState = fn
}

// sessionLock returns the mutex serializing turns for a session id.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.session[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.session[sessionID] = m
	}
	return m
}

// lockBackend takes the backend's per-key lock in shared mode, so a
// read-modify-write on this instance cannot interleave with one on
// another instance. Returns a release func; a no-op when the backend
// is not shared. Caller already holds the local session lock, so only
// other instances ever contend here.
func (s *Store) lockBackend(sessionID string) (func(), error) {
	if !s.cfg.SharedBackend {
		return func() {}, nil
	}

	deadline := time.Now().Add(s.cfg.TurnLockWait)
	for {
		l, err := s.backend.Lock(keyPrefix+sessionID, s.cfg.TurnLockTTL)
		if err == nil {
			return func() {
				if uerr := l.Unlock(); uerr != nil {
					s.log.WithSession(sessionID).Warn("session lock release failed",
						map[string]interface{}{"error": uerr.Error()})
				}
			}, nil
		}
		if err != kvstore.ErrLockHeld {
			return nil, errors.StoreFailure(sessionID, err)
		}
		if time.Now().After(deadline) {
			return nil, errors.StoreFailure(sessionID, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// cacheSet stores the live context in the in-process cache. Shared
// backends skip the cache: another instance may write the session
// between turns, so every turn must re-read through the backend.
func (s *Store) cacheSet(sessionID string, ctx *Context) {
	if s.cfg.SharedBackend {
		return
	}
	s.mu.Lock()
	s.cache[sessionID] = ctx
	s.mu.Unlock()
}

// GetOrCreate loads the context for a session id, creating it on first
// contact. The returned context is a copy; mutate through Update.
func (s *Store) GetOrCreate(sessionID, userID, botType string) (*Context, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.lockBackend(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		entry := s.cfg.EntryState
		if s.entryState != nil {
			if es := s.entryState(botType); es != "" {
				entry = es
			}
		}
		ctx = NewContext(sessionID, userID, botType, entry)
		if err := s.persist(ctx); err != nil {
			return nil, err
		}
		s.cacheSet(sessionID, ctx)
	}

	ctx.LastAccessed = time.Now()
	return ctx.Clone(), nil
}

// Update applies fn to the live context under the session lock, applies
// retention, and persists the result. This is the only mutation path, so
// two concurrent turns on one session can never drop each other's writes.
// In shared mode the backend lock extends that guarantee across engine
// instances.
func (s *Store) Update(sessionID string, fn func(*Context)) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.lockBackend(sessionID)
	if err != nil {
		return err
	}
	defer release()

	ctx, err := s.load(sessionID)
	if err != nil {
		return err
	}
	if ctx == nil {
		return errors.NotFound("session not found", errors.WithSessionID(sessionID))
	}

	fn(ctx)

	if removed := ctx.compact(s.cfg.MaxMessages); removed > 0 {
		s.log.WithSession(sessionID).SummaryFolded(removed, ctx.Summary.Count)
	}

	now := time.Now()
	ctx.LastAccessed = now
	ctx.LastUpdated = now

	if err := s.persist(ctx); err != nil {
		return err
	}

	s.cacheSet(sessionID, ctx)
	return nil
}

// AppendMessage appends one message to the session's live list.
func (s *Store) AppendMessage(sessionID string, msg Message) error {
	return s.Update(sessionID, func(c *Context) {
		c.Append(msg)
	})
}

// Save overwrites the stored context with the given one. Writes are full
// overwrites, so retries are always safe.
func (s *Store) Save(sessionID string, ctx *Context) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.lockBackend(sessionID)
	if err != nil {
		return err
	}
	defer release()

	cp := ctx.Clone()
	if removed := cp.compact(s.cfg.MaxMessages); removed > 0 {
		s.log.WithSession(sessionID).SummaryFolded(removed, cp.Summary.Count)
	}
	now := time.Now()
	cp.LastAccessed = now
	cp.LastUpdated = now

	if err := s.persist(cp); err != nil {
		return err
	}

	s.cacheSet(sessionID, cp)
	return nil
}

// Snapshot returns a copy of the current context without refreshing
// access timestamps. Returns nil if the session is unknown.
func (s *Store) Snapshot(sessionID string) (*Context, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, nil
	}
	return ctx.Clone(), nil
}

// Clear removes a session from the cache and the backing store.
func (s *Store) Clear(sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.lockBackend(sessionID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()

	if err := s.backend.Delete(keyPrefix + sessionID); err != nil {
		return errors.StoreFailure(sessionID, err)
	}
	return nil
}

// load returns the live context from cache or the backing store.
// A nil context with nil error means the session does not exist yet.
// Must be called with the session lock held. Shared backends always
// read through, so writes from other instances are never shadowed by
// a stale cache entry.
func (s *Store) load(sessionID string) (*Context, error) {
	if !s.cfg.SharedBackend {
		s.mu.Lock()
		if ctx, ok := s.cache[sessionID]; ok {
			s.mu.Unlock()
			return ctx, nil
		}
		s.mu.Unlock()
	}

	data, err := s.backend.Get(keyPrefix + sessionID)
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		// One retry with the same key; reads are idempotent.
		data, err = s.backend.Get(keyPrefix + sessionID)
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, errors.StoreFailure(sessionID, err)
		}
	}

	var ctx Context
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCorruption,
			"decoding session context", errors.WithSessionID(sessionID))
	}

	s.cacheSet(sessionID, &ctx)
	return &ctx, nil
}

// persist writes the context to the backing store, retrying once.
// Writes are full-context overwrites, so the retry is safe.
func (s *Store) persist(ctx *Context) error {
	data, err := json.Marshal(ctx)
	if err != nil {
		return errors.Wrap(err, "encoding session context",
			errors.WithSessionID(ctx.SessionID))
	}

	key := keyPrefix + ctx.SessionID
	if err := s.backend.Put(key, data, s.cfg.PersistTTL); err != nil {
		if err = s.backend.Put(key, data, s.cfg.PersistTTL); err != nil {
			return errors.StoreFailure(ctx.SessionID, err)
		}
	}
	return nil
}
