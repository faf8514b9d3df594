package retrieval

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/kvstore"
	"github.com/dialogkit/dialogkit/logging"
)

const (
	// DefaultTopK bounds the fused result list when the query does
	// not specify one.
	DefaultTopK = 5

	// DefaultSourceTimeout is the per-source search deadline.
	DefaultSourceTimeout = 3 * time.Second

	// DefaultCacheTTL is how long fused results stay cached.
	DefaultCacheTTL = 5 * time.Minute

	cacheKeyPrefix = "retrieval."
)

// CoordinatorConfig tunes fan-out and fusion behavior.
type CoordinatorConfig struct {
	// KeywordWeight is the keyword share of the fused score, in [0,1].
	KeywordWeight float64

	// SourceTimeout caps each source's search independently.
	SourceTimeout time.Duration

	// TopK is the default result bound for queries that leave it zero.
	TopK int

	// CacheTTL is the lifetime of cached fused results. Ignored when
	// the coordinator has no cache backend.
	CacheTTL time.Duration
}

// DefaultCoordinatorConfig returns the standard tuning.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		KeywordWeight: DefaultKeywordWeight,
		SourceTimeout: DefaultSourceTimeout,
		TopK:          DefaultTopK,
		CacheTTL:      DefaultCacheTTL,
	}
}

// Coordinator fans a query out to its sources concurrently, fuses the
// surviving result lists, and serves repeated queries from cache.
//
// A source that errors or times out is excluded from fusion and its
// weight is renormalized over the sources that answered; the call as
// a whole fails only if the query itself is invalid.
type Coordinator struct {
	sources []Source
	cache   kvstore.Store
	cfg     CoordinatorConfig
	log     *logging.Logger
}

// NewCoordinator builds a coordinator over the given sources. cache
// may be nil to disable caching.
func NewCoordinator(sources []Source, cache kvstore.Store, cfg CoordinatorConfig, log *logging.Logger) *Coordinator {
	if cfg.KeywordWeight == 0 && cfg.SourceTimeout == 0 && cfg.TopK == 0 && cfg.CacheTTL == 0 {
		cfg = DefaultCoordinatorConfig()
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if log == nil {
		log = logging.New()
	}
	return &Coordinator{
		sources: sources,
		cache:   cache,
		cfg:     cfg,
		log:     log.WithComponent("retrieval"),
	}
}

// Retrieve returns up to TopK documents ordered by descending fused
// score. Partial source failure degrades to the surviving sources; an
// empty result is not an error.
func (c *Coordinator) Retrieve(ctx context.Context, q Query) ([]Document, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.InvalidInput("retrieval query text is empty")
	}
	if q.TopK <= 0 {
		q.TopK = c.cfg.TopK
	}
	if q.Strategy == "" {
		q.Strategy = StrategyHybrid
	}

	key := cacheKey(q)
	if docs, ok := c.cached(key); ok {
		c.log.CacheHit(key)
		return bound(docs, q.TopK), nil
	}

	lists := c.fanOut(ctx, q)
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "retrieval canceled")
	}

	fused := fuse(lists, c.cfg.KeywordWeight)

	// Cache the full fused list; the key excludes TopK, so a later
	// query with a larger bound must not be served a truncated list.
	c.store(key, fused)
	return bound(fused, q.TopK), nil
}

// fanOut runs the selected sources concurrently, each under its own
// timeout, and collects the lists that succeeded.
func (c *Coordinator) fanOut(ctx context.Context, q Query) []sourceList {
	selected := c.selectSources(q.Strategy)
	if len(selected) == 0 {
		return nil
	}

	var (
		mu    sync.Mutex
		lists []sourceList
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range selected {
		src := src
		g.Go(func() error {
			start := time.Now()
			sctx, cancel := context.WithTimeout(gctx, c.cfg.SourceTimeout)
			defer cancel()

			docs, err := src.Search(sctx, q.Text, q.Scope, q.TopK)
			if err != nil {
				c.log.SourceDegraded(src.Tag(), errors.SourceUnavailable(src.Tag(), err))
				return nil
			}
			for i := range docs {
				docs[i].SourceTag = src.Tag()
			}
			c.log.SourceResult(src.Tag(), len(docs), time.Since(start))

			mu.Lock()
			lists = append(lists, sourceList{tag: src.Tag(), normalized: src.Normalized(), docs: docs})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// Fan-out order is nondeterministic; fusion tie-breaking expects
	// priority order.
	sort.Slice(lists, func(i, j int) bool {
		return sourcePriority[lists[i].tag] < sourcePriority[lists[j].tag]
	})
	return lists
}

func (c *Coordinator) selectSources(strategy Strategy) []Source {
	var out []Source
	for _, src := range c.sources {
		switch strategy {
		case StrategySemantic:
			if src.Tag() == TagSemantic {
				out = append(out, src)
			}
		case StrategyKeyword:
			if src.Tag() == TagKeyword {
				out = append(out, src)
			}
		default:
			out = append(out, src)
		}
	}
	return out
}

func (c *Coordinator) cached(key string) ([]Document, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, err := c.cache.Get(key)
	if err != nil {
		return nil, false
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, false
	}
	return docs, true
}

func (c *Coordinator) store(key string, docs []Document) {
	if c.cache == nil || len(docs) == 0 {
		return
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return
	}
	if err := c.cache.Put(key, data, c.cfg.CacheTTL); err != nil {
		c.log.Warn("retrieval cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

// cacheKey builds the cache key from the normalized query text, the
// bot type and the sorted scope.
func cacheKey(q Query) string {
	scope := make([]string, len(q.Scope))
	copy(scope, q.Scope)
	sort.Strings(scope)

	text := strings.Join(strings.Fields(strings.ToLower(q.Text)), " ")
	return cacheKeyPrefix + text + "|" + q.BotType + "|" + strings.Join(scope, ",")
}

func bound(docs []Document, topK int) []Document {
	if len(docs) > topK {
		return docs[:topK]
	}
	return docs
}
