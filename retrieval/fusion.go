package retrieval

import (
	"sort"
)

// Fusion weight defaults. Weights are renormalized over the sources
// that actually returned results, so partial failure never changes
// the score scale.
const (
	DefaultKeywordWeight    = 0.3
	defaultStructuredWeight = 0.2
	defaultProfileWeight    = 0.1
)

// sourcePriority orders sources for tie-breaking: lower wins.
var sourcePriority = map[string]int{
	TagSemantic:   0,
	TagStructured: 1,
	TagKeyword:    2,
	TagProfile:    3,
}

// sourceList is one source's result list plus its scale declaration.
type sourceList struct {
	tag        string
	normalized bool
	docs       []Document
}

// fusedDoc accumulates one content-deduplicated document's per-source
// evidence before scoring.
type fusedDoc struct {
	doc      Document
	scores   map[string]float64 // tag -> raw score
	ranks    map[string]int     // tag -> zero-based rank
	listLens map[string]int     // tag -> originating list length
	priority int
}

// fuse merges per-source result lists into a single list ordered by
// descending combined score.
//
// When every contributing source declares normalized scores, the
// combined score is a weighted average of per-source scores with 0
// for a source that did not return the document. Otherwise each
// source contributes weight * (1 - rank/len) for the documents it
// returned. Both forms use the same renormalized weights, so scores
// stay within [0,1] for any keyword weight in [0,1]. Ties break by
// source priority (semantic, then structured, then keyword), then by
// document ID.
func fuse(lists []sourceList, keywordWeight float64) []Document {
	lists = nonEmpty(lists)
	if len(lists) == 0 {
		return nil
	}

	weights := fusionWeights(lists, keywordWeight)
	allNormalized := true
	for _, l := range lists {
		if !l.normalized {
			allNormalized = false
			break
		}
	}

	groups := dedupe(lists)

	for _, g := range groups {
		var combined float64
		for tag, w := range weights {
			if allNormalized {
				if score, ok := g.scores[tag]; ok {
					combined += w * score
				}
			} else {
				if rank, ok := g.ranks[tag]; ok {
					combined += w * (1 - float64(rank)/float64(g.listLens[tag]))
				}
			}
		}
		g.doc.CombinedScore = combined
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].doc.CombinedScore != groups[j].doc.CombinedScore {
			return groups[i].doc.CombinedScore > groups[j].doc.CombinedScore
		}
		if groups[i].priority != groups[j].priority {
			return groups[i].priority < groups[j].priority
		}
		return groups[i].doc.ID < groups[j].doc.ID
	})

	out := make([]Document, len(groups))
	for i, g := range groups {
		out[i] = g.doc
	}
	return out
}

// fusionWeights assigns a base weight per surviving source tag and
// renormalizes so the weights sum to 1.
func fusionWeights(lists []sourceList, keywordWeight float64) map[string]float64 {
	if keywordWeight < 0 {
		keywordWeight = 0
	}
	if keywordWeight > 1 {
		keywordWeight = 1
	}

	weights := make(map[string]float64, len(lists))
	var total float64
	for _, l := range lists {
		var w float64
		switch l.tag {
		case TagSemantic:
			w = 1 - keywordWeight
		case TagKeyword:
			w = keywordWeight
		case TagStructured:
			w = defaultStructuredWeight
		case TagProfile:
			w = defaultProfileWeight
		default:
			w = defaultProfileWeight
		}
		weights[l.tag] = w
		total += w
	}

	if total <= 0 {
		// Every weight collapsed to zero; fall back to equal shares.
		for tag := range weights {
			weights[tag] = 1 / float64(len(weights))
		}
		return weights
	}

	for tag := range weights {
		weights[tag] /= total
	}
	return weights
}

// dedupe groups documents by content hash across source lists. The
// representative document comes from the highest-priority source that
// returned it; per-source evidence keeps the best score and rank.
func dedupe(lists []sourceList) []*fusedDoc {
	byHash := make(map[uint64]*fusedDoc)
	var order []uint64

	for _, l := range lists {
		prio, ok := sourcePriority[l.tag]
		if !ok {
			prio = len(sourcePriority)
		}
		for rank, doc := range l.docs {
			h := ContentHash(doc.Content)
			g, seen := byHash[h]
			if !seen {
				g = &fusedDoc{
					doc:      doc,
					scores:   map[string]float64{},
					ranks:    map[string]int{},
					listLens: map[string]int{},
					priority: prio,
				}
				byHash[h] = g
				order = append(order, h)
			} else if prio < g.priority {
				g.doc = doc
				g.priority = prio
			}

			if score, ok := g.scores[l.tag]; !ok || doc.RawScore > score {
				g.scores[l.tag] = doc.RawScore
			}
			if r, ok := g.ranks[l.tag]; !ok || rank < r {
				g.ranks[l.tag] = rank
				g.listLens[l.tag] = len(l.docs)
			}
		}
	}

	groups := make([]*fusedDoc, 0, len(order))
	for _, h := range order {
		groups = append(groups, byHash[h])
	}
	return groups
}

func nonEmpty(lists []sourceList) []sourceList {
	out := lists[:0]
	for _, l := range lists {
		if len(l.docs) > 0 {
			out = append(out, l)
		}
	}
	return out
}
