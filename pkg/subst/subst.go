// Package subst learns an ingredient substitution matrix from recipe
// co-occurrence.
//
// The idea is borrowed from BLOSUM matrices in sequence alignment: score a
// pair of ingredients by how much more (or less) often they appear together
// than independence would predict. Ingredients that keep showing up in the
// same recipes (gin and tonic, rum and lime) score positive; pairs the
// corpus never mixes score negative.
//
// For a corpus of N recipes, with C(a) recipes containing a and C(a,b)
// recipes containing both:
//
//	p(a,b) = (C(a,b) + s) / (N + s)
//	p(a)   = (C(a)   + s) / (N + s)
//
//	score(a, b) = ln( p(a,b) / (p(a) · p(b)) )
//
// where s is the Laplace pseudo-count keeping unseen pairs finite. The score
// is symmetric, strictly increasing in C(a,b) when everything else is held
// fixed, and zero-centered around independence.
//
// The learner keeps only running totals. Batches merge with a pure count
// addition without replaying history, and scores are derived lazily from the
// totals at read time, against an immutable versioned snapshot so readers
// never observe a half-merged corpus.
package subst

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/barsmith/mixmetric/pkg/compose"
)

// DefaultSmoothing is the add-one Laplace pseudo-count.
const DefaultSmoothing = 1.0

// Options configures a Learner.
type Options struct {
	// Smoothing is the Laplace pseudo-count. Defaults to DefaultSmoothing.
	Smoothing float64
}

type pairKey struct{ a, b string }

func keyFor(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Learner accumulates co-occurrence counts across recipe corpus batches.
type Learner struct {
	smoothing float64

	mu       sync.RWMutex
	pairs    map[pairKey]int64
	marginal map[string]int64
	recipes  int64
	version  uint64
	snapshot *Matrix // lazily built, dropped on every Update
}

// New creates an empty Learner.
func New(opts Options) *Learner {
	s := opts.Smoothing
	if s <= 0 {
		s = DefaultSmoothing
	}
	return &Learner{
		smoothing: s,
		pairs:     make(map[pairKey]int64),
		marginal:  make(map[string]int64),
	}
}

// Update merges one batch of recipe compositions into the running counts.
// Each recipe contributes one count per distinct ingredient (marginal) and
// one per distinct unordered ingredient pair (co-occurrence). Amounts are
// ignored on purpose: substitution affinity is about what appears together,
// not how much.
func (l *Learner) Update(batch []compose.Composition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range batch {
		support := c.Support()
		for i, a := range support {
			l.marginal[a]++
			for _, b := range support[i+1:] {
				l.pairs[keyFor(a, b)]++
			}
		}
		l.recipes++
	}
	l.version++
	l.snapshot = nil
}

// Scores returns the current substitution matrix snapshot, building it from
// the running totals on first read after an update. The snapshot is
// immutable and safe to hold across further updates; its Version and
// BuiltAt identify the corpus state it reflects.
func (l *Learner) Scores() *Matrix {
	l.mu.RLock()
	snap := l.snapshot
	l.mu.RUnlock()
	if snap != nil {
		return snap
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot == nil {
		l.snapshot = l.buildSnapshotLocked()
	}
	return l.snapshot
}

func (l *Learner) buildSnapshotLocked() *Matrix {
	m := &Matrix{
		version:   l.version,
		builtAt:   time.Now().UTC(),
		smoothing: l.smoothing,
		recipes:   l.recipes,
		pairs:     make(map[pairKey]int64, len(l.pairs)),
		marginal:  make(map[string]int64, len(l.marginal)),
	}
	for k, v := range l.pairs {
		m.pairs[k] = v
	}
	for k, v := range l.marginal {
		m.marginal[k] = v
	}
	return m
}

// Matrix is an immutable substitution-score snapshot. Scores are computed
// on demand from the frozen counts; the snapshot itself never changes.
type Matrix struct {
	version   uint64
	builtAt   time.Time
	smoothing float64
	recipes   int64
	pairs     map[pairKey]int64
	marginal  map[string]int64
}

// Version is the learner update generation the snapshot was built from.
func (m *Matrix) Version() uint64 { return m.version }

// BuiltAt is the snapshot construction time (UTC).
func (m *Matrix) BuiltAt() time.Time { return m.builtAt }

// Recipes is the number of recipes observed.
func (m *Matrix) Recipes() int64 { return m.recipes }

// Ingredients returns every observed ingredient id, sorted.
func (m *Matrix) Ingredients() []string {
	ids := make([]string, 0, len(m.marginal))
	for id := range m.marginal {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the raw co-occurrence count for a pair.
func (m *Matrix) Count(a, b string) int64 { return m.pairs[keyFor(a, b)] }

// Marginal returns the number of recipes the ingredient appeared in.
func (m *Matrix) Marginal(id string) int64 { return m.marginal[id] }

// PairCount is one co-occurrence entry, A < B.
type PairCount struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Count int64  `json:"count"`
}

// PairCounts returns every nonzero co-occurrence count, ordered by (A, B).
// Together with the marginals and recipe count it fully determines the
// matrix, which is what snapshot persistence round-trips.
func (m *Matrix) PairCounts() []PairCount {
	out := make([]PairCount, 0, len(m.pairs))
	for k, v := range m.pairs {
		out = append(out, PairCount{A: k.a, B: k.b, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Restore rebuilds a Learner from persisted counts, as if it had observed
// the original corpus. The restored learner starts at version 1 so a fresh
// Scores snapshot is built from the seeded totals.
func Restore(opts Options, recipes int64, pairs []PairCount, marginals map[string]int64) *Learner {
	l := New(opts)
	for _, pc := range pairs {
		l.pairs[keyFor(pc.A, pc.B)] = pc.Count
	}
	for id, n := range marginals {
		l.marginal[id] = n
	}
	l.recipes = recipes
	l.version = 1
	return l
}

// Score returns the smoothed log-odds affinity between a and b. Unseen
// pairs score negative (independence would have predicted more), pairs that
// travel together score positive.
func (m *Matrix) Score(a, b string) float64 {
	if m.recipes == 0 {
		return 0
	}
	n := float64(m.recipes) + m.smoothing
	pab := (float64(m.pairs[keyFor(a, b)]) + m.smoothing) / n
	pa := (float64(m.marginal[a]) + m.smoothing) / n
	pb := (float64(m.marginal[b]) + m.smoothing) / n
	return math.Log(pab / (pa * pb))
}

// Substitute is one ranked substitution candidate.
type Substitute struct {
	IngredientID string
	Score        float64
}

// TopSubstitutes returns the k highest-scoring partners for ingredient id,
// descending by score with ties broken by ingredient id.
func (m *Matrix) TopSubstitutes(id string, k int) []Substitute {
	out := make([]Substitute, 0, len(m.marginal))
	for other := range m.marginal {
		if other == id {
			continue
		}
		out = append(out, Substitute{IngredientID: other, Score: m.Score(id, other)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].IngredientID < out[j].IngredientID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
