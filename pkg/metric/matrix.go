package metric

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/barsmith/mixmetric/pkg/hierarchy"
)

// ErrStaleMatrix is returned when an incremental operation is attempted
// against a matrix built from an older catalog version. The caller should
// rebuild from the current tree.
var ErrStaleMatrix = errors.New("metric: matrix built from a stale catalog version")

// Matrix is the materialized ground-distance matrix over an ingredient
// universe: square, symmetric, zero diagonal. It is immutable once built and
// safe for any number of concurrent readers. Structural catalog changes
// never mutate a Matrix in place; they produce a new one under a new Key.
type Matrix struct {
	treeVersion string
	key         string
	ids         []string // sorted universe
	index       map[string]int
	data        []float64 // n*n, row-major
}

// TreeVersion is the catalog fingerprint the matrix was built from.
func (m *Matrix) TreeVersion() string { return m.treeVersion }

// Key identifies the matrix contents: catalog version, ingredient universe,
// and the distance entries themselves. Matrices built over the same catalog
// with different edge weighting get different keys, so caches keyed on it
// (the knn pairwise memo in particular) can never serve a result computed
// against different pricing. A Restore of persisted entries reproduces the
// key of the matrix they came from.
func (m *Matrix) Key() string { return m.key }

// Len returns the number of ingredients in the universe.
func (m *Matrix) Len() int { return len(m.ids) }

// IDs returns the sorted ingredient universe.
func (m *Matrix) IDs() []string {
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}

// Index returns the row/column index for id.
func (m *Matrix) Index(id string) (int, bool) {
	i, ok := m.index[id]
	return i, ok
}

// At returns the distance at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	return m.data[i*len(m.ids)+j]
}

// Distance returns the ground distance between two ingredient ids.
func (m *Matrix) Distance(a, b string) (float64, error) {
	i, ok := m.index[a]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownIngredient, a)
	}
	j, ok := m.index[b]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownIngredient, b)
	}
	return m.At(i, j), nil
}

// Builder materializes and caches ground-distance matrices.
//
// Matrices are cached under a key derived from the tree version, an FNV
// hash of the sorted ingredient-id universe, and a fingerprint of the edge
// weighting, so identical requests are free and any catalog or pricing
// change naturally misses. Cached matrices are immutable; Append produces a
// fresh one rather than touching a shared snapshot.
//
// The zero cost of a cache read is the point: in steady state every recipe
// comparison in the corpus shares one matrix snapshot.
type Builder struct {
	opts     Options
	weightFP uint64

	mu    sync.RWMutex
	cache map[string]*Matrix

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBuilder creates a Builder. The same Options apply to every matrix it
// produces.
func NewBuilder(opts Options) *Builder {
	opts = opts.withDefaults()
	return &Builder{
		opts:     opts,
		weightFP: weightFingerprint(opts),
		cache:    make(map[string]*Matrix),
	}
}

// Build returns the ground-distance matrix for the given ingredient universe
// over tree, computing it on first request and serving the cached snapshot
// afterwards. Unknown ids fail with ErrUnknownIngredient.
func (b *Builder) Build(tree *hierarchy.Tree, ingredientIDs []string) (*Matrix, error) {
	ids := dedupeSorted(ingredientIDs)
	lookup := b.lookupKey(tree.Version(), ids)

	b.mu.RLock()
	cached, ok := b.cache[lookup]
	b.mu.RUnlock()
	if ok {
		b.hits.Add(1)
		return cached, nil
	}
	b.misses.Add(1)

	met := New(tree, b.opts)
	m := &Matrix{
		treeVersion: tree.Version(),
		ids:         ids,
		index:       make(map[string]int, len(ids)),
		data:        make([]float64, len(ids)*len(ids)),
	}
	for i, id := range ids {
		m.index[id] = i
	}

	n := len(ids)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, err := met.Distance(ids[i], ids[j])
			if err != nil {
				return nil, err
			}
			m.data[i*n+j] = d
			m.data[j*n+i] = d
		}
	}
	m.key = contentKey(m.treeVersion, ids, m.data)

	b.mu.Lock()
	b.cache[lookup] = m
	b.mu.Unlock()
	return m, nil
}

// Append extends a cached matrix with one new ingredient, computing only the
// new row/column instead of rebuilding O(n²). The source matrix must have
// been built from the same tree version; any structural catalog change makes
// it stale and forces a full Build.
func (b *Builder) Append(tree *hierarchy.Tree, src *Matrix, id string) (*Matrix, error) {
	if src.treeVersion != tree.Version() {
		return nil, fmt.Errorf("%w: matrix=%s tree=%s", ErrStaleMatrix, src.treeVersion, tree.Version())
	}
	if _, exists := src.index[id]; exists {
		return src, nil
	}

	ids := make([]string, len(src.ids)+1)
	copy(ids, src.ids)
	ids[len(src.ids)] = id
	sort.Strings(ids)
	lookup := b.lookupKey(tree.Version(), ids)

	b.mu.RLock()
	cached, ok := b.cache[lookup]
	b.mu.RUnlock()
	if ok {
		b.hits.Add(1)
		return cached, nil
	}

	met := New(tree, b.opts)
	n := len(ids)
	m := &Matrix{
		treeVersion: src.treeVersion,
		ids:         ids,
		index:       make(map[string]int, n),
		data:        make([]float64, n*n),
	}
	for i, v := range ids {
		m.index[v] = i
	}

	// Copy surviving entries, then fill the new row/column.
	for i, a := range ids {
		for j, c := range ids {
			if a == id || c == id {
				continue
			}
			m.data[i*n+j] = src.data[src.index[a]*len(src.ids)+src.index[c]]
		}
	}
	ni := m.index[id]
	for j, other := range ids {
		if j == ni {
			continue
		}
		d, err := met.Distance(id, other)
		if err != nil {
			return nil, err
		}
		m.data[ni*n+j] = d
		m.data[j*n+ni] = d
	}
	m.key = contentKey(m.treeVersion, ids, m.data)

	b.mu.Lock()
	b.cache[lookup] = m
	b.mu.Unlock()
	return m, nil
}

// Invalidate drops every cached matrix. Call after any catalog change; keyed
// lookups would miss anyway, this just releases the memory promptly.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.cache = make(map[string]*Matrix)
	b.mu.Unlock()
}

// Stats reports cache hit/miss counts.
func (b *Builder) Stats() (hits, misses uint64) {
	return b.hits.Load(), b.misses.Load()
}

// Restore reconstructs a Matrix from persisted entries, typically a snapshot
// loaded off disk. Ids must be the sorted universe the matrix was saved with
// and data the row-major n*n layout At produces. The restored matrix gets
// the same content-based Key as the matrix the entries came from.
func Restore(treeVersion string, ids []string, data []float64) (*Matrix, error) {
	if !sort.StringsAreSorted(ids) {
		return nil, fmt.Errorf("metric: restore: ingredient ids not sorted")
	}
	sorted := dedupeSorted(ids)
	if len(sorted) != len(ids) {
		return nil, fmt.Errorf("metric: restore: duplicate ingredient ids")
	}
	n := len(sorted)
	if len(data) != n*n {
		return nil, fmt.Errorf("metric: restore: %d entries for a %dx%d matrix", len(data), n, n)
	}
	m := &Matrix{
		treeVersion: treeVersion,
		key:         contentKey(treeVersion, sorted, data),
		ids:         sorted,
		index:       make(map[string]int, n),
		data:        make([]float64, len(data)),
	}
	for i, id := range sorted {
		m.index[id] = i
	}
	copy(m.data, data)
	return m, nil
}

func dedupeSorted(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i == 0 || id != out[i-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}

// lookupKey identifies a build request inside this builder's cache: catalog
// version, id universe, and the builder's weight fingerprint.
func (b *Builder) lookupKey(treeVersion string, sortedIDs []string) string {
	return fmt.Sprintf("%s/%016x/%016x", treeVersion, idsHash(sortedIDs), b.weightFP)
}

// contentKey is the public Matrix.Key: it hashes the distance entries
// themselves, so any change in pricing shows up in the key even when
// catalog and universe are identical.
func contentKey(treeVersion string, sortedIDs []string, data []float64) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, d := range data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(d))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%s/%016x/%016x", treeVersion, idsHash(sortedIDs), h.Sum64())
}

func idsHash(sortedIDs []string) uint64 {
	h := fnv.New64a()
	for _, id := range sortedIDs {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// weightSampleDepth bounds the depths the weight curve is sampled at when
// fingerprinting Options. Weight functions are assumed pure; two that agree
// on all sampled depths and on MaxDistance share cache entries.
const weightSampleDepth = 32

func weightFingerprint(o Options) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	put(o.MaxDistance)
	for d := 1; d <= weightSampleDepth; d++ {
		put(o.Weight(d))
	}
	return h.Sum64()
}
