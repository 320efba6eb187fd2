// Package knn ranks recipes by transport distance to a query recipe.
//
// The engine holds the current recipe compositions, the active ground
// matrix snapshot, and a bounded memo of pairwise distances. A k-nearest
// query walks the candidate set once, keeping a max-heap of the k best
// seen so far, so selection costs O(n log k) instead of a full sort.
//
// Pairwise results are memoized under an unordered (recipeA, recipeB) key
// that also encodes the matrix snapshot and each recipe's revision; editing
// either recipe or swapping the matrix changes the key, so stale entries
// are never served and simply age out of the LRU.
//
// Batch queries shard candidates across workers, each with its own local
// top-k, merged at the end. Cancellation is checked between per-pair units
// of work; there is no implicit timeout.
package knn

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/barsmith/mixmetric/pkg/compose"
	"github.com/barsmith/mixmetric/pkg/metric"
	"github.com/barsmith/mixmetric/pkg/transport"
)

// ErrUnknownRecipe is returned when a query names a recipe id that has not
// been upserted.
var ErrUnknownRecipe = errors.New("knn: unknown recipe")

// DefaultCacheSize bounds the pairwise distance memo.
const DefaultCacheSize = 16384

// Neighbor is one ranked result.
type Neighbor struct {
	RecipeID string
	Distance float64

	// Approximate is true when the distance came from the solver's greedy
	// fallback rather than the exact simplex.
	Approximate bool
}

// Options configures an Engine.
type Options struct {
	// CacheSize bounds the pairwise memo. Defaults to DefaultCacheSize.
	CacheSize int

	// Solver configures the underlying transport solver.
	Solver transport.Options
}

// QueryOptions narrows a single query.
type QueryOptions struct {
	// Tags, when non-empty, pre-filters candidates to recipes carrying at
	// least one of the tags, before any distance is computed.
	Tags []string

	// Candidates, when non-empty, restricts the candidate set to these ids.
	// Defaults to every registered recipe.
	Candidates []string
}

type recipeEntry struct {
	comp compose.Composition
	tags map[string]struct{}
	rev  uint64
}

type memoValue struct {
	distance    float64
	approximate bool
}

// Engine answers similarity queries over a recipe corpus.
//
// Reads (Query, Distance, CorpusMatrix) are safe concurrently with each
// other. Writes (Upsert, Remove, SetMatrix) swap state under the engine
// lock; in-flight readers finish against the snapshot they started with.
type Engine struct {
	solver *transport.Solver

	mu      sync.RWMutex
	matrix  *metric.Matrix
	recipes map[string]recipeEntry
	nextRev uint64

	memo *lru.Cache[string, memoValue]
}

// New creates an Engine over a ground matrix snapshot.
func New(matrix *metric.Matrix, opts Options) (*Engine, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	memo, err := lru.New[string, memoValue](size)
	if err != nil {
		return nil, fmt.Errorf("knn: memo cache: %w", err)
	}
	return &Engine{
		solver:  transport.NewSolver(opts.Solver),
		matrix:  matrix,
		recipes: make(map[string]recipeEntry),
		memo:    memo,
	}, nil
}

// SetMatrix swaps in a new ground matrix snapshot. Memo keys embed the
// matrix key, so entries computed against the old snapshot can no longer be
// served.
func (e *Engine) SetMatrix(m *metric.Matrix) {
	e.mu.Lock()
	e.matrix = m
	e.mu.Unlock()
}

// Upsert registers or replaces a recipe composition with optional tags.
// Replacing bumps the recipe's revision, invalidating memoized distances
// involving it.
func (e *Engine) Upsert(c compose.Composition, tags ...string) {
	tagSet := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tagSet[tag] = struct{}{}
	}
	e.mu.Lock()
	e.nextRev++
	e.recipes[c.RecipeID] = recipeEntry{comp: c, tags: tagSet, rev: e.nextRev}
	e.mu.Unlock()
}

// Remove unregisters a recipe.
func (e *Engine) Remove(recipeID string) {
	e.mu.Lock()
	delete(e.recipes, recipeID)
	e.mu.Unlock()
}

// Len returns the number of registered recipes.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.recipes)
}

// RecipeIDs returns all registered recipe ids, sorted.
func (e *Engine) RecipeIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.recipes))
	for id := range e.recipes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Distance returns the (possibly memoized) transport distance between two
// registered recipes.
func (e *Engine) Distance(a, b string) (float64, bool, error) {
	e.mu.RLock()
	matrix := e.matrix
	ea, okA := e.recipes[a]
	eb, okB := e.recipes[b]
	e.mu.RUnlock()

	if !okA {
		return 0, false, fmt.Errorf("%w: %q", ErrUnknownRecipe, a)
	}
	if !okB {
		return 0, false, fmt.Errorf("%w: %q", ErrUnknownRecipe, b)
	}
	return e.pairDistance(matrix, a, ea, b, eb)
}

// pairDistance computes or recalls one pairwise distance.
func (e *Engine) pairDistance(matrix *metric.Matrix, a string, ea recipeEntry, b string, eb recipeEntry) (float64, bool, error) {
	key := memoKey(matrix.Key(), a, ea.rev, b, eb.rev)
	if v, ok := e.memo.Get(key); ok {
		return v.distance, v.approximate, nil
	}

	res, err := e.solver.EMD(ea.comp, eb.comp, matrix)
	if err != nil {
		return 0, false, err
	}
	e.memo.Add(key, memoValue{distance: res.Distance, approximate: res.Approximate})
	return res.Distance, res.Approximate, nil
}

// memoKey builds the unordered pair key: the lexicographically smaller
// recipe goes first, so (a,b) and (b,a) share one entry.
func memoKey(matrixKey, a string, revA uint64, b string, revB uint64) string {
	if b < a {
		a, b = b, a
		revA, revB = revB, revA
	}
	return fmt.Sprintf("%s|%s@%d|%s@%d", matrixKey, a, revA, b, revB)
}

// Query returns the k nearest neighbors of recipeID, ascending by distance
// with ties broken by recipe id. The query recipe is never in its own
// results.
func (e *Engine) Query(ctx context.Context, recipeID string, k int, opts QueryOptions) ([]Neighbor, error) {
	e.mu.RLock()
	matrix := e.matrix
	query, ok := e.recipes[recipeID]
	candidates := e.candidateEntries(recipeID, opts)
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipe, recipeID)
	}
	if k <= 0 {
		return nil, nil
	}

	top := newTopK(k)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, approx, err := e.pairDistance(matrix, recipeID, query, cand.id, cand.entry)
		if err != nil {
			return nil, err
		}
		top.offer(Neighbor{RecipeID: cand.id, Distance: d, Approximate: approx})
	}
	return top.sorted(), nil
}

// QueryBatch answers one query per recipe id, sharding the work across
// workers. Each worker runs whole queries; results merge into a map keyed
// by query id. Workers stop at the first error or context cancellation.
func (e *Engine) QueryBatch(ctx context.Context, recipeIDs []string, k int, opts QueryOptions) (map[string][]Neighbor, error) {
	results := make([][]Neighbor, len(recipeIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, id := range recipeIDs {
		g.Go(func() error {
			neighbors, err := e.Query(ctx, id, k, opts)
			if err != nil {
				return err
			}
			results[i] = neighbors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]Neighbor, len(recipeIDs))
	for i, id := range recipeIDs {
		out[id] = results[i]
	}
	return out, nil
}

type candidate struct {
	id    string
	entry recipeEntry
}

// candidateEntries snapshots the filtered candidate set. Caller holds at
// least a read lock.
func (e *Engine) candidateEntries(exclude string, opts QueryOptions) []candidate {
	var ids []string
	if len(opts.Candidates) > 0 {
		ids = opts.Candidates
	} else {
		ids = make([]string, 0, len(e.recipes))
		for id := range e.recipes {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		entry, ok := e.recipes[id]
		if !ok {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(entry.tags, opts.Tags) {
			continue
		}
		out = append(out, candidate{id: id, entry: entry})
	}
	return out
}

func hasAnyTag(set map[string]struct{}, tags []string) bool {
	for _, tag := range tags {
		if _, ok := set[tag]; ok {
			return true
		}
	}
	return false
}

// topK is a bounded max-heap: the worst of the best k sits on top, so each
// candidate costs one comparison and at most one O(log k) fix-up.
type topK struct {
	k     int
	items neighborHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make(neighborHeap, 0, k)}
}

func (t *topK) offer(n Neighbor) {
	if len(t.items) < t.k {
		heap.Push(&t.items, n)
		return
	}
	if worse(t.items[0], n) {
		t.items[0] = n
		heap.Fix(&t.items, 0)
	}
}

// sorted pops the heap into ascending (distance, id) order.
func (t *topK) sorted() []Neighbor {
	out := make([]Neighbor, len(t.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.items).(Neighbor)
	}
	return out
}

// worse reports whether a ranks after b: larger distance, ties by larger id.
func worse(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.RecipeID > b.RecipeID
}

type neighborHeap []Neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
