// Package engine wires the catalog, metric, solver, and corpus layers into
// one facade for embedding applications.
//
// The engine owns the rebuild discipline the lower layers only signal:
// setting a new catalog rebuilds the ingredient tree and the ground-distance
// matrix, swaps the matrix under the similarity engine, and re-vectorizes the
// stored recipe corpus against the new universe. Callers that want the
// layers individually can use the pkg/hierarchy, pkg/metric, pkg/transport,
// pkg/knn, pkg/subst, and pkg/pantry packages directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/barsmith/mixmetric/pkg/compose"
	"github.com/barsmith/mixmetric/pkg/config"
	"github.com/barsmith/mixmetric/pkg/hierarchy"
	"github.com/barsmith/mixmetric/pkg/knn"
	"github.com/barsmith/mixmetric/pkg/metric"
	"github.com/barsmith/mixmetric/pkg/pantry"
	"github.com/barsmith/mixmetric/pkg/snapshot"
	"github.com/barsmith/mixmetric/pkg/stats"
	"github.com/barsmith/mixmetric/pkg/subst"
	"github.com/barsmith/mixmetric/pkg/transport"
)

// ErrNoCatalog is returned by operations that need a catalog before one has
// been set.
var ErrNoCatalog = errors.New("engine: no catalog loaded")

type storedRecipe struct {
	recipe compose.Recipe
	tags   []string
}

// Engine is the top-level facade over the metric stack.
//
// All methods are safe for concurrent use. Catalog and recipe mutations take
// the write lock; queries run under the read lock against the current
// snapshot.
type Engine struct {
	cfg     config.Config
	builder *metric.Builder

	mu      sync.RWMutex
	learner *subst.Learner
	tree    *hierarchy.Tree
	matrix  *metric.Matrix
	conv    compose.Conversions
	recipes map[string]storedRecipe
	comps   map[string]compose.Composition
	knn     *knn.Engine
}

// New creates an Engine from a validated config. The engine starts empty;
// call SetCatalog before anything that needs a distance.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k, err := knn.New(nil, knn.Options{
		CacheSize: cfg.KNN.CacheSize,
		Solver:    transport.Options{ExactSupportLimit: cfg.Solver.ExactSupportLimit},
	})
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg: cfg,
		builder: metric.NewBuilder(metric.Options{
			Weight:      metric.DecayWeight(1, cfg.Metric.Decay),
			MaxDistance: cfg.Metric.MaxDistance,
		}),
		learner: subst.New(subst.Options{Smoothing: cfg.Learner.Smoothing}),
		conv:    compose.DefaultConversions(),
		recipes: make(map[string]storedRecipe),
		comps:   make(map[string]compose.Composition),
		knn:     k,
	}, nil
}

// SetConversions replaces the unit conversion table used when vectorizing
// recipes. Already-registered recipes keep the compositions they were
// vectorized with; re-upsert to reconvert.
func (e *Engine) SetConversions(conv compose.Conversions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := make(compose.Conversions, len(conv))
	for k, v := range conv {
		c[k] = v
	}
	e.conv = c
}

// SetCatalog replaces the ingredient catalog. The tree and ground-distance
// matrix are rebuilt, the similarity engine is pointed at the new matrix,
// and every stored recipe is re-vectorized against the new universe.
//
// In strict mode (Vectorizer.Lenient false) a stored recipe that no longer
// vectorizes fails the whole call and the previous catalog stays in effect.
// In lenient mode such recipes are dropped from the corpus and their errors
// returned joined, with the new catalog committed.
func (e *Engine) SetCatalog(records []hierarchy.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tree, err := hierarchy.Build(records, hierarchy.Options{})
	if err != nil {
		return fmt.Errorf("engine: catalog: %w", err)
	}
	matrix, err := e.builder.Build(tree, tree.IDs())
	if err != nil {
		return fmt.Errorf("engine: ground matrix: %w", err)
	}

	// Re-vectorize the corpus before committing anything so strict mode
	// can abort without side effects.
	vec := e.vectorizerFor(tree)
	comps := make(map[string]compose.Composition, len(e.recipes))
	var dropped []error
	for id, sr := range e.recipes {
		c, err := vec.Vectorize(sr.recipe)
		if err != nil {
			if !e.cfg.Vectorizer.Lenient {
				return fmt.Errorf("engine: recipe %q against new catalog: %w", id, err)
			}
			dropped = append(dropped, fmt.Errorf("recipe %q: %w", id, err))
			continue
		}
		comps[id] = c
	}

	e.tree = tree
	e.matrix = matrix
	e.knn.SetMatrix(matrix)
	for id := range e.recipes {
		if _, ok := comps[id]; !ok {
			delete(e.recipes, id)
			e.knn.Remove(id)
		}
	}
	e.comps = comps
	for id, c := range comps {
		e.knn.Upsert(c, e.recipes[id].tags...)
	}
	return errors.Join(dropped...)
}

// CatalogVersion returns the current catalog fingerprint, or "" before any
// catalog is set.
func (e *Engine) CatalogVersion() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tree == nil {
		return ""
	}
	return e.tree.Version()
}

// UpsertRecipe vectorizes and registers a recipe. A recipe seen for the
// first time is also fed to the substitution learner; replacing an existing
// one deliberately is not, so co-occurrence counts stay one observation per
// recipe id.
func (e *Engine) UpsertRecipe(r compose.Recipe, tags ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tree == nil {
		return ErrNoCatalog
	}
	c, err := e.vectorizerFor(e.tree).Vectorize(r)
	if err != nil {
		return err
	}
	_, seen := e.recipes[r.ID]
	e.recipes[r.ID] = storedRecipe{recipe: r, tags: append([]string(nil), tags...)}
	e.comps[r.ID] = c
	e.knn.Upsert(c, tags...)
	if !seen {
		e.learner.Update([]compose.Composition{c})
	}
	return nil
}

// RemoveRecipe drops a recipe from the corpus. Substitution counts already
// learned from it are kept; the learner accumulates observations, it does
// not mirror corpus membership.
func (e *Engine) RemoveRecipe(recipeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.recipes, recipeID)
	delete(e.comps, recipeID)
	e.knn.Remove(recipeID)
}

// RecipeIDs returns the registered recipe ids in sorted order.
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

// IngredientDistance returns the weighted tree distance between two
// ingredient ids under the current catalog.
func (e *Engine) IngredientDistance(a, b string) (float64, error) {
	e.mu.RLock()
	m := e.matrix
	e.mu.RUnlock()
	if m == nil {
		return 0, ErrNoCatalog
	}
	return m.Distance(a, b)
}

// RecipeDistance returns the earth mover's distance between two registered
// recipes. The bool reports whether the value came from the greedy
// approximation rather than the exact solver.
func (e *Engine) RecipeDistance(a, b string) (float64, bool, error) {
	return e.knn.Distance(a, b)
}

// Nearest returns the k most similar recipes to recipeID.
func (e *Engine) Nearest(ctx context.Context, recipeID string, k int, opts knn.QueryOptions) ([]knn.Neighbor, error) {
	return e.knn.Query(ctx, recipeID, k, opts)
}

// NearestBatch answers Nearest for several recipes concurrently.
func (e *Engine) NearestBatch(ctx context.Context, recipeIDs []string, k int, opts knn.QueryOptions) (map[string][]knn.Neighbor, error) {
	return e.knn.QueryBatch(ctx, recipeIDs, k, opts)
}

// CorpusMatrix computes the full pairwise recipe-distance matrix, the input
// for downstream embedding or clustering of the corpus.
func (e *Engine) CorpusMatrix(ctx context.Context) ([]string, [][]float64, error) {
	return e.knn.CorpusMatrix(ctx)
}

// SubstitutionScores returns the current substitution matrix snapshot.
func (e *Engine) SubstitutionScores() *subst.Matrix {
	e.mu.RLock()
	l := e.learner
	e.mu.RUnlock()
	return l.Scores()
}

// Substitutes returns the k highest-scoring substitution candidates for an
// ingredient.
func (e *Engine) Substitutes(ingredientID string, k int) []subst.Substitute {
	return e.SubstitutionScores().TopSubstitutes(ingredientID, k)
}

// Pantry estimates which registered recipes an ingredient inventory can
// produce.
func (e *Engine) Pantry(inv pantry.Inventory) pantry.Estimate {
	return pantry.Evaluate(inv, e.corpus())
}

// IngredientUsage reports per-ingredient usage statistics over the corpus.
func (e *Engine) IngredientUsage() []stats.Usage {
	return stats.IngredientUsage(e.corpus())
}

// RecipeComplexity reports per-recipe complexity statistics over the corpus.
func (e *Engine) RecipeComplexity() ([]stats.Complexity, error) {
	e.mu.RLock()
	m := e.matrix
	e.mu.RUnlock()
	if m == nil {
		return nil, ErrNoCatalog
	}
	return stats.RecipeComplexity(e.corpus(), m)
}

// SaveDistanceSnapshot persists the current ground-distance matrix to the
// store under snapshot.KindDistanceMatrix.
func (e *Engine) SaveDistanceSnapshot(ctx context.Context, store snapshot.Store) error {
	e.mu.RLock()
	m := e.matrix
	e.mu.RUnlock()
	if m == nil {
		return ErrNoCatalog
	}
	snap, err := snapshot.FromDistanceMatrix(m)
	if err != nil {
		return err
	}
	return store.Put(ctx, snapshot.KindDistanceMatrix, snap)
}

// LoadDistanceSnapshot restores a persisted ground-distance matrix and
// points the similarity engine at it. The store rejects snapshots whose
// catalog fingerprint no longer matches the current catalog with
// snapshot.ErrStale; call SetCatalog's rebuild path on that signal instead.
func (e *Engine) LoadDistanceSnapshot(ctx context.Context, store snapshot.Store) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tree == nil {
		return ErrNoCatalog
	}
	snap, err := store.Load(ctx, snapshot.KindDistanceMatrix, e.tree.Version())
	if err != nil {
		return err
	}
	data, err := snapshot.DecodeDistanceMatrix(snap)
	if err != nil {
		return err
	}
	m, err := metric.Restore(snap.BuiltFromCatalogHash, data.IDs, data.Data)
	if err != nil {
		return err
	}
	e.matrix = m
	e.knn.SetMatrix(m)
	return nil
}

// SaveSubstitutionSnapshot persists the current substitution matrix counts
// under snapshot.KindSubstitutionMatrix, stamped with the current catalog
// fingerprint.
func (e *Engine) SaveSubstitutionSnapshot(ctx context.Context, store snapshot.Store) error {
	hash := e.CatalogVersion()
	if hash == "" {
		return ErrNoCatalog
	}
	snap, err := snapshot.FromSubstitutionMatrix(e.SubstitutionScores(), hash)
	if err != nil {
		return err
	}
	return store.Put(ctx, snapshot.KindSubstitutionMatrix, snap)
}

// LoadSubstitutionSnapshot restores persisted substitution counts,
// replacing whatever the learner has accumulated this run. The configured
// smoothing applies to the restored counts; it is not persisted.
func (e *Engine) LoadSubstitutionSnapshot(ctx context.Context, store snapshot.Store) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tree == nil {
		return ErrNoCatalog
	}
	snap, err := store.Load(ctx, snapshot.KindSubstitutionMatrix, e.tree.Version())
	if err != nil {
		return err
	}
	data, err := snapshot.DecodeSubstitutionMatrix(snap)
	if err != nil {
		return err
	}
	e.learner = subst.Restore(subst.Options{Smoothing: e.cfg.Learner.Smoothing},
		data.Recipes, data.Pairs, data.Marginals)
	return nil
}

func (e *Engine) vectorizerFor(tree *hierarchy.Tree) *compose.Vectorizer {
	return compose.NewVectorizer(e.conv, compose.Options{
		Lenient:         e.cfg.Vectorizer.Lenient,
		KnownIngredient: tree.Contains,
	})
}

// corpus returns the compositions sorted by recipe id, the order the stats
// and pantry layers expect to be stable.
func (e *Engine) corpus() []compose.Composition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]compose.Composition, 0, len(e.comps))
	for _, c := range e.comps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipeID < out[j].RecipeID })
	return out
}
