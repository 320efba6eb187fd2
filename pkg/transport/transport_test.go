package transport

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barsmith/mixmetric/pkg/compose"
	"github.com/barsmith/mixmetric/pkg/hierarchy"
	"github.com/barsmith/mixmetric/pkg/metric"
)

func groundMatrix(t *testing.T) *metric.Matrix {
	t.Helper()
	tree, err := hierarchy.Build([]hierarchy.Record{
		{ID: "root"},
		{ID: "spirit", ParentID: "root"},
		{ID: "gin", ParentID: "spirit"},
		{ID: "vodka", ParentID: "spirit"},
		{ID: "rum", ParentID: "spirit"},
		{ID: "mixer", ParentID: "root"},
		{ID: "tonic", ParentID: "mixer"},
		{ID: "cola", ParentID: "mixer"},
	}, hierarchy.Options{})
	require.NoError(t, err)

	m, err := metric.NewBuilder(metric.Options{}).Build(tree, tree.IDs())
	require.NoError(t, err)
	return m
}

func comp(id string, weights map[string]float64) compose.Composition {
	return compose.Composition{RecipeID: id, Weights: weights}
}

func TestEMD_IdenticalIsZero(t *testing.T) {
	ground := groundMatrix(t)
	s := NewSolver(Options{})

	a := comp("a", map[string]float64{"gin": 0.5, "tonic": 0.5})
	b := comp("b", map[string]float64{"gin": 0.5, "tonic": 0.5})

	res, err := s.EMD(a, b, ground)
	require.NoError(t, err)
	assert.Zero(t, res.Distance)
	assert.False(t, res.Approximate)
}

// Moving all mass from one ingredient to another must cost exactly the
// ground distance between them.
func TestEMD_SingletonSupports(t *testing.T) {
	ground := groundMatrix(t)
	s := NewSolver(Options{})

	d, err := ground.Distance("gin", "vodka")
	require.NoError(t, err)

	res, err := s.EMD(
		comp("a", map[string]float64{"gin": 1}),
		comp("b", map[string]float64{"vodka": 1}),
		ground,
	)
	require.NoError(t, err)
	assert.InDelta(t, d, res.Distance, 1e-12)
	assert.False(t, res.Approximate)
}

func TestEMD_PartialOverlap(t *testing.T) {
	ground := groundMatrix(t)
	s := NewSolver(Options{})

	// Only the gin half has to travel, along the gin->vodka hop.
	ginVodka, err := ground.Distance("gin", "vodka")
	require.NoError(t, err)

	res, err := s.EMD(
		comp("gt", map[string]float64{"gin": 0.5, "tonic": 0.5}),
		comp("vt", map[string]float64{"vodka": 0.5, "tonic": 0.5}),
		ground,
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*ginVodka, res.Distance, 1e-9)
}

func TestEMD_Symmetry(t *testing.T) {
	ground := groundMatrix(t)
	s := NewSolver(Options{})
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		a := randomComposition(rng, ground.IDs())
		b := randomComposition(rng, ground.IDs())

		ab, err := s.EMD(a, b, ground)
		require.NoError(t, err)
		ba, err := s.EMD(b, a, ground)
		require.NoError(t, err)
		assert.InDelta(t, ab.Distance, ba.Distance, 1e-9, "trial %d", trial)
	}
}

// Tree path distances form a true metric, so the transport distance over
// them must satisfy the triangle inequality.
func TestEMD_TriangleInequality(t *testing.T) {
	ground := groundMatrix(t)
	s := NewSolver(Options{})
	rng := rand.New(rand.NewSource(11))

	for trial := 0; trial < 50; trial++ {
		x := randomComposition(rng, ground.IDs())
		y := randomComposition(rng, ground.IDs())
		z := randomComposition(rng, ground.IDs())

		xz, err := s.EMD(x, z, ground)
		require.NoError(t, err)
		xy, err := s.EMD(x, y, ground)
		require.NoError(t, err)
		yz, err := s.EMD(y, z, ground)
		require.NoError(t, err)

		assert.LessOrEqual(t, xz.Distance, xy.Distance+yz.Distance+1e-9, "trial %d", trial)
	}
}

func TestEMD_Deterministic(t *testing.T) {
	ground := groundMatrix(t)
	s := NewSolver(Options{KeepPlan: true})

	a := comp("a", map[string]float64{"gin": 0.3, "rum": 0.3, "tonic": 0.4})
	b := comp("b", map[string]float64{"vodka": 0.5, "cola": 0.5})

	first, err := s.EMD(a, b, ground)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.EMD(a, b, ground)
		require.NoError(t, err)
		assert.Equal(t, first.Distance, again.Distance)
		assert.Equal(t, first.Plan, again.Plan)
	}
}

func TestEMD_PlanMassConservation(t *testing.T) {
	ground := groundMatrix(t)
	s := NewSolver(Options{KeepPlan: true})

	a := comp("a", map[string]float64{"gin": 0.6, "tonic": 0.4})
	b := comp("b", map[string]float64{"vodka": 0.2, "cola": 0.8})

	res, err := s.EMD(a, b, ground)
	require.NoError(t, err)
	require.NotEmpty(t, res.Plan)

	rowSum := make(map[string]float64)
	colSum := make(map[string]float64)
	for _, f := range res.Plan {
		assert.Positive(t, f.Amount)
		rowSum[f.From] += f.Amount
		colSum[f.To] += f.Amount
	}
	for id, w := range a.Weights {
		assert.InDelta(t, w, rowSum[id], 1e-9, "outflow of %s", id)
	}
	for id, w := range b.Weights {
		assert.InDelta(t, w, colSum[id], 1e-9, "inflow of %s", id)
	}
}

func TestEMD_GreedyFallback(t *testing.T) {
	ground := groundMatrix(t)
	exact := NewSolver(Options{})
	greedy := NewSolver(Options{ExactSupportLimit: 2})

	a := comp("a", map[string]float64{"gin": 0.3, "rum": 0.3, "tonic": 0.4})
	b := comp("b", map[string]float64{"vodka": 0.5, "cola": 0.5})

	want, err := exact.EMD(a, b, ground)
	require.NoError(t, err)
	require.False(t, want.Approximate)

	got, err := greedy.EMD(a, b, ground)
	require.NoError(t, err)
	assert.True(t, got.Approximate, "over-limit supports must be flagged approximate")

	// Greedy never beats the optimum and should stay in its neighborhood.
	assert.GreaterOrEqual(t, got.Distance, want.Distance-1e-9)
	assert.LessOrEqual(t, got.Distance, 2*want.Distance+1e-9)
}

func TestEMD_ExactMatchesGreedyOnSingletons(t *testing.T) {
	ground := groundMatrix(t)
	greedy := NewSolver(Options{ExactSupportLimit: 2})

	// Disjoint singleton supports have only one possible plan; exact and
	// greedy must agree to the last bit.
	res, err := greedy.EMD(
		comp("a", map[string]float64{"gin": 0.5, "vodka": 0.5}),
		comp("b", map[string]float64{"tonic": 0.4, "cola": 0.3, "rum": 0.3}),
		ground,
	)
	require.NoError(t, err)
	assert.True(t, res.Approximate)
	assert.Positive(t, res.Distance)
}

func TestEMD_UnknownIngredient(t *testing.T) {
	ground := groundMatrix(t)
	s := NewSolver(Options{})

	_, err := s.EMD(
		comp("a", map[string]float64{"absinthe": 1}),
		comp("b", map[string]float64{"gin": 1}),
		ground,
	)
	assert.ErrorIs(t, err, metric.ErrUnknownIngredient)
}

// randomComposition draws a random distribution over a random subset of ids.
func randomComposition(rng *rand.Rand, ids []string) compose.Composition {
	support := 1 + rng.Intn(len(ids)-1)
	perm := rng.Perm(len(ids))

	weights := make(map[string]float64, support)
	total := 0.0
	for _, k := range perm[:support] {
		w := rng.Float64() + 0.01
		weights[ids[k]] = w
		total += w
	}
	for id := range weights {
		weights[id] /= total
	}
	return compose.Composition{RecipeID: "rand", Weights: weights}
}
