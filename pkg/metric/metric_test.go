package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barsmith/mixmetric/pkg/hierarchy"
)

func barTree(t *testing.T) *hierarchy.Tree {
	t.Helper()
	tree, err := hierarchy.Build([]hierarchy.Record{
		{ID: "root", Name: "Everything"},
		{ID: "spirit", Name: "Spirit", ParentID: "root"},
		{ID: "gin", Name: "Gin", ParentID: "spirit"},
		{ID: "vodka", Name: "Vodka", ParentID: "spirit"},
		{ID: "mixer", Name: "Mixer", ParentID: "root"},
		{ID: "tonic", Name: "Tonic Water", ParentID: "mixer"},
	}, hierarchy.Options{})
	require.NoError(t, err)
	return tree
}

func TestDistance_Identity(t *testing.T) {
	m := New(barTree(t), Options{})
	for _, id := range []string{"root", "spirit", "gin", "tonic"} {
		d, err := m.Distance(id, id)
		require.NoError(t, err)
		assert.Zero(t, d, "distance(%s, %s)", id, id)
	}
}

func TestDistance_Symmetry(t *testing.T) {
	m := New(barTree(t), Options{})
	ids := []string{"root", "spirit", "gin", "vodka", "mixer", "tonic"}
	for _, a := range ids {
		for _, b := range ids {
			ab, err := m.Distance(a, b)
			require.NoError(t, err)
			ba, err := m.Distance(b, a)
			require.NoError(t, err)
			assert.Equal(t, ab, ba, "distance(%s,%s) != distance(%s,%s)", a, b, b, a)
		}
	}
}

// Siblings under a deep specific category must be closer than items that
// only meet at a broad one.
func TestDistance_DeepAncestorCloser(t *testing.T) {
	m := New(barTree(t), Options{})

	ginVodka, err := m.Distance("gin", "vodka")
	require.NoError(t, err)
	ginTonic, err := m.Distance("gin", "tonic")
	require.NoError(t, err)

	assert.Less(t, ginVodka, ginTonic)
}

func TestDistance_DefaultDecayValues(t *testing.T) {
	m := New(barTree(t), Options{})

	// gin and vodka meet at spirit: two depth-2 edges of 0.5 each.
	d, err := m.Distance("gin", "vodka")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-12)

	// gin and tonic meet at root: (0.5+1.0) up + (0.5+1.0) up.
	d, err = m.Distance("gin", "tonic")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, d, 1e-12)
}

func TestDistance_Disconnected(t *testing.T) {
	tree, err := hierarchy.Build([]hierarchy.Record{
		{ID: "spirit"},
		{ID: "gin", ParentID: "spirit"},
		{ID: "garnish"},
		{ID: "lime", ParentID: "garnish"},
	}, hierarchy.Options{})
	require.NoError(t, err)

	m := New(tree, Options{MaxDistance: 42})
	d, err := m.Distance("gin", "lime")
	require.NoError(t, err)
	assert.Equal(t, 42.0, d)
}

func TestDistance_UnknownIngredient(t *testing.T) {
	m := New(barTree(t), Options{})
	_, err := m.Distance("gin", "absinthe")
	assert.ErrorIs(t, err, ErrUnknownIngredient)
}

func TestDistance_InjectableWeight(t *testing.T) {
	m := New(barTree(t), Options{Weight: UniformWeight(1)})

	// Uniform weights reduce to hop count.
	d, err := m.Distance("gin", "tonic")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, d, 1e-12)
}

func TestBuilder_MatrixMatchesPairwise(t *testing.T) {
	tree := barTree(t)
	b := NewBuilder(Options{})
	m := New(tree, Options{})

	ids := []string{"gin", "vodka", "tonic", "spirit"}
	matrix, err := b.Build(tree, ids)
	require.NoError(t, err)
	require.Equal(t, 4, matrix.Len())

	for _, a := range ids {
		for _, c := range ids {
			want, err := m.Distance(a, c)
			require.NoError(t, err)
			got, err := matrix.Distance(a, c)
			require.NoError(t, err)
			assert.InDelta(t, want, got, 1e-12, "matrix(%s,%s)", a, c)
		}
	}
}

func TestBuilder_SymmetricZeroDiagonal(t *testing.T) {
	tree := barTree(t)
	matrix, err := NewBuilder(Options{}).Build(tree, tree.IDs())
	require.NoError(t, err)

	n := matrix.Len()
	for i := 0; i < n; i++ {
		assert.Zero(t, matrix.At(i, i))
		for j := 0; j < n; j++ {
			assert.Equal(t, matrix.At(i, j), matrix.At(j, i))
		}
	}
}

func TestBuilder_CacheHit(t *testing.T) {
	tree := barTree(t)
	b := NewBuilder(Options{})

	m1, err := b.Build(tree, []string{"gin", "vodka"})
	require.NoError(t, err)
	// Same universe in a different order must hit the same snapshot.
	m2, err := b.Build(tree, []string{"vodka", "gin"})
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	hits, misses := b.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestBuilder_Append(t *testing.T) {
	tree := barTree(t)
	b := NewBuilder(Options{})

	base, err := b.Build(tree, []string{"gin", "vodka"})
	require.NoError(t, err)

	grown, err := b.Append(tree, base, "tonic")
	require.NoError(t, err)
	require.Equal(t, 3, grown.Len())

	// Old entries survive, the appended row matches a fresh pairwise compute.
	m := New(tree, Options{})
	for _, a := range []string{"gin", "vodka", "tonic"} {
		for _, c := range []string{"gin", "vodka", "tonic"} {
			want, err := m.Distance(a, c)
			require.NoError(t, err)
			got, err := grown.Distance(a, c)
			require.NoError(t, err)
			assert.InDelta(t, want, got, 1e-12, "grown(%s,%s)", a, c)
		}
	}

	// Appending an already present id is a no-op returning the same snapshot.
	same, err := b.Append(tree, grown, "gin")
	require.NoError(t, err)
	assert.Same(t, grown, same)
}

func TestBuilder_AppendStaleTree(t *testing.T) {
	tree := barTree(t)
	b := NewBuilder(Options{})
	base, err := b.Build(tree, []string{"gin", "vodka"})
	require.NoError(t, err)

	changed, err := hierarchy.Build([]hierarchy.Record{
		{ID: "spirit"},
		{ID: "gin", ParentID: "spirit"},
		{ID: "vodka", ParentID: "spirit"},
		{ID: "rum", ParentID: "spirit"},
	}, hierarchy.Options{})
	require.NoError(t, err)

	_, err = b.Append(changed, base, "rum")
	assert.ErrorIs(t, err, ErrStaleMatrix)
}

// Matrices over the same catalog and universe but different edge pricing
// must never share a key, or downstream caches keyed on it would serve
// distances computed against the wrong weighting.
func TestMatrix_KeyReflectsWeighting(t *testing.T) {
	tree := barTree(t)

	decay, err := NewBuilder(Options{}).Build(tree, tree.IDs())
	require.NoError(t, err)
	uniform, err := NewBuilder(Options{Weight: UniformWeight(1)}).Build(tree, tree.IDs())
	require.NoError(t, err)

	assert.Equal(t, decay.TreeVersion(), uniform.TreeVersion())
	assert.NotEqual(t, decay.Key(), uniform.Key())

	// Equal pricing from an independent builder converges on the same key.
	again, err := NewBuilder(Options{}).Build(tree, tree.IDs())
	require.NoError(t, err)
	assert.Equal(t, decay.Key(), again.Key())
}

func TestRestore_KeyMatchesBuilt(t *testing.T) {
	tree := barTree(t)
	built, err := NewBuilder(Options{}).Build(tree, tree.IDs())
	require.NoError(t, err)

	n := built.Len()
	data := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data = append(data, built.At(i, j))
		}
	}

	restored, err := Restore(built.TreeVersion(), built.IDs(), data)
	require.NoError(t, err)
	assert.Equal(t, built.Key(), restored.Key())
}
