package subst

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barsmith/mixmetric/pkg/compose"
)

// recipeWith builds a unit-weight composition over the given ingredients.
func recipeWith(id string, ingredients ...string) compose.Composition {
	w := make(map[string]float64, len(ingredients))
	for _, ing := range ingredients {
		w[ing] = 1.0 / float64(len(ingredients))
	}
	return compose.Composition{RecipeID: id, Weights: w}
}

// corpus where gin and tonic co-occur in 9 of 10 recipes, while each
// appears alone often enough that independence predicts far less.
func ginTonicCorpus() []compose.Composition {
	var batch []compose.Composition
	for i := 0; i < 9; i++ {
		batch = append(batch, recipeWith(fmt.Sprintf("gt-%d", i), "gin", "tonic"))
	}
	batch = append(batch, recipeWith("solo", "vodka"))
	return batch
}

func TestScore_CooccurringPairPositive(t *testing.T) {
	l := New(Options{})
	l.Update(ginTonicCorpus())

	m := l.Scores()
	assert.Positive(t, m.Score("gin", "tonic"))
}

func TestScore_Symmetric(t *testing.T) {
	l := New(Options{})
	l.Update(ginTonicCorpus())

	m := l.Scores()
	assert.Equal(t, m.Score("gin", "tonic"), m.Score("tonic", "gin"))
}

func TestScore_UnseenPairFiniteNegative(t *testing.T) {
	l := New(Options{})
	l.Update(ginTonicCorpus())

	m := l.Scores()
	s := m.Score("gin", "vodka")
	assert.False(t, s > 0, "never co-occurring pair must not score positive")
	assert.False(t, s != s, "smoothing must keep unseen pairs finite") // NaN guard
}

// Holding everything else fixed, more co-occurrence must strictly raise the
// score.
func TestScore_MonotonicInCooccurrence(t *testing.T) {
	prev := -1e18
	for cooc := 1; cooc <= 5; cooc++ {
		l := New(Options{})
		var batch []compose.Composition
		for i := 0; i < cooc; i++ {
			batch = append(batch, recipeWith(fmt.Sprintf("both-%d", i), "gin", "tonic"))
		}
		// Pad so marginals and corpus size stay identical across runs:
		// every recipe contains gin and tonic, only togetherness varies.
		for i := cooc; i < 5; i++ {
			batch = append(batch,
				recipeWith(fmt.Sprintf("gin-only-%d", i), "gin"),
				recipeWith(fmt.Sprintf("tonic-only-%d", i), "tonic"))
		}
		l.Update(batch)

		s := l.Scores().Score("gin", "tonic")
		assert.Greater(t, s, prev, "cooc=%d", cooc)
		prev = s
	}
}

func TestUpdate_IncrementalMergeEqualsBulk(t *testing.T) {
	corpus := ginTonicCorpus()

	bulk := New(Options{})
	bulk.Update(corpus)

	incremental := New(Options{})
	incremental.Update(corpus[:4])
	incremental.Update(corpus[4:7])
	incremental.Update(corpus[7:])

	bm, im := bulk.Scores(), incremental.Scores()
	require.Equal(t, bm.Recipes(), im.Recipes())
	for _, a := range bm.Ingredients() {
		for _, b := range bm.Ingredients() {
			assert.InDelta(t, bm.Score(a, b), im.Score(a, b), 1e-12, "score(%s,%s)", a, b)
		}
	}
}

func TestScores_SnapshotImmutable(t *testing.T) {
	l := New(Options{})
	l.Update(ginTonicCorpus())

	snap := l.Scores()
	before := snap.Score("gin", "tonic")
	version := snap.Version()

	// Further updates produce a new snapshot; the old one is frozen.
	l.Update([]compose.Composition{recipeWith("extra", "gin", "cola")})

	assert.Equal(t, before, snap.Score("gin", "tonic"))
	assert.Equal(t, version, snap.Version())

	fresh := l.Scores()
	assert.Greater(t, fresh.Version(), version)
	assert.NotEqual(t, before, fresh.Score("gin", "tonic"))
}

func TestScores_CachedBetweenUpdates(t *testing.T) {
	l := New(Options{})
	l.Update(ginTonicCorpus())

	assert.Same(t, l.Scores(), l.Scores())
}

func TestTopSubstitutes(t *testing.T) {
	l := New(Options{})
	batch := []compose.Composition{
		recipeWith("r1", "gin", "tonic"),
		recipeWith("r2", "gin", "tonic"),
		recipeWith("r3", "gin", "lime"),
		recipeWith("r4", "vodka", "cola"),
	}
	l.Update(batch)

	top := l.Scores().TopSubstitutes("gin", 2)
	require.Len(t, top, 2)
	assert.Equal(t, "tonic", top[0].IngredientID, "strongest co-occurrence ranks first")
	assert.GreaterOrEqual(t, top[0].Score, top[1].Score)
}

func TestEmptyLearner(t *testing.T) {
	l := New(Options{})
	m := l.Scores()
	assert.Zero(t, m.Score("gin", "tonic"))
	assert.Empty(t, m.TopSubstitutes("gin", 5))
}

func TestPairCounts_SortedAndComplete(t *testing.T) {
	l := New(Options{})
	l.Update(ginTonicCorpus())
	m := l.Scores()

	pcs := m.PairCounts()
	require.NotEmpty(t, pcs)
	for i, pc := range pcs {
		assert.Less(t, pc.A, pc.B)
		assert.Equal(t, pc.Count, m.Count(pc.A, pc.B))
		if i > 0 {
			prev := pcs[i-1]
			assert.True(t, prev.A < pc.A || (prev.A == pc.A && prev.B < pc.B),
				"pair counts out of order at %d", i)
		}
	}
}

func TestRestore_ScoresMatchOriginal(t *testing.T) {
	l := New(Options{})
	l.Update(ginTonicCorpus())
	orig := l.Scores()

	marginals := make(map[string]int64)
	for _, id := range orig.Ingredients() {
		marginals[id] = orig.Marginal(id)
	}
	restored := Restore(Options{}, orig.Recipes(), orig.PairCounts(), marginals).Scores()

	assert.Equal(t, orig.Recipes(), restored.Recipes())
	for _, a := range orig.Ingredients() {
		for _, b := range orig.Ingredients() {
			assert.InDelta(t, orig.Score(a, b), restored.Score(a, b), 1e-12)
		}
	}
}
