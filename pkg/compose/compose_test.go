package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var barUnits = Conversions{
	"ml":   1,
	"cl":   10,
	"oz":   29.5735,
	"dash": 0.92,
}

func TestVectorize_NormalizesToOne(t *testing.T) {
	v := NewVectorizer(barUnits, Options{})

	c, err := v.Vectorize(Recipe{
		ID: "gin-tonic",
		Ingredients: []Line{
			{IngredientID: "gin", Amount: 5, Unit: "cl"},
			{IngredientID: "tonic", Amount: 150, Unit: "ml"},
		},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.25, c.Weight("gin"), 1e-12)
	assert.InDelta(t, 0.75, c.Weight("tonic"), 1e-12)

	sum := 0.0
	for _, w := range c.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestVectorize_UnitConversion(t *testing.T) {
	v := NewVectorizer(barUnits, Options{})

	// 1 cl of each: identical volumes regardless of the unit they came in.
	c, err := v.Vectorize(Recipe{
		ID: "equal",
		Ingredients: []Line{
			{IngredientID: "gin", Amount: 1, Unit: "cl"},
			{IngredientID: "vodka", Amount: 10, Unit: "ml"},
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, c.Weight("gin"), c.Weight("vodka"), 1e-12)
}

func TestVectorize_ZeroAmountDropped(t *testing.T) {
	v := NewVectorizer(barUnits, Options{})

	c, err := v.Vectorize(Recipe{
		ID: "r",
		Ingredients: []Line{
			{IngredientID: "gin", Amount: 50, Unit: "ml"},
			{IngredientID: "bitters", Amount: 0, Unit: "dash"},
			{IngredientID: "mystery", Amount: -3, Unit: "ml"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"gin"}, c.Support())
	assert.InDelta(t, 1.0, c.Weight("gin"), 1e-12)
}

func TestVectorize_DuplicateLinesAccumulate(t *testing.T) {
	v := NewVectorizer(barUnits, Options{})

	c, err := v.Vectorize(Recipe{
		ID: "layered",
		Ingredients: []Line{
			{IngredientID: "gin", Amount: 20, Unit: "ml"},
			{IngredientID: "gin", Amount: 30, Unit: "ml"},
			{IngredientID: "tonic", Amount: 50, Unit: "ml"},
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c.Weight("gin"), 1e-12)
}

func TestVectorize_NonPositiveTotal(t *testing.T) {
	v := NewVectorizer(barUnits, Options{})

	_, err := v.Vectorize(Recipe{
		ID:          "empty",
		Ingredients: []Line{{IngredientID: "gin", Amount: 0, Unit: "ml"}},
	})
	assert.ErrorIs(t, err, ErrComposition)
}

func TestVectorize_UnknownUnit(t *testing.T) {
	v := NewVectorizer(barUnits, Options{})

	_, err := v.Vectorize(Recipe{
		ID:          "r",
		Ingredients: []Line{{IngredientID: "gin", Amount: 1, Unit: "firkin"}},
	})
	assert.ErrorIs(t, err, ErrUnknownUnit)
}

func TestVectorize_UnknownIngredient(t *testing.T) {
	known := map[string]bool{"gin": true}
	v := NewVectorizer(barUnits, Options{
		KnownIngredient: func(id string) bool { return known[id] },
	})

	_, err := v.Vectorize(Recipe{
		ID:          "r",
		Ingredients: []Line{{IngredientID: "unicorn-tears", Amount: 1, Unit: "ml"}},
	})
	assert.ErrorIs(t, err, ErrComposition)
}

func TestVectorizeAll_Policies(t *testing.T) {
	recipes := []Recipe{
		{ID: "good", Ingredients: []Line{{IngredientID: "gin", Amount: 50, Unit: "ml"}}},
		{ID: "bad", Ingredients: []Line{{IngredientID: "gin", Amount: 0, Unit: "ml"}}},
		{ID: "also-good", Ingredients: []Line{{IngredientID: "tonic", Amount: 100, Unit: "ml"}}},
	}

	t.Run("strict aborts", func(t *testing.T) {
		v := NewVectorizer(barUnits, Options{})
		_, _, err := v.VectorizeAll(recipes)
		assert.ErrorIs(t, err, ErrComposition)
	})

	t.Run("lenient skips", func(t *testing.T) {
		v := NewVectorizer(barUnits, Options{Lenient: true})
		out, skipped, err := v.VectorizeAll(recipes)
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Len(t, skipped, 1)
		assert.ErrorIs(t, skipped[0], ErrComposition)
		assert.Equal(t, "good", out[0].RecipeID)
		assert.Equal(t, "also-good", out[1].RecipeID)
	})
}
