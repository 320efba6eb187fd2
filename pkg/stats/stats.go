// Package stats derives corpus-level aggregates consumed by the analytics
// surface: which ingredients carry the catalog, and how complex each recipe
// is.
package stats

import (
	"math"
	"sort"

	"github.com/barsmith/mixmetric/pkg/compose"
	"github.com/barsmith/mixmetric/pkg/metric"
)

// Usage aggregates one ingredient across the corpus.
type Usage struct {
	IngredientID string

	// Recipes is the number of recipes the ingredient appears in.
	Recipes int

	// MeanWeight is the ingredient's average composition weight across the
	// recipes it appears in.
	MeanWeight float64
}

// IngredientUsage aggregates usage over a corpus, ordered by descending
// recipe count with ties broken by ingredient id.
func IngredientUsage(corpus []compose.Composition) []Usage {
	counts := make(map[string]int)
	weightSums := make(map[string]float64)
	for _, c := range corpus {
		for id, w := range c.Weights {
			counts[id]++
			weightSums[id] += w
		}
	}

	out := make([]Usage, 0, len(counts))
	for id, n := range counts {
		out = append(out, Usage{
			IngredientID: id,
			Recipes:      n,
			MeanWeight:   weightSums[id] / float64(n),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Recipes != out[j].Recipes {
			return out[i].Recipes > out[j].Recipes
		}
		return out[i].IngredientID < out[j].IngredientID
	})
	return out
}

// Complexity describes one recipe's structural complexity.
type Complexity struct {
	RecipeID string

	// Ingredients is the support size.
	Ingredients int

	// Entropy is the Shannon entropy of the composition in nats. A recipe
	// dominated by one ingredient scores near zero; an even split over many
	// scores high.
	Entropy float64

	// MeanPairDistance averages the ground distance over all distinct
	// ingredient pairs in the recipe. Zero for single-ingredient recipes.
	MeanPairDistance float64
}

// RecipeComplexity computes per-recipe complexity over a corpus, ordered by
// recipe id.
func RecipeComplexity(corpus []compose.Composition, ground *metric.Matrix) ([]Complexity, error) {
	out := make([]Complexity, 0, len(corpus))
	for _, c := range corpus {
		support := c.Support()

		entropy := 0.0
		for _, w := range c.Weights {
			if w > 0 {
				entropy -= w * math.Log(w)
			}
		}

		meanDist := 0.0
		if len(support) > 1 {
			sum, pairs := 0.0, 0
			for i, a := range support {
				for _, b := range support[i+1:] {
					d, err := ground.Distance(a, b)
					if err != nil {
						return nil, err
					}
					sum += d
					pairs++
				}
			}
			meanDist = sum / float64(pairs)
		}

		out = append(out, Complexity{
			RecipeID:         c.RecipeID,
			Ingredients:      len(support),
			Entropy:          entropy,
			MeanPairDistance: meanDist,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipeID < out[j].RecipeID })
	return out, nil
}
