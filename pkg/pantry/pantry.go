// Package pantry estimates how many recipes a partial inventory can make.
//
// The inventory maps each ingredient to a presence probability: 1 for
// bottles on the shelf, 0 for known-empty, anything between for "probably
// still have some". A recipe's match probability is the product of the
// presence probabilities of its required ingredients, and the corpus-wide
// expected match count is the sum of per-recipe probabilities.
//
// Ingredient presences are treated as independent. That is a deliberate
// simplification (running low on gin says nothing about the tonic) and
// callers ranking shopping lists on these numbers should treat them as
// estimates, not truths.
package pantry

import (
	"sort"

	"github.com/barsmith/mixmetric/pkg/compose"
)

// Inventory maps ingredient id to presence probability. Missing entries
// count as 0; values outside [0, 1] are clamped.
type Inventory map[string]float64

// RecipeMatch is one recipe's makeability estimate.
type RecipeMatch struct {
	RecipeID    string
	Probability float64

	// Missing lists required ingredients with zero presence, sorted.
	Missing []string
}

// Estimate is the corpus-wide result.
type Estimate struct {
	// Recipes is ordered by descending probability, ties by recipe id.
	Recipes []RecipeMatch

	// ExpectedMatches is the sum of per-recipe probabilities: the expected
	// number of recipes the inventory can produce.
	ExpectedMatches float64
}

// Evaluate scores every recipe in the corpus against the inventory.
func Evaluate(inv Inventory, corpus []compose.Composition) Estimate {
	est := Estimate{Recipes: make([]RecipeMatch, 0, len(corpus))}

	for _, c := range corpus {
		match := RecipeMatch{RecipeID: c.RecipeID, Probability: 1}
		for _, id := range c.Support() {
			p := clamp01(inv[id])
			match.Probability *= p
			if p == 0 {
				match.Missing = append(match.Missing, id)
			}
		}
		est.ExpectedMatches += match.Probability
		est.Recipes = append(est.Recipes, match)
	}

	sort.Slice(est.Recipes, func(i, j int) bool {
		a, b := est.Recipes[i], est.Recipes[j]
		if a.Probability != b.Probability {
			return a.Probability > b.Probability
		}
		return a.RecipeID < b.RecipeID
	})
	return est
}

func clamp01(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
