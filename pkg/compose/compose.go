// Package compose converts recipes into normalized ingredient distributions.
//
// A recipe arrives as a list of (ingredient, amount, unit) lines. Vectorize
// converts every amount to a common base unit through a caller-supplied
// conversion table, then divides by the total so the weights sum to exactly
// 1. The result is the recipe's composition: the distribution the transport
// solver moves mass over.
//
// Recipes with garbage amounts (nothing positive after conversion, or lines
// referencing ingredients the catalog does not know) are rejected in strict
// mode and skipped in lenient mode, so one broken recipe cannot poison a
// corpus-wide batch.
package compose

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrComposition marks a recipe that cannot be normalized: non-positive
	// total volume or an unknown ingredient reference.
	ErrComposition = errors.New("compose: recipe cannot be vectorized")

	// ErrUnknownUnit marks an amount whose unit is missing from the
	// conversion table.
	ErrUnknownUnit = errors.New("compose: unknown unit")
)

// Line is one ingredient entry of a recipe.
type Line struct {
	IngredientID string  `json:"ingredient_id" yaml:"ingredient_id"`
	Amount       float64 `json:"amount" yaml:"amount"`
	Unit         string  `json:"unit" yaml:"unit"`
}

// Recipe is the input row shape consumed from external storage.
type Recipe struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Ingredients []Line   `json:"ingredients" yaml:"ingredients"`
}

// Conversions maps a unit name to its factor into the common base unit,
// e.g. {"ml": 1, "cl": 10, "oz": 29.5735, "dash": 0.92}.
type Conversions map[string]float64

// Composition is a recipe embedded as a distribution over ingredients.
// Weights are strictly positive and sum to 1; zero-amount lines are dropped.
type Composition struct {
	RecipeID string
	Weights  map[string]float64
}

// Support returns the ingredient ids with positive weight, sorted. The
// sorted order is what downstream tie-breaking rules key on.
func (c Composition) Support() []string {
	ids := make([]string, 0, len(c.Weights))
	for id := range c.Weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Weight returns the normalized weight for id (zero when absent).
func (c Composition) Weight(id string) float64 { return c.Weights[id] }

// Options configures a Vectorizer.
type Options struct {
	// Lenient makes batch vectorization skip unusable recipes instead of
	// failing the whole batch. Single-recipe Vectorize always errors.
	Lenient bool

	// KnownIngredient, when set, rejects lines referencing ids it returns
	// false for. Typically tree.Contains of the current catalog.
	KnownIngredient func(id string) bool
}

// DefaultConversions covers the units bar recipes are commonly written in,
// normalized to milliliters. The empty unit means the amount is already in
// the common unit.
func DefaultConversions() Conversions {
	return Conversions{
		"":     1,
		"ml":   1,
		"cl":   10,
		"oz":   29.5735,
		"dash": 0.92,
		"tsp":  4.93,
		"tbsp": 14.79,
	}
}

// Vectorizer turns recipes into compositions using one conversion table.
// It is stateless beyond its configuration and safe for concurrent use.
type Vectorizer struct {
	conv Conversions
	opts Options
}

// NewVectorizer creates a Vectorizer over the supplied unit table.
func NewVectorizer(conv Conversions, opts Options) *Vectorizer {
	return &Vectorizer{conv: conv, opts: opts}
}

// Vectorize converts one recipe to its composition.
//
// Each line's amount is multiplied by its unit factor; lines with zero or
// negative amounts contribute nothing. Duplicate ingredient lines (e.g. gin
// in two steps) accumulate. Fails with ErrComposition when the total volume
// is not positive or a line references an unknown ingredient, and with
// ErrUnknownUnit for units missing from the table.
func (v *Vectorizer) Vectorize(r Recipe) (Composition, error) {
	volumes := make(map[string]float64, len(r.Ingredients))
	total := 0.0

	for _, line := range r.Ingredients {
		if v.opts.KnownIngredient != nil && !v.opts.KnownIngredient(line.IngredientID) {
			return Composition{}, fmt.Errorf("%w: recipe %q references unknown ingredient %q",
				ErrComposition, r.ID, line.IngredientID)
		}
		if line.Amount <= 0 {
			continue
		}
		factor, ok := v.conv[line.Unit]
		if !ok {
			return Composition{}, fmt.Errorf("%w: recipe %q unit %q", ErrUnknownUnit, r.ID, line.Unit)
		}
		vol := line.Amount * factor
		volumes[line.IngredientID] += vol
		total += vol
	}

	if total <= 0 {
		return Composition{}, fmt.Errorf("%w: recipe %q has non-positive total volume", ErrComposition, r.ID)
	}

	weights := make(map[string]float64, len(volumes))
	for id, vol := range volumes {
		weights[id] = vol / total
	}
	return Composition{RecipeID: r.ID, Weights: weights}, nil
}

// VectorizeAll converts a recipe corpus. In strict mode the first unusable
// recipe aborts the batch; in lenient mode it is skipped and reported in the
// returned skip list so callers can log it.
func (v *Vectorizer) VectorizeAll(recipes []Recipe) ([]Composition, []error, error) {
	out := make([]Composition, 0, len(recipes))
	var skipped []error

	for _, r := range recipes {
		c, err := v.Vectorize(r)
		if err != nil {
			if v.opts.Lenient {
				skipped = append(skipped, err)
				continue
			}
			return nil, nil, err
		}
		out = append(out, c)
	}
	return out, skipped, nil
}
