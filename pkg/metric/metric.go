// Package metric derives a weighted distance over the ingredient hierarchy.
//
// The distance between two ingredients is the cost of the path from one up
// to their lowest common ancestor and back down to the other. Each edge is
// priced by the depth of its child endpoint through a decay curve: edges
// near the top of the tree (Spirit vs Mixer) are expensive, edges deep in
// the tree (London Dry vs Old Tom gin) are cheap. Two ingredients sharing a
// deep, specific ancestor therefore end up much closer than two that only
// share a broad category.
//
// With the default half-per-level decay:
//
//	weight(edge into child at depth d) = 0.5^(d-1)
//
//	distance(Gin, Vodka)  = 0.5 + 0.5 = 1.0   (meet at Spirit, depth 1)
//	distance(Gin, Tonic)  = (0.5+1.0) + (0.5+1.0) = 3.0   (meet at root)
//
// Ingredients in different root trees get MaxDistance, never an error: a
// catalog with detached sub-forests still yields a usable metric.
//
// The weight curve is injectable via WeightFunc, so alternative metrics
// (uniform edges, depth-linear, learned weights) plug in without touching
// the traversal.
package metric

import (
	"errors"
	"fmt"
	"math"

	"github.com/barsmith/mixmetric/pkg/hierarchy"
)

// ErrUnknownIngredient is returned when a distance is requested for an id
// outside the tree or matrix universe.
var ErrUnknownIngredient = errors.New("metric: unknown ingredient")

// WeightFunc prices the edge between a child node and its parent, given the
// child's depth (always >= 1).
type WeightFunc func(childDepth int) float64

// DecayWeight returns the standard exponential decay curve:
// base * decay^(childDepth-1). With decay < 1 shallow edges cost more than
// deep ones.
func DecayWeight(base, decay float64) WeightFunc {
	return func(childDepth int) float64 {
		return base * math.Pow(decay, float64(childDepth-1))
	}
}

// UniformWeight prices every edge identically, giving plain tree hop count.
func UniformWeight(w float64) WeightFunc {
	return func(int) float64 { return w }
}

const (
	// DefaultDecay halves the edge cost per level of depth.
	DefaultDecay = 0.5

	// DefaultMaxDistance is the distance reported between ingredients in
	// disjoint root trees. It exceeds any path cost reachable under the
	// default decay curve (which converges below 4).
	DefaultMaxDistance = 8.0
)

// Options configures a Metric.
type Options struct {
	// Weight prices each edge. Defaults to DecayWeight(1, DefaultDecay).
	Weight WeightFunc

	// MaxDistance is reported for disconnected pairs.
	// Defaults to DefaultMaxDistance.
	MaxDistance float64
}

func (o Options) withDefaults() Options {
	if o.Weight == nil {
		o.Weight = DecayWeight(1, DefaultDecay)
	}
	if o.MaxDistance <= 0 {
		o.MaxDistance = DefaultMaxDistance
	}
	return o
}

// Metric computes pairwise ingredient distances over one tree snapshot.
// It is read-only after construction and safe for concurrent use.
type Metric struct {
	tree *hierarchy.Tree
	opts Options
}

// New creates a Metric over tree.
func New(tree *hierarchy.Tree, opts Options) *Metric {
	return &Metric{tree: tree, opts: opts.withDefaults()}
}

// MaxDistance is the configured distance for disconnected pairs.
func (m *Metric) MaxDistance() float64 { return m.opts.MaxDistance }

// TreeVersion is the catalog fingerprint of the underlying tree.
func (m *Metric) TreeVersion() string { return m.tree.Version() }

// Distance returns the weighted path distance between a and b.
//
// distance(a, a) = 0 and distance(a, b) = distance(b, a) by construction.
// Disconnected pairs return MaxDistance.
func (m *Metric) Distance(a, b string) (float64, error) {
	if a == b {
		if !m.tree.Contains(a) {
			return 0, fmt.Errorf("%w: %q", ErrUnknownIngredient, a)
		}
		return 0, nil
	}

	lca, ok, err := m.tree.LCA(a, b)
	if err != nil {
		if errors.Is(err, hierarchy.ErrUnknownNode) {
			return 0, fmt.Errorf("%w: %v", ErrUnknownIngredient, err)
		}
		return 0, err
	}
	if !ok {
		return m.opts.MaxDistance, nil
	}

	up, err := m.climb(a, lca)
	if err != nil {
		return 0, err
	}
	down, err := m.climb(b, lca)
	if err != nil {
		return 0, err
	}
	return up + down, nil
}

// climb sums edge weights walking from id up to ancestor.
func (m *Metric) climb(id, ancestor string) (float64, error) {
	sum := 0.0
	cur := id
	for cur != ancestor {
		d, err := m.tree.Depth(cur)
		if err != nil {
			return 0, err
		}
		sum += m.opts.Weight(d)
		cur, err = m.tree.Parent(cur)
		if err != nil {
			return 0, err
		}
	}
	return sum, nil
}
