package knn

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// CorpusMatrix computes the full pairwise recipe-distance matrix over every
// registered recipe. Rows and columns follow the returned id slice, which is
// sorted, so the same corpus state always yields byte-identical output.
// That is the contract required by the downstream dimensionality-reduction
// step that projects recipes into the 2D "cocktail space".
//
// Pairs are independent, so they shard across workers; cancellation is
// honored between pairs. The matrix is symmetric with a zero diagonal.
func (e *Engine) CorpusMatrix(ctx context.Context) ([]string, [][]float64, error) {
	e.mu.RLock()
	matrix := e.matrix
	ids := make([]string, 0, len(e.recipes))
	for id := range e.recipes {
		ids = append(ids, id)
	}
	entries := make(map[string]recipeEntry, len(e.recipes))
	for id, entry := range e.recipes {
		entries[id] = entry
	}
	e.mu.RUnlock()

	sort.Strings(ids)
	n := len(ids)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}

	type pair struct{ i, j int }
	pairs := make(chan pair)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pairs)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				select {
				case pairs <- pair{i, j}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})

	workers := runtime.GOMAXPROCS(0)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for p := range pairs {
				if err := ctx.Err(); err != nil {
					return err
				}
				a, b := ids[p.i], ids[p.j]
				d, _, err := e.pairDistance(matrix, a, entries[a], b, entries[b])
				if err != nil {
					return err
				}
				out[p.i][p.j] = d
				out[p.j][p.i] = d
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ids, out, nil
}
