package transport

import (
	"fmt"
	"math"
)

// simplex solves the balanced transportation problem exactly.
//
// Phase 1 builds a basic feasible solution with the northwest-corner rule,
// which always yields exactly n+m-1 basic cells (some possibly degenerate
// at zero). Phase 2 runs MODI (u/v potential) iterations: pick the first
// cell in row-major order with negative reduced cost (Bland's rule, which
// is both deterministic and immune to cycling), trace the unique alternating
// cycle through the basis tree, and pivot by the smallest negative-cell
// amount. Row-major order over lexicographically sorted supports makes
// every tie-break an ingredient-id comparison.
func simplex(src, dst []string, supply, demand []float64, cost [][]float64, keepPlan bool) (float64, []Flow, error) {
	n, m := len(src), len(dst)
	if n == 0 || m == 0 {
		return 0, nil, fmt.Errorf("%w: empty support", ErrSolver)
	}

	b := newBasis(n, m)
	b.northwestCorner(supply, demand)

	// Bland's rule terminates in finitely many pivots; the cap only trips if
	// the inputs violate the balanced-mass precondition.
	maxPivots := 50 * (n + 1) * (m + 1)
	for pivot := 0; ; pivot++ {
		if pivot > maxPivots {
			return 0, nil, fmt.Errorf("%w: pivot limit exceeded (%dx%d)", ErrSolver, n, m)
		}

		u, v, ok := b.potentials(cost)
		if !ok {
			return 0, nil, fmt.Errorf("%w: basis lost connectivity", ErrSolver)
		}

		ei, ej := -1, -1
		for i := 0; i < n && ei < 0; i++ {
			for j := 0; j < m; j++ {
				if b.isBasic(i, j) {
					continue
				}
				if cost[i][j]-u[i]-v[j] < -costEps {
					ei, ej = i, j
					break
				}
			}
		}
		if ei < 0 {
			break // optimal
		}

		if err := b.pivot(ei, ej); err != nil {
			return 0, nil, err
		}
	}

	total := 0.0
	var plan []Flow
	for _, c := range b.cells() {
		amt := b.amount[c.i*m+c.j]
		if amt <= massEps {
			continue
		}
		total += amt * cost[c.i][c.j]
		if keepPlan {
			plan = append(plan, Flow{From: src[c.i], To: dst[c.j], Amount: amt})
		}
	}
	return total, plan, nil
}

type cellRef struct{ i, j int }

// basis tracks the current basic feasible solution: which cells are basic,
// their amounts, and per-row/per-column adjacency so the basis can be walked
// as the spanning tree it forms over row and column nodes.
type basis struct {
	n, m    int
	amount  []float64 // n*m, only basic cells meaningful
	basic   []bool    // n*m
	rowCols [][]int   // basic column indices per row
	colRows [][]int   // basic row indices per column
}

func newBasis(n, m int) *basis {
	return &basis{
		n: n, m: m,
		amount:  make([]float64, n*m),
		basic:   make([]bool, n*m),
		rowCols: make([][]int, n),
		colRows: make([][]int, m),
	}
}

func (b *basis) isBasic(i, j int) bool { return b.basic[i*b.m+j] }

func (b *basis) add(i, j int, amt float64) {
	b.basic[i*b.m+j] = true
	b.amount[i*b.m+j] = amt
	b.rowCols[i] = append(b.rowCols[i], j)
	b.colRows[j] = append(b.colRows[j], i)
}

func (b *basis) remove(i, j int) {
	b.basic[i*b.m+j] = false
	b.amount[i*b.m+j] = 0
	b.rowCols[i] = removeInt(b.rowCols[i], j)
	b.colRows[j] = removeInt(b.colRows[j], i)
}

func (b *basis) cells() []cellRef {
	out := make([]cellRef, 0, b.n+b.m-1)
	for i := 0; i < b.n; i++ {
		for _, j := range b.rowCols[i] {
			out = append(out, cellRef{i, j})
		}
	}
	return out
}

// northwestCorner builds the initial basic feasible solution. It walks from
// the top-left cell to the bottom-right, allocating as much as the current
// row supply and column demand allow, and keeps exhausted steps as zero
// (degenerate) basic cells so the basis always has n+m-1 entries.
func (b *basis) northwestCorner(supply, demand []float64) {
	ra := append([]float64(nil), supply...)
	rb := append([]float64(nil), demand...)

	i, j := 0, 0
	for i < b.n && j < b.m {
		amt := math.Min(ra[i], rb[j])
		b.add(i, j, amt)
		ra[i] -= amt
		rb[j] -= amt
		if i == b.n-1 && j == b.m-1 {
			break
		}
		if ra[i] <= massEps && i < b.n-1 {
			i++
		} else {
			j++
		}
	}
}

// potentials solves u[i] + v[j] = cost[i][j] over basic cells by walking the
// basis tree breadth-first from row 0. Returns ok=false if the basis does
// not span all rows and columns.
func (b *basis) potentials(cost [][]float64) (u, v []float64, ok bool) {
	u = make([]float64, b.n)
	v = make([]float64, b.m)
	seenRow := make([]bool, b.n)
	seenCol := make([]bool, b.m)

	// Node encoding: 0..n-1 rows, n..n+m-1 columns.
	queue := make([]int, 0, b.n+b.m)
	queue = append(queue, 0)
	seenRow[0] = true
	u[0] = 0

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node < b.n {
			i := node
			for _, j := range b.rowCols[i] {
				if !seenCol[j] {
					v[j] = cost[i][j] - u[i]
					seenCol[j] = true
					queue = append(queue, b.n+j)
				}
			}
		} else {
			j := node - b.n
			for _, i := range b.colRows[j] {
				if !seenRow[i] {
					u[i] = cost[i][j] - v[j]
					seenRow[i] = true
					queue = append(queue, i)
				}
			}
		}
	}

	for i := range seenRow {
		if !seenRow[i] {
			return nil, nil, false
		}
	}
	for j := range seenCol {
		if !seenCol[j] {
			return nil, nil, false
		}
	}
	return u, v, true
}

// pivot brings cell (ei, ej) into the basis. The basis tree plus the
// entering cell contains exactly one alternating cycle; mass shifts around
// it by the smallest amount on a decreasing cell, which then leaves the
// basis. The leaving tie-break takes the row-major smallest decreasing cell,
// keeping pivots reproducible.
func (b *basis) pivot(ei, ej int) error {
	path, ok := b.treePath(ei, ej)
	if !ok {
		return fmt.Errorf("%w: no cycle for entering cell (%d,%d)", ErrSolver, ei, ej)
	}

	// Cycle: entering cell (+), then path cells from the ej end back to the
	// ei end, alternating -, +, -, ... The path has odd length, so signs
	// close consistently around the cycle.
	minus := make([]cellRef, 0, len(path)/2+1)
	plus := make([]cellRef, 0, len(path)/2+1)
	sign := -1
	for k := len(path) - 1; k >= 0; k-- {
		if sign < 0 {
			minus = append(minus, path[k])
		} else {
			plus = append(plus, path[k])
		}
		sign = -sign
	}

	theta := math.Inf(1)
	leave := cellRef{-1, -1}
	for _, c := range minus {
		amt := b.amount[c.i*b.m+c.j]
		switch {
		case amt < theta-massEps:
			theta = amt
			leave = c
		case amt <= theta+massEps:
			if c.i < leave.i || (c.i == leave.i && c.j < leave.j) {
				theta = math.Min(theta, amt)
				leave = c
			}
		}
	}

	for _, c := range plus {
		b.amount[c.i*b.m+c.j] += theta
	}
	for _, c := range minus {
		b.amount[c.i*b.m+c.j] -= theta
	}
	b.remove(leave.i, leave.j)
	b.add(ei, ej, theta)
	return nil
}

// treePath finds the unique path of basic cells connecting row ei to column
// ej through the basis tree. Breadth-first with parent pointers; no
// recursion, the basis can be as deep as the support is wide.
func (b *basis) treePath(ei, ej int) ([]cellRef, bool) {
	total := b.n + b.m
	parent := make([]int, total)
	parentCell := make([]cellRef, total)
	for i := range parent {
		parent[i] = -2 // unvisited
	}

	start := ei
	target := b.n + ej
	parent[start] = -1
	queue := []int{start}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == target {
			break
		}
		if node < b.n {
			i := node
			for _, j := range b.rowCols[i] {
				next := b.n + j
				if parent[next] == -2 {
					parent[next] = node
					parentCell[next] = cellRef{i, j}
					queue = append(queue, next)
				}
			}
		} else {
			j := node - b.n
			for _, i := range b.colRows[j] {
				if parent[i] == -2 {
					parent[i] = node
					parentCell[i] = cellRef{i, j}
					queue = append(queue, i)
				}
			}
		}
	}

	if parent[target] == -2 {
		return nil, false
	}

	// Reconstruct from target back to start; reverse so the path reads from
	// the entering row toward the entering column.
	var rev []cellRef
	for node := target; parent[node] != -1; node = parent[node] {
		rev = append(rev, parentCell[node])
	}
	path := make([]cellRef, len(rev))
	for i, c := range rev {
		path[len(rev)-1-i] = c
	}
	return path, true
}

func removeInt(s []int, x int) []int {
	for i, v := range s {
		if v == x {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
