// Package hierarchy builds a validated ingredient category forest from flat
// catalog rows.
//
// Ingredient catalogs arrive as (id, name, parent_id) records where parent_id
// points at a broader category ("Gin" -> "Spirit" -> root). Bad data is
// common: a parent that was deleted, or an edit loop that makes a category
// its own ancestor. Build validates both up front so everything downstream
// can trust the structure.
//
// The tree is stored as an index-addressed arena (parallel slices keyed by a
// dense node index) rather than linked node pointers, and every traversal is
// an explicit stack or upward array walk. Catalogs imported from spreadsheets
// have produced category chains thousands of levels deep; recursion is never
// used on the parent relation.
//
// Example:
//
//	tree, err := hierarchy.Build([]hierarchy.Record{
//		{ID: "spirit", Name: "Spirit"},
//		{ID: "gin", Name: "Gin", ParentID: "spirit"},
//		{ID: "vodka", Name: "Vodka", ParentID: "spirit"},
//	}, hierarchy.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	lca, _ := tree.LCA("gin", "vodka") // "spirit"
package hierarchy

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
)

var (
	// ErrCycle is returned when a node reaches itself via parent pointers.
	ErrCycle = errors.New("hierarchy: cycle in parent chain")

	// ErrOrphanParent is returned when a parent_id references no known node
	// and the orphan policy is OrphanError.
	ErrOrphanParent = errors.New("hierarchy: parent references unknown node")

	// ErrUnknownNode is returned by lookups for ids absent from the tree.
	ErrUnknownNode = errors.New("hierarchy: unknown node")

	// ErrDuplicateID is returned when two records share an id.
	ErrDuplicateID = errors.New("hierarchy: duplicate node id")
)

// OrphanPolicy controls what happens when a record's parent_id has no
// matching record.
type OrphanPolicy int

const (
	// OrphanError fails the build with ErrOrphanParent.
	OrphanError OrphanPolicy = iota

	// OrphanPromote silently promotes the child to a root.
	OrphanPromote
)

// Record is one flat catalog row. An empty ParentID marks a root.
type Record struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

// Options configures Build.
type Options struct {
	// Orphans selects the policy for parent_ids with no matching record.
	// Default is OrphanError.
	Orphans OrphanPolicy
}

// Tree is an immutable ingredient forest. All lookups are O(1) by id except
// LCA, which is O(depth). A Tree is safe for concurrent readers; catalog
// changes produce a new Tree with a new Version.
type Tree struct {
	version string

	index  map[string]int // id -> arena slot
	ids    []string
	names  []string
	parent []int // arena slot of parent, -1 for roots
	depth  []int // 0 for roots
	roots  []int
}

// Build constructs a Tree from flat records.
//
// Validation order: duplicate ids, orphan parents (per policy), then cycles.
// Cycle detection uses three-color marking over an iterative walk: white
// (unvisited), gray (on the current parent chain), black (verified). Hitting
// a gray node means the chain loops back on itself.
func Build(records []Record, opts Options) (*Tree, error) {
	t := &Tree{
		index:  make(map[string]int, len(records)),
		ids:    make([]string, 0, len(records)),
		names:  make([]string, 0, len(records)),
		parent: make([]int, 0, len(records)),
		depth:  make([]int, 0, len(records)),
	}

	for _, r := range records {
		if _, dup := t.index[r.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, r.ID)
		}
		t.index[r.ID] = len(t.ids)
		t.ids = append(t.ids, r.ID)
		t.names = append(t.names, r.Name)
		t.parent = append(t.parent, -1)
		t.depth = append(t.depth, -1)
	}

	// Resolve parent pointers to arena slots.
	for _, r := range records {
		if r.ParentID == "" {
			continue
		}
		i := t.index[r.ID]
		p, ok := t.index[r.ParentID]
		if !ok {
			if opts.Orphans == OrphanPromote {
				continue // becomes a root
			}
			return nil, fmt.Errorf("%w: node %q parent %q", ErrOrphanParent, r.ID, r.ParentID)
		}
		t.parent[i] = p
	}

	// Three-color cycle check. Walk each node's parent chain iteratively,
	// pushing the visited chain so it can be blackened (or reported) at once.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]uint8, len(t.ids))
	chain := make([]int, 0, 64)
	for start := range t.ids {
		if color[start] != white {
			continue
		}
		chain = chain[:0]
		n := start
		for n != -1 && color[n] == white {
			color[n] = gray
			chain = append(chain, n)
			n = t.parent[n]
		}
		if n != -1 && color[n] == gray {
			return nil, fmt.Errorf("%w: reached via %q", ErrCycle, t.ids[n])
		}
		// Chain ended at a root or a black node: depths are now derivable
		// back-to-front.
		base := -1
		if n != -1 {
			base = t.depth[n]
		}
		for i := len(chain) - 1; i >= 0; i-- {
			base++
			t.depth[chain[i]] = base
			color[chain[i]] = black
		}
	}

	for i, p := range t.parent {
		if p == -1 {
			t.roots = append(t.roots, i)
		}
	}

	t.version = fingerprint(records)
	return t, nil
}

// Version is a stable fingerprint of the catalog rows the tree was built
// from. Two builds over the same rows (in any order) share a Version, so it
// doubles as a cache key for anything derived from the tree.
func (t *Tree) Version() string { return t.version }

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.ids) }

// IDs returns all node ids in sorted order.
func (t *Tree) IDs() []string {
	out := make([]string, len(t.ids))
	copy(out, t.ids)
	sort.Strings(out)
	return out
}

// Contains reports whether id is a node in the tree.
func (t *Tree) Contains(id string) bool {
	_, ok := t.index[id]
	return ok
}

// Name returns the display name for id.
func (t *Tree) Name(id string) (string, error) {
	i, ok := t.index[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return t.names[i], nil
}

// Depth returns the number of edges between id and its root. Roots have
// depth 0.
func (t *Tree) Depth(id string) (int, error) {
	i, ok := t.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return t.depth[i], nil
}

// Parent returns the parent id of id, or "" for roots.
func (t *Tree) Parent(id string) (string, error) {
	i, ok := t.index[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	if t.parent[i] == -1 {
		return "", nil
	}
	return t.ids[t.parent[i]], nil
}

// Root returns the root ancestor of id (id itself when id is a root).
func (t *Tree) Root(id string) (string, error) {
	i, ok := t.index[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	for t.parent[i] != -1 {
		i = t.parent[i]
	}
	return t.ids[i], nil
}

// PathToRoot returns the chain of ids from id up to and including its root.
func (t *Tree) PathToRoot(id string) ([]string, error) {
	i, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	path := make([]string, 0, t.depth[i]+1)
	for i != -1 {
		path = append(path, t.ids[i])
		i = t.parent[i]
	}
	return path, nil
}

// LCA returns the lowest common ancestor of a and b.
//
// The deeper node is lifted to the shallower node's depth, then both walk up
// in lockstep until they meet. Returns ok=false (with no error) when a and b
// live in different root trees.
func (t *Tree) LCA(a, b string) (string, bool, error) {
	ia, ok := t.index[a]
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownNode, a)
	}
	ib, ok := t.index[b]
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownNode, b)
	}

	for t.depth[ia] > t.depth[ib] {
		ia = t.parent[ia]
	}
	for t.depth[ib] > t.depth[ia] {
		ib = t.parent[ib]
	}
	for ia != ib {
		ia = t.parent[ia]
		ib = t.parent[ib]
	}
	if ia == -1 {
		return "", false, nil
	}
	return t.ids[ia], true, nil
}

// fingerprint hashes records order-independently: rows are serialized,
// sorted, then fed through FNV-1a.
func fingerprint(records []Record) string {
	rows := make([]string, len(records))
	for i, r := range records {
		rows[i] = r.ID + "\x00" + r.ParentID
	}
	sort.Strings(rows)

	h := fnv.New64a()
	for _, row := range rows {
		h.Write([]byte(row))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
