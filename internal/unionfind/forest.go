// Package unionfind implements a disjoint-set forest over string keys with
// union by rank and path compression.
package unionfind

// Forest tracks a partition of string keys.
//
// Keys are registered lazily: the first Find (or Union) of a key creates a
// singleton set for it. Nodes are stored in slices indexed by a dense id, so
// the key itself is kept once.
//
// Not safe for concurrent use.
type Forest struct {
	ids    map[string]int
	keys   []string
	parent []int
	rank   []uint8
	sets   int
}

// New returns an empty forest. sizeHint preallocates room for that many keys.
func New(sizeHint int) *Forest {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Forest{
		ids:    make(map[string]int, sizeHint),
		keys:   make([]string, 0, sizeHint),
		parent: make([]int, 0, sizeHint),
		rank:   make([]uint8, 0, sizeHint),
	}
}

// Find returns the representative of x, registering x as a singleton first
// if it has not been seen.
func (f *Forest) Find(x string) string {
	return f.keys[f.root(f.id(x))]
}

// Union merges the sets of x and y. It reports whether a merge happened.
//
// The root of lower rank goes under the other; on equal ranks x's root
// becomes the parent.
func (f *Forest) Union(x, y string) bool {
	rx := f.root(f.id(x))
	ry := f.root(f.id(y))
	if rx == ry {
		return false
	}

	switch {
	case f.rank[rx] > f.rank[ry]:
		f.parent[ry] = rx
	case f.rank[rx] < f.rank[ry]:
		f.parent[rx] = ry
	default:
		f.parent[ry] = rx
		f.rank[rx]++
	}
	f.sets--
	return true
}

// Connected reports whether x and y are registered and in the same set.
// Unlike Find it never registers keys.
func (f *Forest) Connected(x, y string) bool {
	ix, ok := f.ids[x]
	if !ok {
		return false
	}
	iy, ok := f.ids[y]
	if !ok {
		return false
	}
	return f.root(ix) == f.root(iy)
}

// Has reports whether x has been registered.
func (f *Forest) Has(x string) bool {
	_, ok := f.ids[x]
	return ok
}

// Sets returns the number of disjoint sets among registered keys.
func (f *Forest) Sets() int { return f.sets }

// Len returns the number of registered keys.
func (f *Forest) Len() int { return len(f.keys) }

func (f *Forest) id(x string) int {
	if i, ok := f.ids[x]; ok {
		return i
	}
	i := len(f.keys)
	f.ids[x] = i
	f.keys = append(f.keys, x)
	f.parent = append(f.parent, i)
	f.rank = append(f.rank, 0)
	f.sets++
	return i
}

// root walks to the root of i, then points every node on the path at it.
func (f *Forest) root(i int) int {
	r := i
	for f.parent[r] != r {
		r = f.parent[r]
	}
	for f.parent[i] != r {
		next := f.parent[i]
		f.parent[i] = r
		i = next
	}
	return r
}
