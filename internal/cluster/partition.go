package cluster

import (
	"sort"

	"linegroup/internal/unionfind"
)

// Partition is the final grouping of a run, ranked largest group first.
type Partition struct {
	// Groups are ranked by descending size. Groups of equal size keep the
	// order in which their first member appeared in the input; members keep
	// input order too.
	Groups [][]string

	// MultiCount is the number of groups with more than one member.
	MultiCount int

	// Unions is the number of successful merges performed by Link.
	Unions int

	// Columns and Values size the column index: columns holding at least
	// one value, and distinct (column, value) keys.
	Columns int
	Values  int

	Stats Stats

	forest *unionfind.Forest
}

// Representative returns the canonical line of the group containing x and
// whether x is a retained record.
func (p *Partition) Representative(x string) (string, bool) {
	if !p.forest.Has(x) {
		return "", false
	}
	return p.forest.Find(x), true
}

// SameGroup reports whether x and y are retained records of one group.
func (p *Partition) SameGroup(x, y string) bool {
	return p.forest.Connected(x, y)
}

// Members returns the number of records across all groups.
func (p *Partition) Members() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g)
	}
	return n
}

// group buckets records by representative. It must run after every union:
// Find registers records never seen by a union as singletons.
func group(records []string, forest *unionfind.Forest) *Partition {
	// Records no union touched become singletons on top of the live sets.
	n := forest.Sets() + len(records) - forest.Len()
	slot := make(map[string]int, n)
	groups := make([][]string, 0, n)

	for _, r := range records {
		root := forest.Find(r)
		i, ok := slot[root]
		if !ok {
			i = len(groups)
			slot[root] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}

	// Buckets were created in order of first appearance, so a stable sort
	// by size alone gives the documented tie-break.
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i]) > len(groups[j])
	})

	multi := 0
	for _, g := range groups {
		if len(g) > 1 {
			multi++
		}
	}

	return &Partition{
		Groups:     groups,
		MultiCount: multi,
		forest:     forest,
	}
}
