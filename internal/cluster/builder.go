// Package cluster groups records that share a value in the same column.
//
// Building is a two-phase contract:
//
//  1. Add every line (Add / AddRow / AddLine). Lines are deduplicated and
//     their indexable values recorded in the column index.
//  2. Link once. All unions are applied, the builder is sealed and a
//     Partition is returned; only the Partition answers "which group".
//
// Querying representatives before every union is applied would register
// lines as singletons too early and under-merge groups, which is why Link is
// the only way to obtain a Partition and why Add fails after it.
package cluster

import (
	"errors"

	"linegroup/internal/index"
	"linegroup/internal/parser/line"
	"linegroup/internal/record"
	"linegroup/internal/unionfind"
)

// ErrSealed is returned when lines are added after Link.
var ErrSealed = errors.New("cluster: builder already linked")

// Stats counts what happened to input lines.
type Stats struct {
	Read      int // lines seen, valid or not
	Valid     int // valid lines, duplicates included
	Invalid   int // lines dropped by validation
	Duplicate int // valid lines whose exact text was already retained
}

// Records returns the number of retained (valid, distinct) records.
func (s Stats) Records() int { return s.Valid - s.Duplicate }

// Builder owns the record set, the column index and the forest of one run.
// Not safe for concurrent use.
type Builder struct {
	records []string
	seen    map[string]struct{}
	index   *index.Columns
	stats   Stats
	linked  bool
	scratch []string
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		seen:  make(map[string]struct{}),
		index: index.New(),
	}
}

// AddLine parses text and adds it. It reports whether a new record was retained.
func (b *Builder) AddLine(text string) (bool, error) {
	if b.linked {
		return false, ErrSealed
	}
	vals, ok := line.Parse(text, b.scratch)
	if ok {
		b.scratch = vals[:0]
		return b.add(text, vals), nil
	}
	b.stats.Read++
	b.stats.Invalid++
	return false, nil
}

// AddRow adds an already parsed row. The row is not retained; the caller
// still owns it and frees it afterwards.
func (b *Builder) AddRow(r *record.Row) (bool, error) {
	if b.linked {
		return false, ErrSealed
	}
	if !r.Valid {
		b.stats.Read++
		b.stats.Invalid++
		return false, nil
	}
	return b.add(r.Text, r.Values), nil
}

// add registers a valid line with its column-aligned values ("" = not indexed).
// Duplicates are counted but not indexed again: they could only union with
// themselves.
func (b *Builder) add(text string, values []string) bool {
	b.stats.Read++
	b.stats.Valid++

	if _, dup := b.seen[text]; dup {
		b.stats.Duplicate++
		return false
	}
	b.seen[text] = struct{}{}
	b.records = append(b.records, text)

	for col, v := range values {
		if v == "" {
			continue
		}
		b.index.Record(col, v, text)
	}
	return true
}

// Stats returns the counters collected so far.
func (b *Builder) Stats() Stats { return b.stats }

// Index exposes the column index (read-only use).
func (b *Builder) Index() *index.Columns { return b.index }

// Link applies every union implied by the column index, seals the builder and
// groups the retained records.
//
// Within each (column, value) list the first line is united with every later
// one, which connects the whole list in len-1 unions.
func (b *Builder) Link() (*Partition, error) {
	if b.linked {
		return nil, ErrSealed
	}
	b.linked = true

	forest := unionfind.New(len(b.records))
	unions := 0
	b.index.Each(func(_ int, _ string, lines []string) {
		if len(lines) < 2 {
			return
		}
		first := lines[0]
		for _, l := range lines[1:] {
			if forest.Union(first, l) {
				unions++
			}
		}
	})

	p := group(b.records, forest)
	p.Unions = unions
	p.Stats = b.stats
	p.Columns = b.index.Columns()
	p.Values = b.index.Values()

	// The partition holds everything it needs; drop run state early.
	b.seen = nil
	b.scratch = nil
	return p, nil
}
