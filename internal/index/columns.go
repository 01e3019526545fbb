// Package index maps (column, value) pairs to the lines that carry them.
package index

// Columns is a per-column index: column -> value -> lines, in first-seen order.
//
// Not safe for concurrent use. There is no removal.
type Columns struct {
	cols   []*column
	values int
}

type column struct {
	pos   map[string]int
	order []string
	lines [][]string
}

// New returns an empty index.
func New() *Columns { return &Columns{} }

// Record appends line to the list for (col, value), creating it on first use.
// Negative columns are ignored.
func (c *Columns) Record(col int, value, line string) {
	if col < 0 {
		return
	}
	for len(c.cols) <= col {
		c.cols = append(c.cols, nil)
	}
	cc := c.cols[col]
	if cc == nil {
		cc = &column{pos: make(map[string]int)}
		c.cols[col] = cc
	}

	i, ok := cc.pos[value]
	if !ok {
		i = len(cc.order)
		cc.pos[value] = i
		cc.order = append(cc.order, value)
		cc.lines = append(cc.lines, nil)
		c.values++
	}
	cc.lines[i] = append(cc.lines[i], line)
}

// Each visits every (col, value) list: columns ascending, values in
// first-seen order. The lines slice must not be modified.
func (c *Columns) Each(fn func(col int, value string, lines []string)) {
	for col, cc := range c.cols {
		if cc == nil {
			continue
		}
		for i, v := range cc.order {
			fn(col, v, cc.lines[i])
		}
	}
}

// Columns returns the number of columns that hold at least one value.
func (c *Columns) Columns() int {
	n := 0
	for _, cc := range c.cols {
		if cc != nil {
			n++
		}
	}
	return n
}

// Values returns the number of distinct (col, value) keys.
func (c *Columns) Values() int { return c.values }
