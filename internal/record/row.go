// Package record defines the pooled Row handed from the line parser to the
// group builder, reducing per-line allocations on large inputs.
package record

import "sync"

// Row is one input line after parsing.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - A Row is passed downstream via channels (ownership transfer).
//   - The final consumer calls Free() once it no longer reads r.Values.
//     Text and the value strings themselves may be retained; only the
//     Values slice is reused.
//
// On ctx cancellation use Drop() instead of Free(): a canceled consumer may
// still be reading while the producer unwinds, and a re-pooled row could be
// reused underneath it.
type Row struct {
	// Text is the raw line without its terminator. It is the record identity.
	Text string

	// Values is column-aligned; "" marks a column that carries no indexable value.
	Values []string

	// Valid is false when any field failed validation. Values is empty then.
	Valid bool

	// Line is the 1-based physical line number.
	Line int
}

var rowPool sync.Pool

// GetRow returns a zeroed pooled Row.
func GetRow() *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		r.Text = ""
		r.Values = r.Values[:0]
		r.Valid = false
		r.Line = 0
		return r
	}
	return &Row{Values: make([]string, 0, 8)}
}

// Free returns the Row to the pool.
// Call this ONLY when no other goroutine can observe r.
func (r *Row) Free() {
	if cap(r.Values) > 1024 {
		// Do not pin unusually wide rows in the pool.
		r.Values = nil
	}
	rowPool.Put(r)
}

// Drop discards the Row WITHOUT returning it to the pool.
func (r *Row) Drop() {
	r.Values = nil
	r.Text = ""
	r.Line = 0
}
