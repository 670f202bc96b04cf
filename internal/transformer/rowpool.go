// Package transformer holds the pooled positional Row passed from the CSV
// reader to the record decoder.
package transformer

import "sync"

// Row is a pooled container holding one positional input record, already
// projected onto the loader's column order.
//
// Ownership contract:
//   - The reader owns a Row until it hands it to the callback.
//   - The callback must not retain r or r.V after it returns; the reader
//     calls Free() once the callback is done.
type Row struct {
	V    []any
	Line int // 1-based physical line number
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length colCount. All elements are nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// String returns field i as a string, or "" if it is nil.
func (r *Row) String(i int) string {
	if i < 0 || i >= len(r.V) {
		return ""
	}
	s, _ := r.V[i].(string)
	return s
}
