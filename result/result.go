package result

import (
	"sort"
	"time"
)

// Row maps column names to cell values.
type Row map[string]Value

// Keys returns the column names of r in sorted order.
func (r Row) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Result is the uniform shape of one executed statement.
type Result struct {
	Columns  []string
	Rows     []Row
	RowCount int
	Elapsed  time.Duration
}

// New assembles a Result from column names and positional row values as
// returned by the driver. Duplicate column names collapse to the last value.
func New(columns []string, values [][]any, elapsed time.Duration) *Result {
	rows := make([]Row, 0, len(values))
	for _, vals := range values {
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(vals) {
				row[col] = FromAny(vals[i])
			} else {
				row[col] = Null()
			}
		}
		rows = append(rows, row)
	}
	return &Result{
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
		Elapsed:  elapsed,
	}
}
