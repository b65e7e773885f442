package grading

import (
	"fmt"

	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
)

// Comparison is the verdict of comparing two normalized shapes.
type Comparison struct {
	Passed bool
	Reason string
}

func pass() Comparison { return Comparison{Passed: true} }

func fail(format string, args ...any) Comparison {
	return Comparison{Reason: fmt.Sprintf(format, args...)}
}

// Compare checks actual against expected according to kind.
func Compare(actual, expected Normalized, kind problem.Kind) Comparison {
	switch kind {
	case problem.KindTable:
		return compareTable(actual, expected)
	case problem.KindSingleValue:
		return compareSingleValue(actual, expected)
	case problem.KindColumn:
		return compareColumn(actual, expected)
	case problem.KindRow:
		return compareRow(actual, expected)
	case problem.KindCount:
		return compareCount(actual, expected)
	default:
		return fail("Unsupported comparison type: %s", kind)
	}
}

// Equal reports deep equality of two normalized values. Numbers compare by
// value, so 1.5 and 1.50 are equal.
func Equal(a, b result.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case result.KindNull:
		return true
	case result.KindNumber:
		return a.Decimal().Cmp(b.Decimal()) == 0
	case result.KindBool:
		return a.BoolValue() == b.BoolValue()
	case result.KindText:
		return a.TextValue() == b.TextValue()
	case result.KindList:
		ai, bi := a.Items(), b.Items()
		if len(ai) != len(bi) {
			return false
		}
		for i := range ai {
			if !Equal(ai[i], bi[i]) {
				return false
			}
		}
		return true
	case result.KindObject:
		return rowsEqual(a.Fields(), b.Fields())
	}
	return false
}

func rowsEqual(a, b map[string]result.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

func compareColumns(actual, expected []string) (Comparison, bool) {
	if len(actual) != len(expected) {
		return fail("Expected %d columns but got %d", len(expected), len(actual)), false
	}
	for i := range actual {
		if actual[i] != expected[i] {
			return fail("Column mismatch: expected column '%s' but got '%s'", expected[i], actual[i]), false
		}
	}
	return Comparison{}, true
}

func compareTable(actual, expected Normalized) Comparison {
	if actual.RowCount != expected.RowCount {
		return fail("Expected %d rows but got %d", expected.RowCount, actual.RowCount)
	}
	// an empty expected table carries no column names to check against
	if expected.RowCount > 0 {
		if c, ok := compareColumns(actual.Columns, expected.Columns); !ok {
			return c
		}
	}
	for i := range actual.Rows {
		if !rowsEqual(actual.Rows[i], expected.Rows[i]) {
			return fail("Row %d values do not match expected output", i+1)
		}
	}
	return pass()
}

func compareSingleValue(actual, expected Normalized) Comparison {
	if actual.RowCount != 1 {
		return fail("Expected exactly 1 row but got %d", actual.RowCount)
	}
	if len(actual.Columns) != 1 {
		return fail("Expected exactly 1 column but got %d", len(actual.Columns))
	}
	got := actual.Rows[0][actual.Columns[0]]
	want := firstValue(expected, valueColumn)
	if !Equal(got, want) {
		return fail("Value '%s' does not match expected '%s'", got, want)
	}
	return pass()
}

func compareColumn(actual, expected Normalized) Comparison {
	if len(actual.Columns) != 1 {
		return fail("Expected exactly 1 column but got %d", len(actual.Columns))
	}
	if actual.RowCount != expected.RowCount {
		return fail("Expected %d values but got %d", expected.RowCount, actual.RowCount)
	}
	got := project(actual, actual.Columns[0])
	want := project(expected, valueColumn)
	for i := range got {
		if !Equal(got[i], want[i]) {
			return fail("Value at position %d '%s' does not match expected '%s'", i+1, got[i], want[i])
		}
	}
	return pass()
}

func compareRow(actual, expected Normalized) Comparison {
	if actual.RowCount != 1 {
		return fail("Expected exactly 1 row but got %d", actual.RowCount)
	}
	if c, ok := compareColumns(actual.Columns, expected.Columns); !ok {
		return c
	}
	if expected.RowCount != 1 || !rowsEqual(actual.Rows[0], expected.Rows[0]) {
		return fail("Row values do not match expected output")
	}
	return pass()
}

func compareCount(actual, expected Normalized) Comparison {
	want := firstValue(expected, countColumn)
	if actual.RowCount != 1 {
		return fail("Expected count %s but got %d rows", want, actual.RowCount)
	}
	got, ok := actual.Rows[0][countColumn]
	if !ok {
		if len(actual.Columns) != 1 {
			return fail("Expected a single count column but got %d columns", len(actual.Columns))
		}
		got = actual.Rows[0][actual.Columns[0]]
	}
	if !Equal(got, want) {
		return fail("Expected count %s but got %s", want, got)
	}
	return pass()
}

// firstValue returns the named cell of the first row, or the only cell when
// the row has a single column under another name.
func firstValue(n Normalized, name string) result.Value {
	if n.RowCount == 0 {
		return result.Null()
	}
	row := n.Rows[0]
	if v, ok := row[name]; ok {
		return v
	}
	if len(row) == 1 {
		for _, v := range row {
			return v
		}
	}
	return result.Null()
}

// project extracts one column in value order.
func project(n Normalized, name string) []result.Value {
	values := make([]result.Value, len(n.Rows))
	for i, row := range n.Rows {
		values[i] = row[name]
	}
	sortValues(values)
	return values
}
