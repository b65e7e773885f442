package grading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
)

// FractionDigits is the precision non-integer numbers are rounded to.
const FractionDigits = 6

// synthetic column names used by the scalar and column kinds
const (
	valueColumn = "value"
	countColumn = "count"
)

// Normalized is the comparable form of a result or an expected output.
type Normalized struct {
	Columns  []string
	Rows     []result.Row
	RowCount int
}

// NormalizeValue canonicalizes a single cell.
func NormalizeValue(v result.Value) result.Value {
	switch v.Kind() {
	case result.KindNumber:
		return result.Number(roundNumber(v.Decimal()))
	case result.KindText:
		s := strings.TrimSpace(v.TextValue())
		if d, ok := result.ParseNumber(s); ok {
			return result.Number(roundNumber(d))
		}
		return result.Text(s)
	case result.KindList:
		items := v.Items()
		out := make([]result.Value, len(items))
		for i, item := range items {
			out[i] = NormalizeValue(item)
		}
		return result.List(out...)
	case result.KindObject:
		fields := v.Fields()
		out := make(map[string]result.Value, len(fields))
		for k, f := range fields {
			out[k] = NormalizeValue(f)
		}
		return result.Object(out)
	default:
		return v
	}
}

// roundNumber rounds d half away from zero to FractionDigits and strips
// trailing zeros, so 1.50 and 1.5 share one representation.
func roundNumber(d *apd.Decimal) *apd.Decimal {
	out := new(apd.Decimal).Set(d)
	if out.Exponent < -FractionDigits {
		ctx := apd.BaseContext.WithPrecision(uint32(out.NumDigits()) + FractionDigits + 1)
		ctx.Rounding = apd.RoundHalfUp
		if _, err := ctx.Quantize(out, d, -FractionDigits); err != nil {
			out.Set(d)
		}
	}
	out.Reduce(out)
	if out.IsZero() {
		out.Negative = false
	}
	return out
}

// NormalizeRow lower-cases keys and normalizes every value.
func NormalizeRow(row result.Row) result.Row {
	out := make(result.Row, len(row))
	for k, v := range row {
		out[strings.ToLower(k)] = NormalizeValue(v)
	}
	return out
}

// NormalizeResult normalizes an executed result as an order-insensitive row
// set.
func NormalizeResult(r *result.Result) Normalized {
	rows := make([]result.Row, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = NormalizeRow(row)
	}
	columns := make([]string, 0, len(r.Columns))
	for _, c := range r.Columns {
		columns = append(columns, strings.ToLower(c))
	}
	return rowSet(columns, rows)
}

func rowSet(columns []string, rows []result.Row) Normalized {
	seen := make(map[string]bool)
	cols := make([]string, 0, len(columns))
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, c := range columns {
		add(c)
	}
	for _, row := range rows {
		for k := range row {
			add(k)
		}
	}
	sort.Strings(cols)
	sortRows(rows)
	return Normalized{Columns: cols, Rows: rows, RowCount: len(rows)}
}

func sortRows(rows []result.Row) {
	keys := make([][]byte, len(rows))
	for i, row := range rows {
		keys[i] = canonical(row)
	}
	sort.Sort(byCanonical{rows: rows, keys: keys})
}

type byCanonical struct {
	rows []result.Row
	keys [][]byte
}

func (b byCanonical) Len() int           { return len(b.rows) }
func (b byCanonical) Less(i, j int) bool { return bytes.Compare(b.keys[i], b.keys[j]) < 0 }
func (b byCanonical) Swap(i, j int) {
	b.rows[i], b.rows[j] = b.rows[j], b.rows[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

func canonical(row result.Row) []byte {
	data, err := json.Marshal(result.Object(row))
	if err != nil {
		return []byte(fmt.Sprint(row))
	}
	return data
}

// NormalizeExpected shapes a stored expected output like an executed result
// of the same kind.
func NormalizeExpected(out problem.ExpectedOutput) (Normalized, error) {
	switch out.Kind {
	case problem.KindSingleValue:
		return scalar(valueColumn, out.Value), nil
	case problem.KindCount:
		return scalar(countColumn, out.Value), nil
	case problem.KindColumn:
		v := result.FromAny(out.Value)
		items := []result.Value{v}
		if v.Kind() == result.KindList {
			items = v.Items()
		}
		return column(items), nil
	case problem.KindRow:
		row, err := objectRow(result.FromAny(out.Value))
		if err != nil {
			return Normalized{}, fmt.Errorf("expected row: %w", err)
		}
		return rowSet(nil, []result.Row{row}), nil
	case problem.KindTable:
		v := result.FromAny(out.Value)
		if v.IsNull() {
			return rowSet(nil, nil), nil
		}
		if v.Kind() != result.KindList {
			return Normalized{}, fmt.Errorf("expected table must be a list of rows, got %s", v.Kind())
		}
		rows := make([]result.Row, 0, len(v.Items()))
		for i, item := range v.Items() {
			row, err := objectRow(item)
			if err != nil {
				return Normalized{}, fmt.Errorf("expected table row %d: %w", i+1, err)
			}
			rows = append(rows, row)
		}
		return rowSet(nil, rows), nil
	default:
		return Normalized{}, nil
	}
}

func scalar(name string, raw any) Normalized {
	row := result.Row{name: NormalizeValue(result.FromAny(raw))}
	return Normalized{Columns: []string{name}, Rows: []result.Row{row}, RowCount: 1}
}

func column(items []result.Value) Normalized {
	values := make([]result.Value, len(items))
	for i, item := range items {
		values[i] = NormalizeValue(item)
	}
	sortValues(values)
	rows := make([]result.Row, len(values))
	for i, v := range values {
		rows[i] = result.Row{valueColumn: v}
	}
	return Normalized{Columns: []string{valueColumn}, Rows: rows, RowCount: len(rows)}
}

func objectRow(v result.Value) (result.Row, error) {
	if v.Kind() != result.KindObject {
		return nil, fmt.Errorf("must be a mapping of column to value, got %s", v.Kind())
	}
	return NormalizeRow(result.Row(v.Fields())), nil
}

// sortValues orders nulls first, then numbers ascending, then everything
// else by its text form.
func sortValues(values []result.Value) {
	sort.SliceStable(values, func(i, j int) bool {
		return valueLess(values[i], values[j])
	})
}

func valueLess(a, b result.Value) bool {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		return ra < rb
	}
	switch ra {
	case 0:
		return false
	case 1:
		return a.Decimal().Cmp(b.Decimal()) < 0
	default:
		return a.String() < b.String()
	}
}

func valueRank(v result.Value) int {
	switch v.Kind() {
	case result.KindNull:
		return 0
	case result.KindNumber:
		return 1
	default:
		return 2
	}
}
