package grading

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
)

func dec(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name string
		in   result.Value
		want string
	}{
		{"Null", result.Null(), "null"},
		{"Integer", result.Int(42), "42"},
		{"TrailingZeros", result.Number(dec(t, "1.500")), "1.5"},
		{"IntegralDecimal", result.Number(dec(t, "7.000")), "7"},
		{"FloatNoise", result.Float(0.1 + 0.2), "0.3"},
		{"NumericText", result.Text(" 12.50 "), "12.5"},
		{"IntegerText", result.Text("007"), "7"},
		{"PlainText", result.Text("  Ann  "), "Ann"},
		{"DateText", result.Text("2024-03-01"), "2024-03-01"},
		{"Bool", result.Bool(true), "true"},
		{"NegativeZero", result.Number(dec(t, "-0.0000001")), "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeValue(tt.in).String())
		})
	}
}

func TestRoundingBoundary(t *testing.T) {
	norm := func(s string) result.Value {
		return NormalizeValue(result.Number(dec(t, s)))
	}

	t.Run("BelowHalfRoundsDown", func(t *testing.T) {
		assert.Equal(t, "1", norm("1.00000049").String())
	})

	t.Run("AboveHalfRoundsUp", func(t *testing.T) {
		assert.Equal(t, "1.000001", norm("1.00000051").String())
	})

	t.Run("ExactHalfRoundsAwayFromZero", func(t *testing.T) {
		assert.Equal(t, "1.000001", norm("1.0000005").String())
		assert.Equal(t, "-1.000001", norm("-1.0000005").String())
		assert.Equal(t, "1.000003", norm("1.0000025").String())
	})

	t.Run("BoundaryPairsDiffer", func(t *testing.T) {
		assert.False(t, Equal(norm("1.00000049"), norm("1.00000051")))
	})

	t.Run("SameSixthDigitEqual", func(t *testing.T) {
		assert.True(t, Equal(norm("1.0000001"), norm("1.0000002")))
	})
}

func TestNormalizeIsIdempotent(t *testing.T) {
	values := []result.Value{
		result.Null(),
		result.Text(" 3.14159265 "),
		result.Float(2.0000004999),
		result.Number(dec(t, "-12.3456785")),
		result.Text("Ann"),
		result.List(result.Text(" 1.0 "), result.Null()),
	}
	for _, v := range values {
		once := NormalizeValue(v)
		twice := NormalizeValue(once)
		assert.True(t, Equal(once, twice), v.String())
		assert.Equal(t, once.String(), twice.String())
	}

	res := result.New([]string{"Name", "Score"}, [][]any{{"Bob", "2.50"}, {"Ann", 10}}, time.Millisecond)
	for _, row := range NormalizeResult(res).Rows {
		assert.True(t, rowsEqual(row, NormalizeRow(row)))
	}
}

func TestNormalizeResult(t *testing.T) {
	res := result.New(
		[]string{"ID", "Name"},
		[][]any{{2, "Bob"}, {1, "Ann"}, {10, "Cid"}},
		5*time.Millisecond,
	)
	n := NormalizeResult(res)

	assert.Equal(t, []string{"id", "name"}, n.Columns)
	assert.Equal(t, 3, n.RowCount)
	// canonical JSON byte order, so 10 sorts before 2
	assert.Equal(t, "1", n.Rows[0]["id"].String())
	assert.Equal(t, "10", n.Rows[1]["id"].String())
	assert.Equal(t, "2", n.Rows[2]["id"].String())
}

func TestNormalizeExpected(t *testing.T) {
	t.Run("SingleValue", func(t *testing.T) {
		n, err := NormalizeExpected(problem.ExpectedOutput{Kind: problem.KindSingleValue, Value: " Ann "})
		require.NoError(t, err)
		assert.Equal(t, []string{"value"}, n.Columns)
		assert.Equal(t, 1, n.RowCount)
		assert.Equal(t, "Ann", n.Rows[0]["value"].String())
	})

	t.Run("Count", func(t *testing.T) {
		n, err := NormalizeExpected(problem.ExpectedOutput{Kind: problem.KindCount, Value: "3"})
		require.NoError(t, err)
		assert.True(t, Equal(result.Int(3), n.Rows[0]["count"]))
	})

	t.Run("ColumnSortsByValue", func(t *testing.T) {
		n, err := NormalizeExpected(problem.ExpectedOutput{
			Kind:  problem.KindColumn,
			Value: []any{"b", 10, nil, 2, "a"},
		})
		require.NoError(t, err)
		got := make([]string, n.RowCount)
		for i, row := range n.Rows {
			got[i] = row["value"].String()
		}
		assert.Equal(t, []string{"null", "2", "10", "a", "b"}, got)
	})

	t.Run("Row", func(t *testing.T) {
		n, err := NormalizeExpected(problem.ExpectedOutput{
			Kind:  problem.KindRow,
			Value: map[string]any{"Name": "Ann", "ID": 1},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, n.Columns)
		assert.Equal(t, 1, n.RowCount)
	})

	t.Run("RowMustBeMapping", func(t *testing.T) {
		_, err := NormalizeExpected(problem.ExpectedOutput{Kind: problem.KindRow, Value: []any{1}})
		assert.ErrorContains(t, err, "mapping")
	})

	t.Run("Table", func(t *testing.T) {
		n, err := NormalizeExpected(problem.ExpectedOutput{
			Kind: problem.KindTable,
			Value: []any{
				map[string]any{"id": 2, "name": "Bob"},
				map[string]any{"id": 1, "name": "Ann"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, n.Columns)
		assert.Equal(t, "Ann", n.Rows[0]["name"].String())
	})

	t.Run("TableMustBeList", func(t *testing.T) {
		_, err := NormalizeExpected(problem.ExpectedOutput{Kind: problem.KindTable, Value: "nope"})
		assert.ErrorContains(t, err, "list of rows")
	})

	t.Run("TableYAMLMapping", func(t *testing.T) {
		n, err := NormalizeExpected(problem.ExpectedOutput{
			Kind:  problem.KindTable,
			Value: []any{map[string]any{"sku": "A1", "price": 9.99}},
		})
		require.NoError(t, err)
		assert.True(t, Equal(result.Number(dec(t, "9.99")), n.Rows[0]["price"]))
	})
}
