package result

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind Kind
		json string
	}{
		{"Nil", nil, KindNull, "null"},
		{"Int", 42, KindNumber, "42"},
		{"Int64", int64(-7), KindNumber, "-7"},
		{"Uint64", uint64(18446744073709551615), KindNumber, "18446744073709551615"},
		{"Float", 1.5, KindNumber, "1.5"},
		{"Float32", float32(0.1), KindNumber, "0.1"},
		{"Bool", true, KindBool, "true"},
		{"String", "Ann", KindText, `"Ann"`},
		{"Bytes", []byte("raw"), KindText, `"raw"`},
		{"JSONNumber", json.Number("3.25"), KindNumber, "3.25"},
		{"Date", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), KindText, `"2024-03-01"`},
		{"Timestamp", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), KindText, `"2024-03-01T10:30:00Z"`},
		{"UUID", uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), KindText, `"6ba7b810-9dad-11d1-80b4-00c04fd430c8"`},
		{"List", []any{1, "a", nil}, KindList, `[1,"a",null]`},
		{"Object", map[string]any{"b": 2, "a": 1}, KindObject, `{"a":1,"b":2}`},
		{"IntSlice", []int32{1, 2}, KindList, "[1,2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := FromAny(tt.in)
			assert.Equal(t, tt.kind, v.Kind())
			b, err := json.Marshal(v)
			require.NoError(t, err)
			assert.Equal(t, tt.json, string(b))
		})
	}
}

func TestFloatSpecialValuesBecomeText(t *testing.T) {
	v := FromAny(json.Number("NaN"))
	assert.Equal(t, KindText, v.Kind())
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want string
	}{
		{"12", true, "12"},
		{"  -3.5 ", true, "-3.5"},
		{"1e3", true, "1000"},
		{"0.000001", true, "0.000001"},
		{"", false, ""},
		{"abc", false, ""},
		{"NaN", false, ""},
		{"Infinity", false, ""},
		{"0x10", false, ""},
		{"1-2", false, ""},
		{"12 apples", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, ok := ParseNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, d.Text('f'))
			}
		})
	}
}

func TestValueAccessors(t *testing.T) {
	t.Run("DecimalIsCopied", func(t *testing.T) {
		v := Int(5)
		d := v.Decimal()
		d.SetInt64(9)
		assert.Equal(t, "5", v.String())
	})

	t.Run("DecimalOfTextIsNil", func(t *testing.T) {
		assert.Nil(t, Text("5").Decimal())
	})

	t.Run("ObjectKeysSorted", func(t *testing.T) {
		v := Object(map[string]Value{"z": Null(), "a": Int(1)})
		assert.Equal(t, []string{"a", "z"}, v.Keys())
	})

	t.Run("ZeroValueIsNull", func(t *testing.T) {
		var v Value
		assert.True(t, v.IsNull())
		assert.Equal(t, "null", v.String())
	})
}

func TestNewResult(t *testing.T) {
	res := New([]string{"id", "name"}, [][]any{{int32(1), "Ann"}, {int32(2)}}, 3*time.Millisecond)

	require.Equal(t, 2, res.RowCount)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, "Ann", res.Rows[0]["name"].TextValue())
	assert.True(t, res.Rows[1]["name"].IsNull())
	assert.Equal(t, []string{"id", "name"}, res.Rows[0].Keys())
	assert.Equal(t, 3*time.Millisecond, res.Elapsed)
}
