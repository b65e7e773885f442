package result

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

// dateLayout is used for timestamps that fall exactly on midnight UTC, which
// is how the driver hands back DATE columns.
const dateLayout = "2006-01-02"

// FromAny converts a driver or decoded-document value into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *apd.Decimal:
		return Number(t)
	case apd.Decimal:
		return Number(&t)
	case bool:
		return Bool(t)
	case string:
		return Text(t)
	case []byte:
		return Text(string(t))
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return fromUint(uint64(t))
	case uint16:
		return fromUint(uint64(t))
	case uint32:
		return fromUint(uint64(t))
	case uint64:
		return fromUint(t)
	case float32:
		if d, ok := ParseNumber(strconv.FormatFloat(float64(t), 'g', -1, 32)); ok {
			return Number(d)
		}
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if d, ok := ParseNumber(t.String()); ok {
			return Number(d)
		}
		return Text(t.String())
	case time.Time:
		return Text(formatTime(t))
	case uuid.UUID:
		return Text(t.String())
	case [16]byte:
		return Text(uuid.UUID(t).String())
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Value{kind: KindList, list: items}
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = FromAny(item)
		}
		return Value{kind: KindObject, obj: fields}
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return Text(fmt.Sprint(t))
		}
		if _, again := dv.(driver.Valuer); again {
			return Text(fmt.Sprint(dv))
		}
		return FromAny(dv)
	case fmt.Stringer:
		return Text(t.String())
	}
	return fromReflect(reflect.ValueOf(x))
}

func fromUint(u uint64) Value {
	d, _, err := apd.NewFromString(strconv.FormatUint(u, 10))
	if err != nil {
		return Text(strconv.FormatUint(u, 10))
	}
	return Number(d)
}

func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null()
		}
		items := make([]Value, rv.Len())
		for i := range items {
			items[i] = FromAny(rv.Index(i).Interface())
		}
		return Value{kind: KindList, list: items}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = FromAny(iter.Value().Interface())
		}
		return Value{kind: KindObject, obj: fields}
	}
	return Text(fmt.Sprint(rv.Interface()))
}

func formatTime(t time.Time) string {
	u := t.UTC()
	if t.Location() == time.UTC && u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return u.Format(dateLayout)
	}
	return u.Format(time.RFC3339Nano)
}

// ParseNumber parses s as a finite decimal literal (optional sign, digits,
// optional fraction and exponent). Surrounding whitespace is ignored.
func ParseNumber(s string) (*apd.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !looksNumeric(s) {
		return nil, false
	}
	d, _, err := apd.NewFromString(s)
	if err != nil || d.Form != apd.Finite {
		return nil, false
	}
	return d, true
}

// looksNumeric rejects the spellings apd accepts but that are not plain
// decimal literals (NaN, Infinity and friends).
func looksNumeric(s string) bool {
	digits := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case r == '+' || r == '-':
			if i != 0 && s[i-1] != 'e' && s[i-1] != 'E' {
				return false
			}
		case r == '.' || r == 'e' || r == 'E':
		default:
			return false
		}
	}
	return digits
}
