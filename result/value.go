// Package result defines the tabular shapes that flow between the query
// executor and the grading pipeline.
//
// Cell values are carried as a tagged Value (null, number, boolean, text,
// list, object) instead of an untyped interface, so every consumer has to
// handle each variant explicitly. Numbers are exact decimals.
package result

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds
const (
	KindNull Kind = iota
	KindNumber
	KindBool
	KindText
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged cell value. The zero Value is null.
type Value struct {
	kind Kind
	num  *apd.Decimal
	b    bool
	s    string
	list []Value
	obj  map[string]Value
}

// Null returns the null marker.
func Null() Value { return Value{} }

// Number wraps a finite decimal. The decimal is copied. A nil or non-finite
// decimal yields text, since only finite numbers compare numerically.
func Number(d *apd.Decimal) Value {
	if d == nil {
		return Null()
	}
	if d.Form != apd.Finite {
		return Text(d.String())
	}
	return Value{kind: KindNumber, num: new(apd.Decimal).Set(d)}
}

// Int wraps an integer.
func Int(i int64) Value {
	return Value{kind: KindNumber, num: apd.New(i, 0)}
}

// Float wraps a float64 using its shortest decimal representation.
func Float(f float64) Value {
	d, err := new(apd.Decimal).SetFloat64(f)
	if err != nil || d.Form != apd.Finite {
		return Text(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return Value{kind: KindNumber, num: d}
}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Text wraps a string.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// List wraps an ordered sequence of values.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Object wraps a keyed set of values.
func Object(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null marker.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Decimal returns a copy of the number held by v, or nil for other kinds.
func (v Value) Decimal() *apd.Decimal {
	if v.kind != KindNumber {
		return nil
	}
	return new(apd.Decimal).Set(v.num)
}

// BoolValue returns the boolean held by v.
func (v Value) BoolValue() bool { return v.b }

// TextValue returns the string held by v.
func (v Value) TextValue() string { return v.s }

// Items returns the elements of a list value.
func (v Value) Items() []Value { return v.list }

// Fields returns the members of an object value.
func (v Value) Fields() map[string]Value { return v.obj }

// Keys returns the sorted member names of an object value.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders v for humans: text is returned as is, everything else in
// its canonical JSON form.
func (v Value) String() string {
	if v.kind == KindText {
		return v.s
	}
	b, _ := v.MarshalJSON()
	return string(b)
}

// MarshalJSON writes the canonical form of v. Object keys are sorted and
// numbers are written in plain (non-exponent) notation.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindNumber:
		buf.WriteString(v.num.Text('f'))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindText:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.obj[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
