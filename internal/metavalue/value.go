// Package metavalue holds structured metadata values as a tagged variant so
// that ids nested inside them can be substituted without losing their type.
package metavalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Kind is the variant tag of a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Int
	Float
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is an immutable JSON-like value. Object keys keep their original order.
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	items  []Value
	keys   []string
	fields map[string]Value
}

func NullValue() Value { return Value{kind: Null} }
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }
func IntValue(i int64) Value { return Value{kind: Int, i: i} }
func FloatValue(f float64) Value { return Value{kind: Float, f: f} }
func StringValue(s string) Value { return Value{kind: String, s: s} }
func ArrayValue(items ...Value) Value {
	return Value{kind: Array, items: append([]Value(nil), items...)}
}

// ObjectValue builds an object from parallel key and value slices, in key order.
func ObjectValue(keys []string, values []Value) Value {
	obj := Value{kind: Object, fields: make(map[string]Value, len(keys))}
	for i, k := range keys {
		var v Value
		if i < len(values) {
			v = values[i]
		}
		obj = obj.withField(k, v)
	}
	return obj
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsScalar() bool {
	return v.kind != Array && v.kind != Object
}

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == Bool }
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == Int }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == Float }
func (v Value) AsString() (string, bool) { return v.s, v.kind == String }

// Len returns the number of elements of an array or fields of an object.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.items)
	case Object:
		return len(v.keys)
	}
	return 0
}

// Index returns the i-th array element.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != Array || i < 0 || i >= len(v.items) {
		return Value{}, false
	}
	return v.items[i], true
}

// Field returns the named object field.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	f, ok := v.fields[key]
	return f, ok
}

// Keys returns object keys in their original order.
func (v Value) Keys() []string {
	return append([]string(nil), v.keys...)
}

// withIndex returns a copy of the array with element i replaced.
func (v Value) withIndex(i int, elem Value) Value {
	items := append([]Value(nil), v.items...)
	items[i] = elem
	return Value{kind: Array, items: items}
}

// withField returns a copy of the object with key set, appending new keys.
func (v Value) withField(key string, elem Value) Value {
	fields := make(map[string]Value, len(v.fields)+1)
	for k, f := range v.fields {
		fields[k] = f
	}
	keys := append([]string(nil), v.keys...)
	if _, exists := fields[key]; !exists {
		keys = append(keys, key)
	}
	fields[key] = elem
	return Value{kind: Object, keys: keys, fields: fields}
}

// Equal reports deep equality. Object key order is not significant.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case Int:
		return a.i == b.i
	case Float:
		return a.f == b.f
	case String:
		return a.s == b.s
	case Array:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for k, av := range a.fields {
			bv, ok := b.fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Parse decodes JSON into a Value. Integers stay integers, numbers with a
// fraction or exponent become floats.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseNext(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("metavalue: unexpected data after value")
	}
	return v, nil
}

func parseNext(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			arr := Value{kind: Array, items: []Value{}}
			for dec.More() {
				elem, err := parseNext(dec)
				if err != nil {
					return Value{}, err
				}
				arr.items = append(arr.items, elem)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return arr, nil
		case '{':
			obj := Value{kind: Object, fields: map[string]Value{}}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("metavalue: object key is %T", kt)
				}
				elem, err := parseNext(dec)
				if err != nil {
					return Value{}, err
				}
				if _, dup := obj.fields[key]; !dup {
					obj.keys = append(obj.keys, key)
				}
				obj.fields[key] = elem
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return obj, nil
		}
		return Value{}, fmt.Errorf("metavalue: unexpected delimiter %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("metavalue: bad number %q: %w", t.String(), err)
		}
		return FloatValue(f), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case nil:
		return NullValue(), nil
	}
	return Value{}, fmt.Errorf("metavalue: unexpected token %T", tok)
}

// MarshalJSON encodes the value, keeping object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler via Parse.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Int:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case Float:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return fmt.Errorf("metavalue: cannot encode %v", v.f)
		}
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if v.f == math.Trunc(v.f) && !strings.ContainsAny(s, ".eE") {
			// Keep a float a float across a round trip.
			s += ".0"
		}
		buf.WriteString(s)
	case String:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, elem := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := elem.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// String returns the JSON encoding, for logs.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(b)
}
