package metavalue

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Segment is one step of a recorded path: an array index or an object key.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func KeySegment(key string) Segment { return Segment{Key: key} }
func IndexSegment(i int) Segment { return Segment{Index: i, IsIndex: true} }

func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return "." + s.Key
}

// Path is the ordered list of accessors recorded at export time. In JSON it is
// an array whose integers are indexes and whose strings are keys.
type Path []Segment

func (p Path) String() string {
	var b strings.Builder
	for _, s := range p {
		b.WriteString(s.String())
	}
	return b.String()
}

func (p Path) MarshalJSON() ([]byte, error) {
	elems := make([]Value, 0, len(p))
	for _, s := range p {
		if s.IsIndex {
			elems = append(elems, IntValue(int64(s.Index)))
		} else {
			elems = append(elems, StringValue(s.Key))
		}
	}
	return ArrayValue(elems...).MarshalJSON()
}

func (p *Path) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	if v.Kind() == Null {
		*p = nil
		return nil
	}
	if v.Kind() != Array {
		return fmt.Errorf("metavalue: path must be an array, got %s", v.Kind())
	}
	out := make(Path, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem, _ := v.Index(i)
		switch elem.Kind() {
		case Int:
			n, _ := elem.AsInt()
			out = append(out, IndexSegment(int(n)))
		case Float:
			f, _ := elem.AsFloat()
			if f != math.Trunc(f) {
				return fmt.Errorf("metavalue: path segment %d is not an index: %v", i, f)
			}
			out = append(out, IndexSegment(int(f)))
		case String:
			s, _ := elem.AsString()
			out = append(out, KeySegment(s))
		default:
			return fmt.Errorf("metavalue: path segment %d has kind %s", i, elem.Kind())
		}
	}
	*p = out
	return nil
}

// step resolves one segment against v. Exporters sometimes record a numeric
// key for a list or an index for a map with numeric keys, so both are tried.
func step(v Value, s Segment) (Value, Segment, bool) {
	switch v.Kind() {
	case Array:
		idx := s.Index
		if !s.IsIndex {
			n, err := strconv.Atoi(s.Key)
			if err != nil {
				return Value{}, s, false
			}
			idx = n
		}
		elem, ok := v.Index(idx)
		return elem, IndexSegment(idx), ok
	case Object:
		key := s.Key
		if s.IsIndex {
			key = strconv.Itoa(s.Index)
		}
		elem, ok := v.Field(key)
		return elem, KeySegment(key), ok
	}
	return Value{}, s, false
}

// Lookup returns the value at path.
func Lookup(root Value, path Path) (Value, bool) {
	cur := root
	for _, s := range path {
		next, _, ok := step(cur, s)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Replace returns a copy of root with the value at path replaced by fn's
// result. fn reports false to leave the tree untouched. The bool result is
// false when the path does not resolve or fn declined.
func Replace(root Value, path Path, fn func(Value) (Value, bool)) (Value, bool) {
	if len(path) == 0 {
		return fn(root)
	}
	child, resolved, ok := step(root, path[0])
	if !ok {
		return root, false
	}
	newChild, ok := Replace(child, path[1:], fn)
	if !ok {
		return root, false
	}
	if resolved.IsIndex {
		return root.withIndex(resolved.Index, newChild), true
	}
	return root.withField(resolved.Key, newChild), true
}

// ReplaceID swaps the scalar id at path from oldID to newID, keeping its type:
// an int stays an int, a float a float, a numeric string a string. Anything
// else at the end of the path, or an id other than oldID, is left alone.
func ReplaceID(root Value, path Path, oldID, newID int64) (Value, bool) {
	return Replace(root, path, func(v Value) (Value, bool) {
		switch v.Kind() {
		case Int:
			if n, _ := v.AsInt(); n == oldID {
				return IntValue(newID), true
			}
		case Float:
			if f, _ := v.AsFloat(); f == float64(oldID) {
				return FloatValue(float64(newID)), true
			}
		case String:
			s, _ := v.AsString()
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && n == oldID {
				return StringValue(strconv.FormatInt(newID, 10)), true
			}
		}
		return v, false
	})
}
