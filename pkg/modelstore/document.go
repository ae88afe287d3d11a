package modelstore

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Kind tags the variant held by a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// String returns the kind name for error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged semi-structured value: null, bool, number, string, list
// or map. Parameter documents are free-form in the source files, so the
// storage boundary makes no assumption about their shape beyond this union.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	list []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a bool Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a number Value. All numerics collapse to float64, matching
// the JSON representation used at the storage boundary.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// List returns a list Value.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Map returns a map Value.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the bool variant. ok is false if v is not a bool.
func (v Value) AsBool() (b bool, ok bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number variant. ok is false if v is not a number.
func (v Value) AsNumber() (f float64, ok bool) { return v.num, v.kind == KindNumber }

// AsString returns the string variant. ok is false if v is not a string.
func (v Value) AsString() (s string, ok bool) { return v.str, v.kind == KindString }

// AsList returns the list variant. ok is false if v is not a list.
func (v Value) AsList() (vs []Value, ok bool) { return v.list, v.kind == KindList }

// AsMap returns the map variant. ok is false if v is not a map.
func (v Value) AsMap() (m map[string]Value, ok bool) { return v.m, v.kind == KindMap }

// Equal reports structural equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num || (math.IsNaN(v.num) && math.IsNaN(o.num))
	case KindString:
		return v.str == o.str
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, vv := range v.m {
			ov, present := o.m[k]
			if !present || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON serializes v to its JSON representation.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("marshaling value: unknown kind %s", v.kind)
	}
}

// UnmarshalJSON parses any JSON value into the union.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling value: %w", err)
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a plain Go value, as produced by encoding/json or YAML
// decoding, into a Value. Supported inputs are nil, bool, string, Go
// numerics, []any and map[string]any (recursively).
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("converting number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case []any:
		list := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			list[i] = v
		}
		return List(list...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Interface converts v back to a plain Go value (nil, bool, float64, string,
// []any or map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Document is one structured parameter set: a named collection of Values.
// A nil Document is valid and serializes as an empty JSON object.
type Document map[string]Value

// DocumentFromMap converts a decoded map, e.g. from a YAML parameter file,
// into a Document.
func DocumentFromMap(raw map[string]any) (Document, error) {
	doc := make(Document, len(raw))
	for k, item := range raw {
		v, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}

// Equal reports structural equality with another Document.
func (d Document) Equal(o Document) bool {
	if len(d) != len(o) {
		return false
	}
	for k, v := range d {
		ov, present := o[k]
		if !present || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Keys returns the document's field names, sorted.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON serializes the document, emitting {} for a nil Document so
// that jsonb columns never receive SQL NULL for a present document.
func (d Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Value(d))
}
