// Package value implements the universal JSON-like tagged union used for
// flow inputs, outputs, settings, and parameter literals.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindStruct
)

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
	case KindStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Value is a tagged union over Null | Bool | Number | String | List | Struct.
// Exactly one of the variant-specific fields is meaningful, selected by Kind.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	list   []Value
	fields map[string]Value
	// order records Struct field insertion order, as returned by Fields;
	// MarshalJSON does not use it (encoding/json writes map keys sorted).
	// The data model itself treats Struct as unordered.
	order []string
}

func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func List(items ...Value) Value { return Value{kind: KindList, list: items} }

func EmptyStruct() Value { return Value{kind: KindStruct, fields: map[string]Value{}} }

// Struct builds a Struct value from an ordered slice of key/value pairs.
// Keys are unique: a repeated key overwrites the earlier value and keeps
// its original position.
func Struct(pairs ...KV) Value {
	v := EmptyStruct()
	for _, p := range pairs {
		if _, seen := v.fields[p.Key]; !seen {
			v.order = append(v.order, p.Key)
		}
		v.fields[p.Key] = p.Val
	}
	return v
}

// KV is a single Struct field used by the Struct constructor.
type KV struct {
	Key string
	Val Value
}

func Field(key string, val Value) KV { return KV{Key: key, Val: val} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Get looks up a single (non-dotted) field on a Struct value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindStruct {
		return Value{}, false
	}
	val, ok := v.fields[key]
	return val, ok
}

// Fields returns the Struct's field names in insertion order.
func (v Value) Fields() []string {
	if v.kind != KindStruct {
		return nil
	}
	out := make([]string, len(v.order))
	copy(out, v.order)
	return out
}

// Stringify renders scalar values the way the Regex rule requires:
// Bool/Number/Null are stringified, String passes through unchanged.
// Lists and Structs are not stringifiable and return ok=false.
func (v Value) Stringify() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindBool:
		if v.b {
			return "true", true
		}
		return "false", true
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64), true
	case KindNull:
		return "null", true
	default:
		return "", false
	}
}

// Equal performs structural (deep) equality, used by the ItemOfCollection rule.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindStruct:
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
	default:
		return false
	}
}

// DecodeJSON parses a JSON document into a Value. Struct field order is
// normalized to sorted key order rather than document order, since Structs
// are unordered in the data model and Go's map iteration would otherwise
// make JSON re-encoding nondeterministic.
func DecodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("value: decode json: %w", err)
	}
	return fromAny(raw), nil
}

func fromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case json.Number:
		f, _ := v.Float64()
		return Number(f)
	case float64:
		return Number(v)
	case string:
		return String(v)
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = fromAny(item)
		}
		return List(items...)
	case map[string]any:
		out := EmptyStruct()
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.fields[k] = fromAny(v[k])
			out.order = append(out.order, k)
		}
		return out
	default:
		return Null()
	}
}

// MarshalJSON renders the Value back to JSON, used for HTTP shell responses
// and control-plane payloads.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		return json.Marshal(v.list)
	case KindStruct:
		m := make(map[string]Value, len(v.fields))
		for k, fv := range v.fields {
			m[k] = fv
		}
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeJSON(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}
