package value

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/types/known/structpb"
)

// ToStructpb converts a Value into the protobuf well-known Value type so it
// can be framed with google.golang.org/protobuf for the registry and the bus
// (see internal/wire).
func ToStructpb(v Value) (*structpb.Value, error) {
	switch v.kind {
	case KindNull:
		return structpb.NewNullValue(), nil
	case KindBool:
		return structpb.NewBoolValue(v.b), nil
	case KindNumber:
		return structpb.NewNumberValue(v.n), nil
	case KindString:
		return structpb.NewStringValue(v.s), nil
	case KindList:
		items := make([]*structpb.Value, len(v.list))
		for i, item := range v.list {
			pv, err := ToStructpb(item)
			if err != nil {
				return nil, err
			}
			items[i] = pv
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items}), nil
	case KindStruct:
		fields := make(map[string]*structpb.Value, len(v.fields))
		for k, fv := range v.fields {
			pv, err := ToStructpb(fv)
			if err != nil {
				return nil, err
			}
			fields[k] = pv
		}
		return structpb.NewStructValue(&structpb.Struct{Fields: fields}), nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// ToAny renders a Value as a plain Go value (bool/float64/string/nil/
// []any/map[string]any) suitable as a mapstructure source field or for
// structpb.NewStruct, by round-tripping through structpb's own conversion.
func ToAny(v Value) (any, error) {
	pv, err := ToStructpb(v)
	if err != nil {
		return nil, err
	}
	return pv.AsInterface(), nil
}

// FromAny is the inverse of ToAny.
func FromAny(a any) (Value, error) {
	pv, err := structpb.NewValue(a)
	if err != nil {
		return Value{}, fmt.Errorf("value: from any: %w", err)
	}
	return FromStructpb(pv), nil
}

// FromStructpb converts a protobuf well-known Value back into a Value.
func FromStructpb(pv *structpb.Value) Value {
	if pv == nil {
		return Null()
	}
	switch kind := pv.GetKind().(type) {
	case *structpb.Value_NullValue:
		return Null()
	case *structpb.Value_BoolValue:
		return Bool(kind.BoolValue)
	case *structpb.Value_NumberValue:
		return Number(kind.NumberValue)
	case *structpb.Value_StringValue:
		return String(kind.StringValue)
	case *structpb.Value_ListValue:
		items := make([]Value, len(kind.ListValue.GetValues()))
		for i, item := range kind.ListValue.GetValues() {
			items[i] = FromStructpb(item)
		}
		return List(items...)
	case *structpb.Value_StructValue:
		// Sorted key order keeps re-encoding deterministic, matching
		// DecodeJSON's normalization.
		fields := kind.StructValue.GetFields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := EmptyStruct()
		for _, k := range keys {
			out.fields[k] = FromStructpb(fields[k])
			out.order = append(out.order, k)
		}
		return out
	default:
		return Null()
	}
}
