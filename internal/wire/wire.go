// Package wire implements the shared on-the-wire encoding: ValidationFlow,
// ExecutionFlow, and Value are converted to
// google.golang.org/protobuf/types/known/structpb messages and framed with
// a 4-byte big-endian length prefix, for both registry storage and bus
// payloads. Producers and consumers must agree on this framing.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code0-tech/draco-adapter/internal/datatype"
	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/value"
)

const lengthPrefixBytes = 4

// Frame prepends a 4-byte big-endian length prefix to payload.
func Frame(payload []byte) []byte {
	out := make([]byte, lengthPrefixBytes+len(payload))
	binary.BigEndian.PutUint32(out[:lengthPrefixBytes], uint32(len(payload)))
	copy(out[lengthPrefixBytes:], payload)
	return out
}

// Unframe strips and validates the length prefix, returning the inner payload.
func Unframe(framed []byte) ([]byte, error) {
	if len(framed) < lengthPrefixBytes {
		return nil, fmt.Errorf("wire: frame too short: %d bytes", len(framed))
	}
	n := binary.BigEndian.Uint32(framed[:lengthPrefixBytes])
	rest := framed[lengthPrefixBytes:]
	if uint32(len(rest)) != n {
		return nil, fmt.Errorf("wire: length prefix %d does not match payload length %d", n, len(rest))
	}
	return rest, nil
}

// ReadFramed reads one length-prefixed message from a stream transport,
// for readers of raw connections rather than whole pre-framed byte slices.
func ReadFramed(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}

// EncodeValue frames a Value as a structpb.Value.
func EncodeValue(v value.Value) ([]byte, error) {
	pv, err := value.ToStructpb(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode value: %w", err)
	}
	raw, err := proto.Marshal(pv)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal value: %w", err)
	}
	return Frame(raw), nil
}

// DecodeValue unframes and decodes a Value.
func DecodeValue(framed []byte) (value.Value, error) {
	raw, err := Unframe(framed)
	if err != nil {
		return value.Value{}, err
	}
	var pv structpb.Value
	if err := proto.Unmarshal(raw, &pv); err != nil {
		return value.Value{}, fmt.Errorf("wire: unmarshal value: %w", err)
	}
	return value.FromStructpb(&pv), nil
}

// validationFlowWire and executionFlowWire are the mapstructure-friendly
// shapes of flow.ValidationFlow/flow.ExecutionFlow. NodeFunctions/Settings
// are pre-flattened to []interface{} of map[string]any (rather than left
// as nested Go structs, and not a concrete []map[string]any, since
// structpb.NewValue type-switches on exactly []interface{}/
// map[string]interface{}) so the struct→map→struct round trip through
// mapstructure never has to guess how to recurse into a nested struct
// type; Value payloads are pre-converted to plain Go values via
// value.ToAny/FromAny.
type validationFlowWire struct {
	FlowID              string        `mapstructure:"flow_id"`
	StartingNodeID      string        `mapstructure:"starting_node_id"`
	NodeFunctions       []interface{} `mapstructure:"node_functions"`
	Settings            []interface{} `mapstructure:"settings"`
	InputTypeIdentifier string        `mapstructure:"input_type_identifier"`
	DataTypes           []interface{} `mapstructure:"data_types"`
}

// dataTypeWire and ruleWire mirror datatype.DataType/datatype.Rule for the
// wire, using the same field/kind vocabulary internal/controlplane's
// data_types/*.yaml decoder uses, so a flow's closed type universe
// round-trips through the registry exactly like every other
// ValidationFlow field instead of being dropped at the wire boundary.
type dataTypeWire struct {
	Identifier       string        `mapstructure:"identifier"`
	ParentIdentifier string        `mapstructure:"parent_identifier"`
	Rules            []interface{} `mapstructure:"rules"`
}

type ruleWire struct {
	Kind        string        `mapstructure:"kind"`
	Pattern     string        `mapstructure:"pattern"`
	From        float64       `mapstructure:"from"`
	To          float64       `mapstructure:"to"`
	Steps       float64       `mapstructure:"steps"`
	Items       []interface{} `mapstructure:"items"`
	Key         string        `mapstructure:"key"`
	KeyType     string        `mapstructure:"key_type"`
	ElementType string        `mapstructure:"element_type"`
}

type executionFlowWire struct {
	FlowID         string        `mapstructure:"flow_id"`
	StartingNodeID string        `mapstructure:"starting_node_id"`
	InputValue     any           `mapstructure:"input_value"`
	NodeFunctions  []interface{} `mapstructure:"node_functions"`
}

func toWireNodeFunctions(in []flow.NodeFunction) ([]interface{}, error) {
	out := make([]interface{}, len(in))
	for i, nf := range in {
		payload, err := value.ToAny(nf.Payload)
		if err != nil {
			return nil, fmt.Errorf("wire: node function %q payload: %w", nf.ID, err)
		}
		out[i] = map[string]any{"id": nf.ID, "payload": payload}
	}
	return out, nil
}

func fromWireNodeFunctions(in []interface{}) ([]flow.NodeFunction, error) {
	out := make([]flow.NodeFunction, len(in))
	for i, raw := range in {
		nf, _ := raw.(map[string]any)
		id, _ := nf["id"].(string)
		v, err := value.FromAny(nf["payload"])
		if err != nil {
			return nil, fmt.Errorf("wire: node function %q payload: %w", id, err)
		}
		out[i] = flow.NodeFunction{ID: id, Payload: v}
	}
	return out, nil
}

func toWireRule(r datatype.Rule) (map[string]any, error) {
	items := make([]interface{}, len(r.Items))
	for i, it := range r.Items {
		v, err := value.ToAny(it)
		if err != nil {
			return nil, fmt.Errorf("wire: rule item: %w", err)
		}
		items[i] = v
	}
	return map[string]any{
		"kind":         r.Kind.String(),
		"pattern":      r.Pattern,
		"from":         r.From,
		"to":           r.To,
		"steps":        r.Steps,
		"items":        items,
		"key":          r.Key,
		"key_type":     r.KeyType.String(),
		"element_type": r.ElementType.String(),
	}, nil
}

func fromWireRule(raw any) (datatype.Rule, error) {
	m, _ := raw.(map[string]any)
	var rw ruleWire
	if err := mapstructure.Decode(m, &rw); err != nil {
		return datatype.Rule{}, fmt.Errorf("wire: decode rule: %w", err)
	}
	kind, err := datatype.ParseRuleKind(rw.Kind)
	if err != nil {
		return datatype.Rule{}, err
	}
	items := make([]value.Value, len(rw.Items))
	for i, it := range rw.Items {
		v, err := value.FromAny(it)
		if err != nil {
			return datatype.Rule{}, fmt.Errorf("wire: rule item: %w", err)
		}
		items[i] = v
	}
	return datatype.Rule{
		Kind:        kind,
		Pattern:     rw.Pattern,
		From:        rw.From,
		To:          rw.To,
		Steps:       rw.Steps,
		Items:       items,
		Key:         rw.Key,
		KeyType:     datatype.Concrete(rw.KeyType),
		ElementType: datatype.Concrete(rw.ElementType),
	}, nil
}

// toWireDataTypes flattens a flow's closed type universe into the same
// []interface{}-of-map[string]any shape toWireNodeFunctions uses, so
// structpb.NewValue can type-switch on it directly.
func toWireDataTypes(universe datatype.Universe) ([]interface{}, error) {
	out := make([]interface{}, 0, len(universe))
	for _, dt := range universe {
		rules := make([]interface{}, len(dt.Rules))
		for i, r := range dt.Rules {
			rw, err := toWireRule(r)
			if err != nil {
				return nil, err
			}
			rules[i] = rw
		}
		var parent string
		if dt.ParentIdentifier != nil {
			parent = dt.ParentIdentifier.String()
		}
		out = append(out, map[string]any{
			"identifier":        dt.Identifier.String(),
			"parent_identifier": parent,
			"rules":             rules,
		})
	}
	return out, nil
}

func fromWireDataTypes(raw []interface{}) (datatype.Universe, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	universe := make(datatype.Universe, len(raw))
	for _, entry := range raw {
		m, _ := entry.(map[string]any)
		var dw dataTypeWire
		if err := mapstructure.Decode(m, &dw); err != nil {
			return nil, fmt.Errorf("wire: decode data type: %w", err)
		}

		dt := datatype.DataType{Identifier: datatype.Concrete(dw.Identifier)}
		if dw.ParentIdentifier != "" {
			parent := datatype.Concrete(dw.ParentIdentifier)
			dt.ParentIdentifier = &parent
		}
		for _, rraw := range dw.Rules {
			rule, err := fromWireRule(rraw)
			if err != nil {
				return nil, err
			}
			dt.Rules = append(dt.Rules, rule)
		}
		universe[dt.Identifier.Name] = dt
	}
	return universe, nil
}

// structToStruct runs src (a plain Go struct) through mapstructure into a
// map[string]any and then into a structpb.Struct.
func structToStruct(src any) (*structpb.Struct, error) {
	var raw map[string]any
	if err := mapstructure.Decode(src, &raw); err != nil {
		return nil, fmt.Errorf("wire: mapstructure decode: %w", err)
	}
	pb, err := structpb.NewStruct(raw)
	if err != nil {
		return nil, fmt.Errorf("wire: structpb.NewStruct: %w", err)
	}
	return pb, nil
}

// EncodeValidationFlow frames a ValidationFlow as a structpb.Struct.
func EncodeValidationFlow(f flow.ValidationFlow) ([]byte, error) {
	nodeFns, err := toWireNodeFunctions(f.NodeFunctions)
	if err != nil {
		return nil, err
	}

	settings := make([]interface{}, len(f.Settings))
	for i, s := range f.Settings {
		obj, err := value.ToAny(s.Object)
		if err != nil {
			return nil, fmt.Errorf("wire: setting %q object: %w", s.SettingID, err)
		}
		settings[i] = map[string]any{"setting_id": s.SettingID, "object": obj}
	}

	var inputType string
	if f.InputTypeIdentifier != nil {
		inputType = f.InputTypeIdentifier.String()
	}

	dataTypes, err := toWireDataTypes(f.DataTypes)
	if err != nil {
		return nil, err
	}

	wire := validationFlowWire{
		FlowID:              f.FlowID,
		StartingNodeID:      f.StartingNodeID,
		NodeFunctions:       nodeFns,
		Settings:            settings,
		InputTypeIdentifier: inputType,
		DataTypes:           dataTypes,
	}

	pb, err := structToStruct(wire)
	if err != nil {
		return nil, fmt.Errorf("wire: encode validation flow: %w", err)
	}
	raw, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal validation flow: %w", err)
	}
	return Frame(raw), nil
}

// DecodeValidationFlow unframes and decodes a ValidationFlow, including
// its closed type universe, so ContainsKey/ContainsType resolution and
// InputTypeIdentifier lookup work against the exact universe the flow was
// written with.
func DecodeValidationFlow(framed []byte) (flow.ValidationFlow, error) {
	raw, err := Unframe(framed)
	if err != nil {
		return flow.ValidationFlow{}, err
	}
	var pb structpb.Struct
	if err := proto.Unmarshal(raw, &pb); err != nil {
		return flow.ValidationFlow{}, fmt.Errorf("wire: unmarshal validation flow: %w", err)
	}

	var wire validationFlowWire
	if err := mapstructure.Decode(pb.AsMap(), &wire); err != nil {
		return flow.ValidationFlow{}, fmt.Errorf("wire: decode validation flow: %w", err)
	}

	nodeFns, err := fromWireNodeFunctions(wire.NodeFunctions)
	if err != nil {
		return flow.ValidationFlow{}, err
	}

	settings := make([]flow.Setting, len(wire.Settings))
	for i, raw := range wire.Settings {
		s, _ := raw.(map[string]any)
		settingID, _ := s["setting_id"].(string)
		v, err := value.FromAny(s["object"])
		if err != nil {
			return flow.ValidationFlow{}, fmt.Errorf("wire: setting %q object: %w", settingID, err)
		}
		settings[i] = flow.Setting{SettingID: settingID, Object: v}
	}

	dataTypes, err := fromWireDataTypes(wire.DataTypes)
	if err != nil {
		return flow.ValidationFlow{}, err
	}

	out := flow.ValidationFlow{
		FlowID:         wire.FlowID,
		StartingNodeID: wire.StartingNodeID,
		NodeFunctions:  nodeFns,
		Settings:       settings,
		DataTypes:      dataTypes,
	}
	if wire.InputTypeIdentifier != "" {
		id := datatype.Concrete(wire.InputTypeIdentifier)
		out.InputTypeIdentifier = &id
	}
	return out, nil
}

// EncodeExecutionFlow frames an ExecutionFlow as a structpb.Struct.
func EncodeExecutionFlow(f flow.ExecutionFlow) ([]byte, error) {
	nodeFns, err := toWireNodeFunctions(f.NodeFunctions)
	if err != nil {
		return nil, err
	}

	var input any
	if f.InputValue != nil {
		input, err = value.ToAny(*f.InputValue)
		if err != nil {
			return nil, fmt.Errorf("wire: execution flow input: %w", err)
		}
	}

	wire := executionFlowWire{
		FlowID:         f.FlowID,
		StartingNodeID: f.StartingNodeID,
		InputValue:     input,
		NodeFunctions:  nodeFns,
	}

	pb, err := structToStruct(wire)
	if err != nil {
		return nil, fmt.Errorf("wire: encode execution flow: %w", err)
	}
	raw, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal execution flow: %w", err)
	}
	return Frame(raw), nil
}

// DecodeExecutionFlow unframes and decodes an ExecutionFlow.
func DecodeExecutionFlow(framed []byte) (flow.ExecutionFlow, error) {
	raw, err := Unframe(framed)
	if err != nil {
		return flow.ExecutionFlow{}, err
	}
	var pb structpb.Struct
	if err := proto.Unmarshal(raw, &pb); err != nil {
		return flow.ExecutionFlow{}, fmt.Errorf("wire: unmarshal execution flow: %w", err)
	}

	var wire executionFlowWire
	if err := mapstructure.Decode(pb.AsMap(), &wire); err != nil {
		return flow.ExecutionFlow{}, fmt.Errorf("wire: decode execution flow: %w", err)
	}

	nodeFns, err := fromWireNodeFunctions(wire.NodeFunctions)
	if err != nil {
		return flow.ExecutionFlow{}, err
	}

	out := flow.ExecutionFlow{
		FlowID:         wire.FlowID,
		StartingNodeID: wire.StartingNodeID,
		NodeFunctions:  nodeFns,
	}
	if wire.InputValue != nil {
		v, err := value.FromAny(wire.InputValue)
		if err != nil {
			return flow.ExecutionFlow{}, fmt.Errorf("wire: execution flow input: %w", err)
		}
		out.InputValue = &v
	}
	return out, nil
}
