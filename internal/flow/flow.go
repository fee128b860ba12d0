// Package flow models the flow shapes the adapter reads and forwards
// (settings, ValidationFlow, ExecutionFlow) and the dot-separated registry
// key-pattern matching rule.
package flow

import (
	"strings"

	"github.com/code0-tech/draco-adapter/internal/datatype"
	"github.com/code0-tech/draco-adapter/internal/value"
)

// NodeFunction is an opaque node-function reference; the adapter never
// interprets its contents, execution belongs to the remote engine.
type NodeFunction struct {
	ID      string
	Payload value.Value
}

// Setting is a single named, struct-shaped configuration block a flow
// carries.
type Setting struct {
	SettingID string
	Object    value.Value
}

// Field reads one flow setting field: settings[settingID].Object[fieldName].
// This direct lookup is the only settings-read path; field names are plain
// keys, never dotted paths.
func Field(settings []Setting, settingID, fieldName string) (value.Value, bool) {
	for _, s := range settings {
		if s.SettingID != settingID {
			continue
		}
		return s.Object.Get(fieldName)
	}
	return value.Value{}, false
}

// ValidationFlow is the flow as the adapter reads it out of the registry:
// it carries its own closed type universe for ContainsKey/ContainsType
// resolution and an optional input type to validate against.
type ValidationFlow struct {
	FlowID              string
	StartingNodeID      string
	NodeFunctions       []NodeFunction
	Settings            []Setting
	InputTypeIdentifier *datatype.Identifier
	DataTypes           datatype.Universe
}

// ExecutionFlow is the subset of a ValidationFlow forwarded to the executor,
// with the validated input attached.
type ExecutionFlow struct {
	FlowID         string
	StartingNodeID string
	InputValue     *value.Value
	NodeFunctions  []NodeFunction
}

// ToExecutionFlow drops settings and data types and attaches the input.
func ToExecutionFlow(f ValidationFlow, input *value.Value) ExecutionFlow {
	return ExecutionFlow{
		FlowID:         f.FlowID,
		StartingNodeID: f.StartingNodeID,
		InputValue:     input,
		NodeFunctions:  f.NodeFunctions,
	}
}

// MatchKey reports whether a registry key matches a pattern:
// segment-by-segment equality, '*' matches any single segment, and a
// trailing '*' in the pattern covers the rest of the key regardless of the
// key's remaining length. Without a trailing wildcard the segment counts
// must be equal, so "A.B" does not match key "A.B.C".
func MatchKey(pattern, key string) bool {
	patternSegs := strings.Split(pattern, ".")
	keySegs := strings.Split(key, ".")

	for i, p := range patternSegs {
		if p == "*" && i == len(patternSegs)-1 {
			return true
		}
		if i >= len(keySegs) {
			return false
		}
		if p != "*" && p != keySegs[i] {
			return false
		}
	}
	return len(patternSegs) == len(keySegs)
}
