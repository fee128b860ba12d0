// Package controlplane implements the best-effort definition push: in
// non-static mode, the adapter sends its declared data types and flow
// types to AQUILA_URL at boot. There is no .proto contract; the request
// and reply are both a plain structpb.Struct invoked against a fixed
// method name, so no codegen step is required.
package controlplane

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code0-tech/draco-adapter/internal/datatype"
)

// pushMethod is the fixed RPC the control plane exposes for definition
// pushes. It is not backed by a generated stub: structpb.Struct already
// satisfies proto.Message, so grpc.ClientConn.Invoke can call it directly.
const pushMethod = "/aquila.Definitions/Push"

// FlowType is the minimal shape of a flow type pushed to the control
// plane: its identifier, starting node, and the input type it expects, if
// any. A definition push declares flow shapes, not live flow instances.
type FlowType struct {
	FlowID              string
	StartingNodeID      string
	InputTypeIdentifier *datatype.Identifier
}

// Definitions is the adapter's declared type universe, pushed wholesale on
// boot and again whenever DEFINITION_PATH changes.
type Definitions struct {
	DataTypes []datatype.DataType
	FlowTypes []FlowType
}

// Pusher is the capability Runtime depends on; Client is the concrete gRPC
// implementation, and a no-op Pusher satisfies "static" mode callers that
// never construct a Client.
type Pusher interface {
	Push(ctx context.Context, defs Definitions) error
}

// Noop never contacts the control plane, used in "static" mode.
type Noop struct{}

func (Noop) Push(context.Context, Definitions) error { return nil }

// Client pushes Definitions over a single shared gRPC connection.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial opens the gRPC connection to the AQUILA_URL target. The control
// plane is treated as plaintext gRPC; a "grpc://" scheme prefix is
// stripped since gRPC's resolver has no such scheme.
func Dial(target string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	target = strings.TrimPrefix(target, "grpc://")
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("controlplane: dial %s: %w", target, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Push encodes and sends Definitions. This is best-effort: callers log a
// failure here rather than treat it as fatal.
func (c *Client) Push(ctx context.Context, defs Definitions) error {
	req, err := encodeDefinitions(defs)
	if err != nil {
		return fmt.Errorf("controlplane: encode definitions: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, pushMethod, req, reply); err != nil {
		return fmt.Errorf("controlplane: push: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func encodeDefinitions(defs Definitions) (*structpb.Struct, error) {
	dataTypes := make([]any, len(defs.DataTypes))
	for i, dt := range defs.DataTypes {
		encoded, err := encodeDataType(dt)
		if err != nil {
			return nil, fmt.Errorf("data type %q: %w", dt.Identifier.String(), err)
		}
		dataTypes[i] = encoded
	}

	flowTypes := make([]any, len(defs.FlowTypes))
	for i, ft := range defs.FlowTypes {
		entry := map[string]any{
			"flow_id":          ft.FlowID,
			"starting_node_id": ft.StartingNodeID,
		}
		if ft.InputTypeIdentifier != nil {
			entry["input_type_identifier"] = ft.InputTypeIdentifier.String()
		}
		flowTypes[i] = entry
	}

	return structpb.NewStruct(map[string]any{
		"data_types": dataTypes,
		"flow_types": flowTypes,
	})
}

func encodeDataType(dt datatype.DataType) (map[string]any, error) {
	rules := make([]any, len(dt.Rules))
	for i, r := range dt.Rules {
		rules[i] = encodeRule(r)
	}

	out := map[string]any{
		"identifier": dt.Identifier.String(),
		"rules":      rules,
	}
	if dt.ParentIdentifier != nil {
		out["parent_identifier"] = dt.ParentIdentifier.String()
	}
	return out, nil
}

func encodeRule(r datatype.Rule) map[string]any {
	switch r.Kind {
	case datatype.RuleRegex:
		return map[string]any{"kind": "regex", "pattern": r.Pattern}
	case datatype.RuleNumberRange:
		return map[string]any{"kind": "number_range", "from": r.From, "to": r.To, "steps": r.Steps}
	case datatype.RuleItemOfCollection:
		items := make([]any, len(r.Items))
		for i, item := range r.Items {
			s, ok := item.Stringify()
			if !ok {
				s = item.Kind().String()
			}
			items[i] = s
		}
		return map[string]any{"kind": "item_of_collection", "items": items}
	case datatype.RuleContainsKey:
		return map[string]any{"kind": "contains_key", "key": r.Key, "key_type": r.KeyType.String()}
	case datatype.RuleContainsType:
		return map[string]any{"kind": "contains_type", "element_type": r.ElementType.String()}
	default:
		return map[string]any{"kind": "unknown"}
	}
}
