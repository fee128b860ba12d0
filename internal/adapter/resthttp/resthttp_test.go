package resthttp

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"github.com/code0-tech/draco-adapter/internal/bus"
	"github.com/code0-tech/draco-adapter/internal/datatype"
	"github.com/code0-tech/draco-adapter/internal/dispatcher"
	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/registry/memory"
	"github.com/code0-tech/draco-adapter/internal/runtime"
	"github.com/code0-tech/draco-adapter/internal/value"
	"github.com/code0-tech/draco-adapter/internal/wire"
)

type fakeBus struct {
	reply    []byte
	replyErr error
}

func (f *fakeBus) Request(context.Context, string, []byte) ([]byte, error) {
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	return f.reply, nil
}
func (f *fakeBus) Close() error { return nil }

var _ bus.Bus = (*fakeBus)(nil)

func putFlow(t *testing.T, store *memory.Store, key string, f flow.ValidationFlow) {
	t.Helper()
	encoded, err := wire.EncodeValidationFlow(f)
	require.NoError(t, err)
	store.Put(key, encoded)
}

func newTestServer(t *testing.T, store *memory.Store, b bus.Bus) *httptest.Server {
	t.Helper()
	rc := &runtime.Context{
		Registry:   store,
		DecodeFlow: wire.DecodeValidationFlow,
		Dispatcher: dispatcher.New(b, nil, nil),
	}
	return httptest.NewServer(newHandler(rc, nil))
}

// A single matching flow dispatches once and the executor reply maps onto the HTTP response.
func TestHTTPHappyPath(t *testing.T) {
	store := memory.New()
	putFlow(t, store, "REST.api.42", flow.ValidationFlow{
		FlowID: "42",
		Settings: []flow.Setting{
			{SettingID: "HTTP_METHOD", Object: value.Struct(value.Field("method", value.String("GET")))},
			{SettingID: "HTTP_URL", Object: value.Struct(value.Field("url", value.String(`^/api/users/\d+$`)))},
		},
	})

	reply := value.Struct(
		value.Field("status_code", value.Number(200)),
		value.Field("headers", value.List(value.Struct(
			value.Field("key", value.String("content-type")),
			value.Field("value", value.String("application/json")),
		))),
		value.Field("payload", value.EmptyStruct()),
	)
	replyPayload, err := wire.EncodeValue(reply)
	require.NoError(t, err)

	server := newTestServer(t, store, &fakeBus{reply: replyPayload})
	defer server.Close()

	e := httpexpect.Default(t, server.URL)
	e.GET("/api/users/7").
		Expect().
		Status(200).
		Header("Content-Type").IsEqual("application/json")
}

// A body failing the flow's input type yields a 400 carrying the violation report.
func TestHTTPValidationFailure(t *testing.T) {
	store := memory.New()
	inputType := datatype.Concrete("REQ")
	universe := datatype.Universe{
		"REQ": {
			Identifier: inputType,
			Rules: []datatype.Rule{
				datatype.ContainsKeyRule("x", datatype.Concrete("HTTP_URL")),
			},
		},
		"HTTP_URL": {
			Identifier: datatype.Concrete("HTTP_URL"),
			Rules:      []datatype.Rule{datatype.RegexRule(`^/api/.*$`)},
		},
	}
	putFlow(t, store, "REST.api.42", flow.ValidationFlow{
		FlowID:              "42",
		InputTypeIdentifier: &inputType,
		DataTypes:           universe,
		Settings: []flow.Setting{
			{SettingID: "HTTP_METHOD", Object: value.Struct(value.Field("method", value.String("GET")))},
			{SettingID: "HTTP_URL", Object: value.Struct(value.Field("url", value.String(`^/api/users/\d+$`)))},
		},
	})

	server := newTestServer(t, store, &fakeBus{})
	defer server.Close()

	e := httpexpect.Default(t, server.URL)
	body := e.GET("/api/users/7").
		WithJSON(map[string]any{"x": 123}).
		Expect().
		Status(400).
		JSON().Object()
	body.Value("violation_count").Number().Gt(0)
}

// No flow matching the slug pattern yields a 404.
func TestHTTPNoMatch(t *testing.T) {
	store := memory.New()
	putFlow(t, store, "REST.foo.1", flow.ValidationFlow{FlowID: "1"})

	server := newTestServer(t, store, &fakeBus{})
	defer server.Close()

	httpexpect.Default(t, server.URL).GET("/bar/anything").Expect().Status(404)
}

// A bus timeout surfaces as a 500.
func TestHTTPDispatchFailure(t *testing.T) {
	store := memory.New()
	putFlow(t, store, "REST.api.42", flow.ValidationFlow{
		FlowID: "42",
		Settings: []flow.Setting{
			{SettingID: "HTTP_METHOD", Object: value.Struct(value.Field("method", value.String("GET")))},
			{SettingID: "HTTP_URL", Object: value.Struct(value.Field("url", value.String(`^/api/users/\d+$`)))},
		},
	})

	server := newTestServer(t, store, &fakeBus{replyErr: bus.ErrTimeout})
	defer server.Close()

	httpexpect.Default(t, server.URL).GET("/api/users/7").Expect().Status(500)
}
