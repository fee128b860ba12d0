package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/registry/memory"
)

func decodeFlowID(raw []byte) (flow.ValidationFlow, error) {
	return flow.ValidationFlow{FlowID: string(raw)}, nil
}

func alwaysTrue(flow.ValidationFlow) bool { return true }

func TestMatch_None(t *testing.T) {
	store := memory.New()
	result := Match(context.Background(), store, "rest.*", decodeFlowID, alwaysTrue, nil)
	require.Equal(t, ResultNone, result.Kind)
	require.Empty(t, result.Flows)
}

func TestMatch_Single(t *testing.T) {
	store := memory.New()
	store.Put("rest.users.get", []byte("flow-a"))
	store.Put("cron.nightly", []byte("flow-b"))

	result := Match(context.Background(), store, "rest.*", decodeFlowID, alwaysTrue, nil)
	require.Equal(t, ResultSingle, result.Kind)
	require.Len(t, result.Flows, 1)
	require.Equal(t, "flow-a", result.Flows[0].FlowID)
}

func TestMatch_Multiple(t *testing.T) {
	store := memory.New()
	store.Put("rest.users.get", []byte("flow-a"))
	store.Put("rest.orders.get", []byte("flow-b"))

	result := Match(context.Background(), store, "rest.*", decodeFlowID, alwaysTrue, nil)
	require.Equal(t, ResultMultiple, result.Kind)
	require.Len(t, result.Flows, 2)
}

// The predicate filters candidates already passing the key pattern; a
// predicate rejecting everything yields None even when keys match.
func TestMatch_PredicateFiltersToNone(t *testing.T) {
	store := memory.New()
	store.Put("rest.users.get", []byte("flow-a"))

	result := Match(context.Background(), store, "rest.*", decodeFlowID, func(flow.ValidationFlow) bool { return false }, nil)
	require.Equal(t, ResultNone, result.Kind)
}

// A decode failure on one key is logged and skipped, not fatal to the scan.
func TestMatch_DecodeFailureSkipped(t *testing.T) {
	store := memory.New()
	store.Put("rest.users.get", []byte("bad"))
	store.Put("rest.orders.get", []byte("good"))

	decode := func(raw []byte) (flow.ValidationFlow, error) {
		if string(raw) == "bad" {
			return flow.ValidationFlow{}, errors.New("boom")
		}
		return flow.ValidationFlow{FlowID: string(raw)}, nil
	}

	result := Match(context.Background(), store, "rest.*", decode, alwaysTrue, nil)
	require.Equal(t, ResultSingle, result.Kind)
	require.Equal(t, "good", result.Flows[0].FlowID)
}

// An iterator error yields None rather than propagating.
func TestMatch_ScanErrorYieldsNone(t *testing.T) {
	store := erroringStore{}
	result := Match(context.Background(), store, "rest.*", decodeFlowID, alwaysTrue, nil)
	require.Equal(t, ResultNone, result.Kind)
}

type erroringStore struct{}

func (erroringStore) Keys(ctx context.Context) (<-chan string, <-chan error) {
	keys := make(chan string)
	errs := make(chan error, 1)
	close(keys)
	errs <- errors.New("scan exploded")
	close(errs)
	return keys, errs
}

func (erroringStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

// Keys outside the pattern never reach the decoder.
func TestMatch_PatternExcludesNonMatchingKeys(t *testing.T) {
	store := memory.New()
	store.Put("cron.nightly", []byte("flow-a"))

	result := Match(context.Background(), store, "rest.*", decodeFlowID, alwaysTrue, nil)
	require.Equal(t, ResultNone, result.Kind)
}
