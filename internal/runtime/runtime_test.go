package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code0-tech/draco-adapter/internal/bus"
	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/registry/memory"
)

type fakeBus struct{}

func (fakeBus) Request(context.Context, string, []byte) ([]byte, error) { return nil, nil }

func (fakeBus) Close() error { return nil }

var _ bus.Bus = fakeBus{}

// countingAdapter records how many times each lifecycle hook fired and
// blocks in Run until ctx is canceled, the shape a well-behaved shell's
// run loop has.
type countingAdapter struct {
	initCount     int32
	runCount      int32
	shutdownCount int32
}

func (a *countingAdapter) Init(context.Context, *Context) error {
	atomic.AddInt32(&a.initCount, 1)
	return nil
}

func (a *countingAdapter) Run(ctx context.Context, _ *Context) error {
	atomic.AddInt32(&a.runCount, 1)
	<-ctx.Done()
	return nil
}

func (a *countingAdapter) Shutdown(context.Context, *Context) error {
	atomic.AddInt32(&a.shutdownCount, 1)
	return nil
}

func baseOptions(t *testing.T, adapter Adapter) Options {
	t.Helper()
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("GRPC_HOST", "localhost")
	t.Setenv("GRPC_PORT", "50051")
	t.Setenv("MODE", "static")
	t.Setenv("WITH_HEALTH_SERVICE", "false")
	t.Setenv("METRICS_ADDRESS", "")

	decode := func(raw []byte) (flow.ValidationFlow, error) { return flow.ValidationFlow{}, nil }
	return Options{
		Adapter:    adapter,
		Registry:   memory.New(),
		DecodeFlow: decode,
		Bus:        fakeBus{},
	}
}

// Shutdown is invoked exactly once for a run that ends via cancellation of
// the parent context, which is the same path signal.NotifyContext wraps
// for Ctrl+C/SIGTERM.
func TestRuntimeShutdownCalledExactlyOnceOnCancellation(t *testing.T) {
	adapter := &countingAdapter{}
	rt, err := New(baseOptions(t, adapter))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// Give Run a moment to reach the Running state before canceling.
	require.Eventually(t, func() bool {
		return rt.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime.Run did not return after cancellation")
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&adapter.initCount))
	require.Equal(t, int32(1), atomic.LoadInt32(&adapter.runCount))
	require.Equal(t, int32(1), atomic.LoadInt32(&adapter.shutdownCount))
	require.Equal(t, StateStopped, rt.State())
}

// When Run returns on its own (no external shutdown signal), the state
// machine goes straight from Running to Stopped and Shutdown is never
// called.
func TestRuntimeRunReturningOnItsOwnSkipsShutdown(t *testing.T) {
	adapter := &selfEndingAdapter{}
	rt, err := New(baseOptions(t, adapter))
	require.NoError(t, err)

	err = rt.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, int32(1), atomic.LoadInt32(&adapter.initCount))
	require.Equal(t, int32(0), atomic.LoadInt32(&adapter.shutdownCount))
	require.Equal(t, StateStopped, rt.State())
}

type selfEndingAdapter struct {
	initCount     int32
	shutdownCount int32
}

func (a *selfEndingAdapter) Init(context.Context, *Context) error {
	atomic.AddInt32(&a.initCount, 1)
	return nil
}

func (a *selfEndingAdapter) Run(context.Context, *Context) error { return nil }

func (a *selfEndingAdapter) Shutdown(context.Context, *Context) error {
	atomic.AddInt32(&a.shutdownCount, 1)
	return nil
}

func TestRuntimeFatalOnAdapterRunError(t *testing.T) {
	adapter := &erroringAdapter{}
	rt, err := New(baseOptions(t, adapter))
	require.NoError(t, err)

	err = rt.Run(context.Background())
	require.Error(t, err)
	var runErr *AdapterRunError
	require.ErrorAs(t, err, &runErr)
}

type erroringAdapter struct{}

func (erroringAdapter) Init(context.Context, *Context) error { return nil }

func (erroringAdapter) Run(context.Context, *Context) error { return errRunFailed }

func (erroringAdapter) Shutdown(context.Context, *Context) error { return nil }

var errRunFailed = errors.New("boom")
