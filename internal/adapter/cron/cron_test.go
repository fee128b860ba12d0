package cron

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code0-tech/draco-adapter/internal/bus"
	"github.com/code0-tech/draco-adapter/internal/dispatcher"
	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/registry/memory"
	"github.com/code0-tech/draco-adapter/internal/runtime"
	"github.com/code0-tech/draco-adapter/internal/value"
	"github.com/code0-tech/draco-adapter/internal/wire"
)

type countingBus struct {
	count int32
}

func (b *countingBus) Request(context.Context, string, []byte) ([]byte, error) {
	atomic.AddInt32(&b.count, 1)
	reply := value.Struct(value.Field("status", value.String("ok")))
	return wire.EncodeValue(reply)
}
func (b *countingBus) Close() error { return nil }

var _ bus.Bus = (*countingBus)(nil)

func everyMinuteFlow(id string) flow.ValidationFlow {
	return flow.ValidationFlow{
		FlowID: id,
		Settings: []flow.Setting{
			{SettingID: "CRON_MINUTE", Object: value.Struct(value.Field("minute", value.String("*")))},
			{SettingID: "CRON_HOUR", Object: value.Struct(value.Field("hour", value.String("*")))},
			{SettingID: "CRON_DAY_OF_MONTH", Object: value.Struct(value.Field("day_of_month", value.String("*")))},
			{SettingID: "CRON_MONTH", Object: value.Struct(value.Field("month", value.String("*")))},
			{SettingID: "CRON_DAY_OF_WEEK", Object: value.Struct(value.Field("day_of_week", value.String("*")))},
		},
	}
}

// Two flows share a minute boundary, the matcher returns both, and each
// is dispatched sequentially.
func TestCronDispatchesEveryMatchSequentially(t *testing.T) {
	store := memory.New()
	for _, id := range []string{"1", "2"} {
		encoded, err := wire.EncodeValidationFlow(everyMinuteFlow(id))
		require.NoError(t, err)
		store.Put("CRON."+id, encoded)
	}

	b := &countingBus{}
	rc := &runtime.Context{
		Registry:   store,
		DecodeFlow: wire.DecodeValidationFlow,
		Dispatcher: dispatcher.New(b, slog.Default(), nil),
		Logger:     slog.Default(),
	}

	a := New()
	require.NoError(t, a.Init(context.Background(), rc))
	a.tick(context.Background(), rc)

	require.Equal(t, int32(2), atomic.LoadInt32(&b.count))
}

func TestFiresNowMatchesWildcardSchedule(t *testing.T) {
	f := everyMinuteFlow("1")
	fires, err := firesNow(f, time.Now())
	require.NoError(t, err)
	require.True(t, fires)
}

func TestFiresNowFalseForMissingSettings(t *testing.T) {
	f := flow.ValidationFlow{FlowID: "no-schedule"}
	fires, err := firesNow(f, time.Now())
	require.NoError(t, err)
	require.False(t, fires)
}
