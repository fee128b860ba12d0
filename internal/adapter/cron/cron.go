// Package cron implements the Cron adapter shell: at each minute boundary,
// match every flow in the CRON.* namespace whose five cron settings fire
// right now, and dispatch each sequentially with no input. Schedules are
// parsed with github.com/robfig/cron/v3.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/metrics"
	"github.com/code0-tech/draco-adapter/internal/registry"
	"github.com/code0-tech/draco-adapter/internal/runtime"
)

const pattern = "CRON.*"

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Adapter implements runtime.Adapter for the Cron trigger family.
type Adapter struct {
	logger *slog.Logger
}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Init(_ context.Context, rc *runtime.Context) error {
	a.logger = rc.Logger.With(slog.String("adapter", "cron"))
	return nil
}

// Run ticks once per minute boundary, matching and sequentially
// dispatching every flow that fires. Matches are processed one at a time
// so a crowded minute does not flood the bus.
func (a *Adapter) Run(ctx context.Context, rc *runtime.Context) error {
	now := time.Now()
	firstTick := now.Truncate(time.Minute).Add(time.Minute)
	timer := time.NewTimer(time.Until(firstTick))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
		a.tick(ctx, rc)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick(ctx, rc)
		}
	}
}

// Shutdown has nothing to release: Run owns its timers and stops them on
// the way out.
func (a *Adapter) Shutdown(context.Context, *runtime.Context) error {
	return nil
}

var _ runtime.Adapter = (*Adapter)(nil)

func (a *Adapter) tick(ctx context.Context, rc *runtime.Context) {
	now := time.Now()
	predicate := func(f flow.ValidationFlow) bool {
		fires, err := firesNow(f, now)
		if err != nil {
			a.logger.Warn("cron: invalid schedule, flow skipped", slog.String("flow_id", f.FlowID), slog.Any("error", err))
			return false
		}
		return fires
	}

	scanStart := time.Now()
	result := registry.Match(ctx, rc.Registry, pattern, rc.DecodeFlow, predicate, a.logger)
	if rc.Metrics != nil {
		label := matchMetricLabel(result.Kind)
		rc.Metrics.ObserveMatch(label)
		rc.Metrics.ObserveRegistryScan(label, time.Since(scanStart))
	}

	for _, f := range result.Flows {
		reply, err := rc.Dispatcher.ValidateAndExecute(ctx, f, nil)
		if err != nil {
			a.logger.Warn("cron: dispatch failed", slog.String("flow_id", f.FlowID), slog.Any("error", err))
			continue
		}
		if reply == nil {
			a.logger.Warn("cron: dispatch returned no reply", slog.String("flow_id", f.FlowID))
		}
	}
}

// firesNow assembles the flow's cron expression
// ("* <min> <hour> <dom> <month> <dow>", seconds wildcarded) and asks
// whether its next activation from one tick before the current minute
// lands within the current minute.
func firesNow(f flow.ValidationFlow, now time.Time) (bool, error) {
	minute, ok1 := stringSetting(f, "CRON_MINUTE", "minute")
	hour, ok2 := stringSetting(f, "CRON_HOUR", "hour")
	dom, ok3 := stringSetting(f, "CRON_DAY_OF_MONTH", "day_of_month")
	month, ok4 := stringSetting(f, "CRON_MONTH", "month")
	dow, ok5 := stringSetting(f, "CRON_DAY_OF_WEEK", "day_of_week")
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return false, nil
	}

	expr := fmt.Sprintf("* %s %s %s %s %s", minute, hour, dom, month, dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return false, err
	}

	minuteStart := now.Truncate(time.Minute)
	next := schedule.Next(minuteStart.Add(-time.Nanosecond))
	return next.Truncate(time.Minute).Equal(minuteStart), nil
}

func stringSetting(f flow.ValidationFlow, settingID, field string) (string, bool) {
	v, ok := flow.Field(f.Settings, settingID, field)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func matchMetricLabel(kind registry.ResultKind) metrics.MatchResult {
	switch kind {
	case registry.ResultNone:
		return metrics.MatchResultNone
	case registry.ResultSingle:
		return metrics.MatchResultSingle
	default:
		return metrics.MatchResultMultiple
	}
}
