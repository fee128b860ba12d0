// Package dispatcher forwards matched flows to the executor: validate the
// input, build an ExecutionFlow, allocate a correlation identifier, and
// round trip the encoded flow over a bus.Bus.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/code0-tech/draco-adapter/internal/bus"
	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/metrics"
	"github.com/code0-tech/draco-adapter/internal/validator"
	"github.com/code0-tech/draco-adapter/internal/value"
	"github.com/code0-tech/draco-adapter/internal/wire"
)

// Dispatcher holds the one bus connection the adapter uses to reach the
// executor. It is safe for concurrent use; each call allocates its own
// correlation identifier and the dispatcher never persists it.
type Dispatcher struct {
	bus     bus.Bus
	log     *slog.Logger
	metrics *metrics.Recorder
}

// New constructs a Dispatcher. rec may be nil, in which case metrics are
// not recorded (Recorder's methods are all nil-receiver safe).
func New(b bus.Bus, log *slog.Logger, rec *metrics.Recorder) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{bus: b, log: log, metrics: rec}
}

// ValidateAndExecute validates input (when present), forwards the flow to
// the executor, and returns the decoded reply. A failed validation, a
// transport error, and an undecodable reply all return (nil, nil): the
// adapter shell converts the missing reply into its trigger-specific
// failure. There are no retries, and a lost reply is a lost request.
func (d *Dispatcher) ValidateAndExecute(ctx context.Context, f flow.ValidationFlow, input *value.Value) (*value.Value, error) {
	start := time.Now()

	if input != nil {
		verifyStart := time.Now()
		report, ok := validator.Verify(f, *input)
		d.metrics.ObserveValidation(f.FlowID, violationTypeLabels(report), ok, time.Since(verifyStart))
		if !ok {
			d.log.Info("dispatcher: validation failed, execution skipped",
				"flow_id", f.FlowID, "violation_count", len(report.Violations))
			d.metrics.ObserveDispatch(f.FlowID, metrics.DispatchOutcomeValidationFailed, time.Since(start))
			return nil, nil
		}
	}

	execFlow := flow.ToExecutionFlow(f, input)

	correlation, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	topic := "execution." + correlation.String()

	payload, err := wire.EncodeExecutionFlow(execFlow)
	if err != nil {
		d.log.Error("dispatcher: encode execution flow failed", "flow_id", f.FlowID, "error", err)
		d.metrics.ObserveDispatch(f.FlowID, metrics.DispatchOutcomeTransportError, time.Since(start))
		return nil, nil
	}

	replyPayload, err := d.bus.Request(ctx, topic, payload)
	if err != nil {
		d.log.Warn("dispatcher: request failed", "flow_id", f.FlowID, "topic", topic, "error", err)
		d.metrics.ObserveDispatch(f.FlowID, metrics.DispatchOutcomeTransportError, time.Since(start))
		return nil, nil
	}

	result, err := wire.DecodeValue(replyPayload)
	if err != nil {
		d.log.Warn("dispatcher: decode reply failed", "flow_id", f.FlowID, "topic", topic, "error", err)
		d.metrics.ObserveDispatch(f.FlowID, metrics.DispatchOutcomeTransportError, time.Since(start))
		return nil, nil
	}
	d.metrics.ObserveDispatch(f.FlowID, metrics.DispatchOutcomeOk, time.Since(start))
	return &result, nil
}

func violationTypeLabels(report validator.Report) []string {
	types := make([]string, len(report.Violations))
	for i, v := range report.Violations {
		types[i] = string(v.Type)
	}
	return types
}
