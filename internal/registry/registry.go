// Package registry implements the flow key-value bucket and the two-phase
// matcher (key pattern, then per-candidate predicate). Concrete Store
// backends live in the valkey and memory subpackages; this package is
// transport-agnostic.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/code0-tech/draco-adapter/internal/flow"
)

// ErrScan marks a failure while streaming keys from a Store. Match wraps
// the underlying iterator error with it, logs the result, and returns an
// empty match rather than propagating the error.
var ErrScan = errors.New("registry: key scan failed")

// Store is the registry bucket's two-method contract: a streaming key
// iterator and a point lookup. Implementations
// (valkey, memory) must make Keys safe to cancel via ctx and must never
// block indefinitely.
type Store interface {
	// Keys streams every key currently in the bucket. The returned channel
	// is closed when iteration completes or ctx is canceled; a scan error
	// is sent once on errs and then both channels close.
	Keys(ctx context.Context) (keys <-chan string, errs <-chan error)

	// Get fetches the raw encoded value for key. ok is false if the key is
	// absent; it is not an error for a key to disappear between Keys and Get.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// Decoder turns a raw Store value into a flow.ValidationFlow. Kept as a
// parameter rather than a package dependency so registry does not need to
// import the wire encoding package.
type Decoder func(raw []byte) (flow.ValidationFlow, error)

// Predicate is the adapter-shell-supplied per-candidate test. It must be a
// pure function of the flow, with no I/O.
type Predicate func(flow.ValidationFlow) bool

// ResultKind is the closed None/Single/Multiple outcome of Match.
type ResultKind uint8

const (
	ResultNone ResultKind = iota
	ResultSingle
	ResultMultiple
)

// Result is the outcome of Match. Flows is empty for None, has exactly one
// element for Single, and has more than one for Multiple. No ordering is
// guaranteed for Multiple.
type Result struct {
	Kind  ResultKind
	Flows []flow.ValidationFlow
}

// Match streams the bucket's keys, filters by pattern (flow.MatchKey),
// decodes candidates, and keeps those the predicate accepts. A key-iterator
// error is logged and yields None rather than failing the caller; a per-key
// decode failure is logged and that key skipped without aborting the scan.
func Match(ctx context.Context, store Store, pattern string, decode Decoder, predicate Predicate, log *slog.Logger) Result {
	if log == nil {
		log = slog.Default()
	}

	keys, errs := store.Keys(ctx)
	var collected []flow.ValidationFlow

	for key := range keys {
		if !flow.MatchKey(pattern, key) {
			continue
		}

		raw, ok, err := store.Get(ctx, key)
		if err != nil {
			log.Warn("registry: get failed during match scan", "key", key, "error", err)
			continue
		}
		if !ok {
			continue
		}

		fl, err := decode(raw)
		if err != nil {
			log.Warn("registry: decode failed, skipping key", "key", key, "error", err)
			continue
		}

		if predicate(fl) {
			collected = append(collected, fl)
		}
	}

	if err, hasErr := <-errs; hasErr && err != nil {
		log.Warn("registry: match scan aborted", "error", fmt.Errorf("%w: %w", ErrScan, err))
		return Result{Kind: ResultNone}
	}

	switch len(collected) {
	case 0:
		return Result{Kind: ResultNone}
	case 1:
		return Result{Kind: ResultSingle, Flows: collected}
	default:
		return Result{Kind: ResultMultiple, Flows: collected}
	}
}
