// Package bus defines the request/reply transport the Dispatcher uses to
// reach the executor. Concrete transports (mqttbus) hide their
// publish/subscribe mechanics behind a single blocking Request call.
package bus

import (
	"context"
	"errors"
)

// ErrTimeout is returned by Request when no reply arrives before ctx is
// done or the transport's own timeout elapses, whichever is sooner.
var ErrTimeout = errors.New("bus: request timed out")

// ErrTransportConnect is fatal at init, wrapped when a Bus implementation
// cannot reach its broker.
var ErrTransportConnect = errors.New("bus: transport connect failed")

// ErrTransportRequest wraps a per-request publish/subscribe failure that
// is not a plain timeout. The Dispatcher recovers from it by treating the
// request as having produced no reply.
var ErrTransportRequest = errors.New("bus: transport request failed")

// Bus is the transport-agnostic request/reply contract the Dispatcher
// depends on. A Bus implementation owns its own connection lifecycle;
// Request may be called concurrently from multiple goroutines.
type Bus interface {
	// Request publishes payload to topic and blocks for a reply on the
	// transport's conventional reply topic, returning ErrTimeout if ctx is
	// canceled or the deadline passes first.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Close releases the underlying connection.
	Close() error
}
