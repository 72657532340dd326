// Package transport defines the endpoint abstraction the dispatch loop
// polls: a bounded-timeout receive of one inbound frame at a time, keyed
// by peer identity, and a non-blocking send back to a given identity. The
// broker never touches a socket directly, only this interface.
package transport

import (
	"context"
	"time"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/pkg/types"
)

// Inbound pairs a decoded message with the peer identity it arrived from.
type Inbound struct {
	Identity types.SocketIdentity
	Message  codec.Message
}

// Endpoint is one side of the broker (client-facing or worker-facing).
// Implementations must make Receive safe to call in a loop with a small
// per-call timeout and Send safe to call concurrently with Receive.
type Endpoint interface {
	// Receive blocks for at most the context's deadline, returning at most
	// one message. ok is false on timeout, not an error, since a quiet
	// poll interval is the expected common case.
	Receive(ctx context.Context) (Inbound, bool, error)

	// Send delivers a response to a specific identity. It must not block
	// indefinitely: if the underlying transport would block, Send returns
	// an error instead so the caller can log and drop.
	Send(id types.SocketIdentity, resp codec.Response) error

	// Identities returns every peer identity currently known to the
	// endpoint, used for the shutdown broadcast.
	Identities() []types.SocketIdentity

	// Addr reports the actually-bound local address.
	Addr() string

	// Close releases the endpoint's resources.
	Close() error
}

// PollTimeout wraps d into a context.Context/cancel pair, the shape both
// tcpsocket and memtransport expect callers to pass to Receive.
func PollTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
