// Package memtransport is an in-process transport.Endpoint backed by Go
// channels instead of real sockets, for deterministic, non-flaky
// integration tests.
package memtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/internal/transport"
	"github.com/remusmesh/broker/pkg/types"
)

// Endpoint is one side (client-facing or worker-facing) of an in-process
// broker/peer pair.
type Endpoint struct {
	name string

	mu      sync.Mutex
	peers   map[types.SocketIdentity]chan codec.Response
	inbound chan transport.Inbound
	closed  chan struct{}
}

// New creates an Endpoint. name is cosmetic, used only in error messages
// and test failure output.
func New(name string) *Endpoint {
	return &Endpoint{
		name:    name,
		peers:   make(map[types.SocketIdentity]chan codec.Response),
		inbound: make(chan transport.Inbound, 64),
		closed:  make(chan struct{}),
	}
}

// Peer is a test-side handle representing one connected client or worker.
// It is the counterpart to a real net.Conn.
type Peer struct {
	id  types.SocketIdentity
	ep  *Endpoint
	out chan codec.Response
}

// Connect registers a new peer identity against ep and returns a handle
// the test uses to send messages in and receive replies out, mirroring
// what an accepted TCP connection does in tcpsocket.
func (e *Endpoint) Connect(id types.SocketIdentity) *Peer {
	out := make(chan codec.Response, 64)
	e.mu.Lock()
	e.peers[id] = out
	e.mu.Unlock()
	return &Peer{id: id, ep: e, out: out}
}

// Disconnect removes a peer, as if its connection had dropped.
func (e *Endpoint) Disconnect(id types.SocketIdentity) {
	e.mu.Lock()
	delete(e.peers, id)
	e.mu.Unlock()
}

// SendMessage delivers msg to the endpoint as if it had arrived from p.
func (p *Peer) SendMessage(msg codec.Message) {
	select {
	case p.ep.inbound <- transport.Inbound{Identity: p.id, Message: msg}:
	case <-p.ep.closed:
	}
}

// Recv blocks for the next reply addressed to p. ok is false if the
// endpoint was closed while waiting.
func (p *Peer) Recv(ctx context.Context) (codec.Response, bool) {
	select {
	case r := <-p.out:
		return r, true
	case <-ctx.Done():
		return codec.Response{}, false
	case <-p.ep.closed:
		return codec.Response{}, false
	}
}

// Receive implements transport.Endpoint.
func (e *Endpoint) Receive(ctx context.Context) (transport.Inbound, bool, error) {
	select {
	case in := <-e.inbound:
		return in, true, nil
	case <-ctx.Done():
		return transport.Inbound{}, false, nil
	case <-e.closed:
		return transport.Inbound{}, false, nil
	}
}

// Send implements transport.Endpoint.
func (e *Endpoint) Send(id types.SocketIdentity, resp codec.Response) error {
	e.mu.Lock()
	out, ok := e.peers[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("memtransport(%s): unknown identity %q", e.name, id)
	}
	select {
	case out <- resp:
		return nil
	default:
		return fmt.Errorf("memtransport(%s): peer %q reply buffer full", e.name, id)
	}
}

// Identities implements transport.Endpoint.
func (e *Endpoint) Identities() []types.SocketIdentity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.SocketIdentity, 0, len(e.peers))
	for id := range e.peers {
		out = append(out, id)
	}
	return out
}

// Addr implements transport.Endpoint with a synthetic, stable name.
func (e *Endpoint) Addr() string {
	return "mem://" + e.name
}

// Close implements transport.Endpoint.
func (e *Endpoint) Close() error {
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
	return nil
}
