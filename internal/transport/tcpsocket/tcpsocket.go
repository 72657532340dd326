// Package tcpsocket implements transport.Endpoint directly on
// net.Listener/net.Conn: one accepted connection per peer, a per-connection
// read loop decoding one internal/codec frame at a time into a shared
// inbound channel, and a random per-connection SocketIdentity standing in
// for the routing identity each peer is addressed by.
package tcpsocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/internal/transport"
	"github.com/remusmesh/broker/pkg/types"
)

// Endpoint is a router-style TCP listener: many peer connections, each
// addressed by a SocketIdentity assigned on accept.
type Endpoint struct {
	ln net.Listener

	mu    sync.Mutex
	conns map[types.SocketIdentity]*peerConn

	inbound chan transport.Inbound
	closed  chan struct{}
	log     *slog.Logger
}

type peerConn struct {
	conn net.Conn
	w    *bufio.Writer
	mu   sync.Mutex
}

// Listen binds preferredAddr and falls back once to an ephemeral port on
// the same host if that address is already in use.
func Listen(preferredAddr string, log *slog.Logger) (*Endpoint, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", preferredAddr)
	if err != nil {
		host, _, splitErr := net.SplitHostPort(preferredAddr)
		if splitErr != nil {
			host = "127.0.0.1"
		}
		ln, err = net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return nil, fmt.Errorf("tcpsocket: bind %s and ephemeral fallback both failed: %w", preferredAddr, err)
		}
		log.Warn("preferred port unavailable, bound ephemeral port", "preferred", preferredAddr, "bound", ln.Addr().String())
	}

	e := &Endpoint{
		ln:      ln,
		conns:   make(map[types.SocketIdentity]*peerConn),
		inbound: make(chan transport.Inbound, 64),
		closed:  make(chan struct{}),
		log:     log,
	}
	go e.acceptLoop()
	return e, nil
}

func (e *Endpoint) acceptLoop() {
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
				e.log.Warn("accept failed", "err", err)
				return
			}
		}
		id := newIdentity()
		pc := &peerConn{conn: conn, w: bufio.NewWriter(conn)}
		e.mu.Lock()
		e.conns[id] = pc
		e.mu.Unlock()
		go e.readLoop(id, conn)
	}
}

func (e *Endpoint) readLoop(id types.SocketIdentity, conn net.Conn) {
	defer e.removeConn(id)
	r := bufio.NewReader(conn)
	var buf []byte
	for {
		frame, err := readFrame(r, &buf)
		if err != nil {
			if err != io.EOF {
				e.log.Debug("peer read loop ended", "identity", string(id), "err", err)
			}
			return
		}
		msg, err := codec.Decode(frame)
		if err != nil {
			continue
		}
		select {
		case e.inbound <- transport.Inbound{Identity: id, Message: msg}:
		case <-e.closed:
			return
		}
	}
}

// readFrame reads exactly one codec frame. It peeks progressively more of
// the stream, never more than it already knows it needs from the bytes
// already decoded, so it never blocks waiting for a next frame that
// hasn't arrived yet.
func readFrame(r *bufio.Reader, scratch *[]byte) ([]byte, error) {
	const fixedPrefix = 4 + 1 + 1 // magic + version + serviceLen

	peeked, err := r.Peek(fixedPrefix)
	if err != nil {
		return nil, err
	}
	svcLen := int(peeked[fixedPrefix-1])

	peeked, err = r.Peek(fixedPrefix + svcLen + 1)
	if err != nil {
		return nil, err
	}
	inLen := int(peeked[fixedPrefix+svcLen])

	peeked, err = r.Peek(fixedPrefix + svcLen + 1 + inLen + 1)
	if err != nil {
		return nil, err
	}
	outLen := int(peeked[fixedPrefix+svcLen+1+inLen])

	headerLen := fixedPrefix + svcLen + 1 + inLen + 1 + outLen + 4
	peeked, err = r.Peek(headerLen)
	if err != nil {
		return nil, err
	}
	total := codec.FrameLen(peeked)
	if total < 0 {
		return nil, fmt.Errorf("tcpsocket: malformed frame header")
	}

	if cap(*scratch) < total {
		*scratch = make([]byte, total)
	}
	frame := (*scratch)[:total]
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (e *Endpoint) removeConn(id types.SocketIdentity) {
	e.mu.Lock()
	if pc, ok := e.conns[id]; ok {
		pc.conn.Close()
		delete(e.conns, id)
	}
	e.mu.Unlock()
}

// Receive returns the next inbound message, or ok=false on timeout.
func (e *Endpoint) Receive(ctx context.Context) (transport.Inbound, bool, error) {
	select {
	case in := <-e.inbound:
		return in, true, nil
	case <-ctx.Done():
		return transport.Inbound{}, false, nil
	case <-e.closed:
		return transport.Inbound{}, false, io.EOF
	}
}

// Send writes resp to the connection for id. It does not block
// indefinitely: a write deadline bounds the call so a stalled peer cannot
// wedge the dispatch loop.
func (e *Endpoint) Send(id types.SocketIdentity, resp codec.Response) error {
	e.mu.Lock()
	pc, ok := e.conns[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("tcpsocket: unknown identity %q", id)
	}

	frame := codec.Encode(resp)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if err := pc.conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return err
	}
	if _, err := pc.w.Write(frame); err != nil {
		return err
	}
	return pc.w.Flush()
}

// Identities returns a snapshot of currently connected peer identities.
func (e *Endpoint) Identities() []types.SocketIdentity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.SocketIdentity, 0, len(e.conns))
	for id := range e.conns {
		out = append(out, id)
	}
	return out
}

// Addr reports the actually-bound local address.
func (e *Endpoint) Addr() string {
	return e.ln.Addr().String()
}

// Close stops accepting and closes every open peer connection.
func (e *Endpoint) Close() error {
	select {
	case <-e.closed:
		return nil
	default:
		close(e.closed)
	}
	err := e.ln.Close()
	e.mu.Lock()
	for id, pc := range e.conns {
		pc.conn.Close()
		delete(e.conns, id)
	}
	e.mu.Unlock()
	return err
}

func newIdentity() types.SocketIdentity {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.SocketIdentity(hex.EncodeToString(b[:]))
}
