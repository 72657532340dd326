package tcpsocket

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/pkg/meshtype"
)

var meshToMesh = meshtype.MeshIOType{Input: meshtype.Mesh2D, Output: meshtype.Mesh3D}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestListenBindsRequestedAddress(t *testing.T) {
	ep, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ep.Close()

	assert.NotEmpty(t, ep.Addr())
}

func TestListenFallsBackOnConflict(t *testing.T) {
	first, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer first.Close()

	second, err := Listen(first.Addr(), nil)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.Addr(), second.Addr(), "second listener must fall back to an ephemeral port")
}

func TestAcceptAssignsIdentityAndDecodesFrame(t *testing.T) {
	ep, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ep.Close()

	conn := dial(t, ep.Addr())
	frame := codec.Encode(codec.Response{Service: codec.CanMesh, MeshIOType: meshToMesh})
	_, err = conn.Write(frame)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	in, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codec.CanMesh, in.Message.Service)
	assert.NotEmpty(t, in.Identity)

	assert.Eventually(t, func() bool {
		return len(ep.Identities()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestTwoFramesOnOneConnectionBothDecode(t *testing.T) {
	ep, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ep.Close()

	conn := dial(t, ep.Addr())
	first := codec.Encode(codec.Response{Service: codec.CanMesh, MeshIOType: meshToMesh})
	second := codec.Encode(codec.Response{Service: codec.Heartbeat})

	_, err = conn.Write(append(first, second...))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in1, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	in2, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	services := []codec.Service{in1.Message.Service, in2.Message.Service}
	assert.Contains(t, services, codec.CanMesh)
	assert.Contains(t, services, codec.Heartbeat)
}

func TestSendWritesFrameBackToPeer(t *testing.T) {
	ep, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ep.Close()

	conn := dial(t, ep.Addr())
	frame := codec.Encode(codec.Response{Service: codec.CanMesh, MeshIOType: meshToMesh})
	_, err = conn.Write(frame)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	in, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	reply := codec.Response{Service: codec.MakeMesh, MeshIOType: meshToMesh, Payload: []byte("job-id-123")}
	require.NoError(t, ep.Send(in.Identity, reply))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(codec.Encode(reply)))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	decoded, err := codec.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, codec.MakeMesh, decoded.Service)
	assert.Equal(t, reply.Payload, decoded.Payload)
}

func TestSendUnknownIdentityErrors(t *testing.T) {
	ep, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ep.Close()

	err = ep.Send("ghost", codec.Response{Service: codec.Heartbeat})
	assert.Error(t, err)
}

func TestCloseStopsAcceptingAndReleasesConns(t *testing.T) {
	ep, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)

	dial(t, ep.Addr())
	assert.Eventually(t, func() bool { return len(ep.Identities()) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, ep.Close())
	assert.Empty(t, ep.Identities())
}
