package memtransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/pkg/types"
)

func TestConnectThenSendMessageIsReceivable(t *testing.T) {
	ep := New("client")
	peer := ep.Connect("peer-1")

	msg := codec.Message{Service: codec.CanMesh}
	peer.SendMessage(msg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	in, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.SocketIdentity("peer-1"), in.Identity)
	assert.Equal(t, codec.CanMesh, in.Message.Service)
}

func TestReceiveTimesOutWhenIdle(t *testing.T) {
	ep := New("client")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := ep.Receive(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSendDeliversToConnectedPeer(t *testing.T) {
	ep := New("worker")
	peer := ep.Connect("peer-1")

	resp := codec.Response{Service: codec.MakeMesh, Payload: []byte("job-id")}
	require.NoError(t, ep.Send("peer-1", resp))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := peer.Recv(ctx)
	require.True(t, ok)
	assert.Equal(t, resp.Payload, got.Payload)
}

func TestSendUnknownIdentityErrors(t *testing.T) {
	ep := New("worker")
	err := ep.Send("nobody", codec.Response{})
	assert.Error(t, err)
}

func TestDisconnectRemovesPeer(t *testing.T) {
	ep := New("worker")
	ep.Connect("peer-1")
	ep.Disconnect("peer-1")

	assert.Empty(t, ep.Identities())
	assert.Error(t, ep.Send("peer-1", codec.Response{}))
}

func TestIdentitiesReflectsConnectedPeers(t *testing.T) {
	ep := New("worker")
	ep.Connect("a")
	ep.Connect("b")

	ids := ep.Identities()
	assert.Len(t, ids, 2)
}

func TestAddrIsStable(t *testing.T) {
	ep := New("client")
	assert.Equal(t, "mem://client", ep.Addr())
}

func TestCloseUnblocksReceiveAndRecv(t *testing.T) {
	ep := New("client")
	peer := ep.Connect("peer-1")

	done := make(chan struct{})
	go func() {
		_, ok := peer.Recv(context.Background())
		assert.False(t, ok)
		close(done)
	}()

	require.NoError(t, ep.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}

	_, ok, err := ep.Receive(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}
