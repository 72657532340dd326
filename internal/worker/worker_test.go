package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/internal/transport/memtransport"
	"github.com/remusmesh/broker/pkg/meshtype"
	"github.com/remusmesh/broker/pkg/types"
)

var meshToMesh = meshtype.MeshIOType{Input: meshtype.Mesh2D, Output: meshtype.Mesh3D}

func TestRegisterSendsCanMeshThenMakeMesh(t *testing.T) {
	ep := memtransport.New("worker-side")
	peer := ep.Connect("w1")
	w := New(peer, meshToMesh, nil)

	w.Register()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codec.CanMesh, first.Message.Service)

	second, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codec.MakeMesh, second.Message.Service)
}

func TestProcessAssignmentReportsProgressThenResult(t *testing.T) {
	ep := memtransport.New("worker-side")
	peer := ep.Connect("w1")

	var reported []int
	var gotSubmission types.Submission
	handle := func(ctx context.Context, submission types.Submission, report ProgressFunc) []byte {
		gotSubmission = submission
		report(10, "working")
		reported = append(reported, 10)
		return []byte("mesh-bytes")
	}
	w := New(peer, meshToMesh, handle)

	jobID := types.NewJobId()
	job := types.Job{Id: jobID, MeshIOType: meshToMesh, Submission: types.Submission{"input": []byte("mesh-input")}}
	require.NoError(t, ep.Send("w1", codec.Response{Service: codec.MakeMesh, Payload: codec.EncodeAssignment(job)}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, ok := peer.Recv(ctx)
	require.True(t, ok)
	w.processAssignment(ctx, resp.Payload)

	assert.Equal(t, []int{10}, reported)
	assert.Equal(t, job.Submission, gotSubmission)

	status, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codec.MeshStatus, status.Message.Service)

	result, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codec.RetrieveMesh, result.Message.Service)
	decoded, err := codec.DecodeResult(result.Message.Payload)
	require.NoError(t, err)
	assert.Equal(t, jobID, decoded.Id)
	assert.Equal(t, []byte("mesh-bytes"), decoded.Payload)

	readyAgain, ok, err := ep.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codec.CanMesh, readyAgain.Message.Service, "worker re-declares support after finishing")
}

func TestProcessAssignmentMalformedJobIDIsIgnored(t *testing.T) {
	ep := memtransport.New("worker-side")
	peer := ep.Connect("w1")
	w := New(peer, meshToMesh, func(ctx context.Context, submission types.Submission, report ProgressFunc) []byte {
		t.Fatal("handle must not run for a malformed job id")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w.processAssignment(ctx, []byte("not-a-job-id"))

	_, ok, err := ep.Receive(ctx)
	assert.NoError(t, err)
	assert.False(t, ok, "nothing should be sent back to the broker")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ep := memtransport.New("worker-side")
	peer := ep.Connect("w1")
	w := New(peer, meshToMesh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunStopsOnShutdown(t *testing.T) {
	ep := memtransport.New("worker-side")
	peer := ep.Connect("w1")
	w := New(peer, meshToMesh, nil)

	require.NoError(t, ep.Send("w1", codec.Response{Service: codec.Shutdown}))

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after SHUTDOWN")
	}
}

func TestRunProcessesAssignmentEndToEnd(t *testing.T) {
	ep := memtransport.New("worker-side")
	peer := ep.Connect("w1")
	w := New(peer, meshToMesh, func(ctx context.Context, submission types.Submission, report ProgressFunc) []byte {
		return []byte("done")
	})

	jobID := types.NewJobId()
	job := types.Job{Id: jobID, MeshIOType: meshToMesh}
	require.NoError(t, ep.Send("w1", codec.Response{Service: codec.MakeMesh, Payload: codec.EncodeAssignment(job)}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	var sawResult bool
	for i := 0; i < 3; i++ {
		in, ok, err := ep.Receive(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		if in.Message.Service == codec.RetrieveMesh {
			sawResult = true
			break
		}
	}
	assert.True(t, sawResult)

	cancel()
	<-done
}

func TestSimulateRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotProgress int
	report := func(value int, message string) { gotProgress = value }

	payload := Simulate(ctx, nil, report)
	assert.Nil(t, payload)
	assert.Equal(t, 0, gotProgress, "only the initial 'starting' report fires before cancellation is observed")
}
