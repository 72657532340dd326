// Package worker implements a reference mesh-generation worker: the other
// half of the broker's wire protocol, used by integration tests and usable
// as a starting point for a real worker binary. It speaks
// CAN_MESH/MAKE_MESH/MESH_STATUS/RETRIEVE_MESH and runs one assignment at a
// time to completion before re-declaring readiness.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/pkg/meshtype"
	"github.com/remusmesh/broker/pkg/types"
)

// MeshWorker offers to handle one MeshIOType over conn, processing
// assignments one at a time until ctx is cancelled or the broker closes
// the connection.
type MeshWorker struct {
	conn       Conn
	meshIOType meshtype.MeshIOType
	handle     HandleFunc
}

// New builds a MeshWorker that will run handle for every job the broker
// assigns it. handle defaults to Simulate when nil.
func New(conn Conn, meshIOType meshtype.MeshIOType, handle HandleFunc) *MeshWorker {
	if handle == nil {
		handle = Simulate
	}
	return &MeshWorker{conn: conn, meshIOType: meshIOType, handle: handle}
}

// Register declares support for the worker's MeshIOType and marks it ready
// to receive an assignment, mirroring the CAN_MESH-then-MAKE_MESH handshake
// a real worker process performs on startup and after finishing each job.
func (w *MeshWorker) Register() {
	w.conn.SendMessage(codec.Message{Service: codec.CanMesh, MeshIOType: w.meshIOType})
	w.conn.SendMessage(codec.Message{Service: codec.MakeMesh, MeshIOType: w.meshIOType})
}

// Run blocks, processing assignments until ctx is done or the broker's
// replies stop arriving. Call Register before Run so the first assignment
// has somewhere to land.
func (w *MeshWorker) Run(ctx context.Context) {
	for {
		resp, ok := w.conn.Recv(ctx)
		if !ok {
			return
		}
		switch resp.Service {
		case codec.MakeMesh:
			w.processAssignment(ctx, resp.Payload)
		case codec.TerminateJob, codec.Shutdown:
			return
		}
	}
}

// processAssignment runs handle for one assigned job, reporting progress
// as it goes and delivering the finished mesh, then re-declares readiness
// for the next assignment.
func (w *MeshWorker) processAssignment(ctx context.Context, payload []byte) {
	jobID, submission, err := codec.DecodeAssignment(payload)
	if err != nil {
		return
	}

	report := func(value int, message string) {
		status := types.JobStatus{
			Id:       jobID,
			Tag:      types.StatusInProgress,
			Progress: types.Progress{Value: value, Message: message},
		}
		w.conn.SendMessage(codec.Message{
			Service:    codec.MeshStatus,
			MeshIOType: w.meshIOType,
			Payload:    codec.EncodeStatusReport(status),
		})
	}

	meshBytes := w.handle(ctx, submission, report)

	w.conn.SendMessage(codec.Message{
		Service:    codec.RetrieveMesh,
		MeshIOType: w.meshIOType,
		Payload:    codec.EncodeResult(types.JobResult{Id: jobID, Payload: meshBytes}),
	})

	w.Register()
}

// Simulate is a HandleFunc that stands in for real mesh generation in tests
// and demos: a short random delay, two progress reports, then a small
// placeholder payload.
func Simulate(ctx context.Context, submission types.Submission, report ProgressFunc) []byte {
	report(0, "starting")

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(time.Duration(rand.Intn(20)) * time.Millisecond):
	}

	report(50, "halfway")

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(time.Duration(rand.Intn(20)) * time.Millisecond):
	}

	return []byte("simulated-mesh-bytes")
}
