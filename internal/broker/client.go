package broker

import (
	"time"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/pkg/meshtype"
	"github.com/remusmesh/broker/pkg/types"
)

// HaveSupport implements jobqueue.SupportChecker: a mesh-io-type is
// servable if the factory can spawn it on demand or a worker has already
// registered support for it, the same test handleCanMesh reports to
// clients, so MAKE_MESH never rejects a type CAN_MESH just said yes to.
func (b *Broker) HaveSupport(t meshtype.MeshIOType) bool {
	return b.factory.HaveSupport(t) || b.pool.HasAnyOfType(t)
}

// routeClientMessage dispatches one client-endpoint message and writes
// exactly one reply frame.
func (b *Broker) routeClientMessage(id types.SocketIdentity, msg codec.Message) {
	resp := b.handleClientMessage(msg)
	if err := b.client.Send(id, resp); err != nil {
		log.Debug("client reply send failed", "identity", string(id), "err", err)
	}
}

func (b *Broker) handleClientMessage(msg codec.Message) codec.Response {
	if msg.Invalid {
		return codec.InvalidResponse(codec.ServiceInvalid)
	}

	switch msg.Service {
	case codec.CanMesh:
		return b.handleCanMesh(msg)
	case codec.CanMeshRequirements:
		return b.handleCanMeshRequirements(msg)
	case codec.MeshRequirements:
		return b.handleMeshRequirements(msg)
	case codec.MakeMesh:
		return b.handleMakeMesh(msg)
	case codec.MeshStatus:
		return b.handleMeshStatusQuery(msg)
	case codec.RetrieveMesh:
		return b.handleRetrieveMesh(msg)
	case codec.TerminateJob:
		return b.handleTerminateJob(msg)
	default:
		return codec.InvalidResponse(msg.Service)
	}
}

func (b *Broker) handleCanMesh(msg codec.Message) codec.Response {
	return boolResponse(codec.CanMesh, b.HaveSupport(msg.MeshIOType))
}

func (b *Broker) handleCanMeshRequirements(msg codec.Message) codec.Response {
	return boolResponse(codec.CanMeshRequirements, b.factory.HaveSupport(msg.MeshIOType))
}

func (b *Broker) handleMeshRequirements(msg codec.Message) codec.Response {
	reqs := b.factory.MeshRequirements(msg.MeshIOType)
	return codec.Response{Service: codec.MeshRequirements, MeshIOType: msg.MeshIOType, Payload: codec.EncodeRequirements(reqs)}
}

func (b *Broker) handleMakeMesh(msg codec.Message) codec.Response {
	job := types.Job{
		Id:         types.NewJobId(),
		MeshIOType: msg.MeshIOType,
		Submission: types.Submission{"payload": msg.Payload},
	}

	if err := b.queue.AddJob(job, b); err != nil {
		return codec.InvalidResponse(codec.MakeMesh)
	}

	b.submittedAt[job.Id] = time.Now()
	if b.metrics != nil {
		b.metrics.RecordSubmitted()
	}

	return codec.Response{Service: codec.MakeMesh, MeshIOType: msg.MeshIOType, Payload: codec.EncodeJobID(job.Id)}
}

func (b *Broker) handleMeshStatusQuery(msg codec.Message) codec.Response {
	id, err := codec.DecodeJobID(msg.Payload)
	if err != nil {
		return codec.Response{Service: codec.MeshStatus, Payload: []byte(codec.InvalidStatus)}
	}

	if b.queue.HaveUUID(id) {
		status := types.JobStatus{Id: id, Tag: types.StatusQueued}
		return codec.Response{Service: codec.MeshStatus, Payload: codec.EncodeStatusReply(status)}
	}

	if status, ok := b.active.Status(id); ok {
		return codec.Response{Service: codec.MeshStatus, Payload: codec.EncodeStatusReply(status)}
	}

	return codec.Response{Service: codec.MeshStatus, Payload: []byte(codec.InvalidStatus)}
}

// handleRetrieveMesh copies out whatever result is stored (possibly none)
// then removes the active record unconditionally: a result is delivered
// at most once.
func (b *Broker) handleRetrieveMesh(msg codec.Message) codec.Response {
	id, err := codec.DecodeJobID(msg.Payload)
	if err != nil {
		return codec.Response{Service: codec.RetrieveMesh, Payload: codec.EncodeResult(types.JobResult{})}
	}

	result, ok := b.active.Result(id)
	b.active.Remove(id)

	if ok && b.metrics != nil {
		b.metrics.RecordFinished()
	}

	if !ok {
		result = types.JobResult{Id: id}
	}
	return codec.Response{Service: codec.RetrieveMesh, Payload: codec.EncodeResult(result)}
}

func (b *Broker) handleTerminateJob(msg codec.Message) codec.Response {
	id, err := codec.DecodeJobID(msg.Payload)
	if err != nil {
		return codec.InvalidResponse(codec.TerminateJob)
	}

	if b.queue.Remove(id) {
		return boolResponse(codec.TerminateJob, true)
	}

	if workerID, ok := b.active.AssignedWorker(id); ok {
		if err := b.worker.Send(workerID, codec.Response{Service: codec.TerminateJob, Payload: codec.EncodeJobID(id)}); err != nil {
			log.Debug("termination send failed", "identity", string(workerID), "err", err)
		}
		b.active.MarkFailed(id)
		if b.metrics != nil {
			b.metrics.RecordFailed()
		}
		return boolResponse(codec.TerminateJob, true)
	}

	return boolResponse(codec.TerminateJob, false)
}

func boolResponse(svc codec.Service, v bool) codec.Response {
	payload := "false"
	if v {
		payload = "true"
	}
	return codec.Response{Service: svc, Payload: []byte(payload)}
}
