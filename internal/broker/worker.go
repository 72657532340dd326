package broker

import (
	"time"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/pkg/types"
)

// routeWorkerMessage dispatches one worker-endpoint message. None of these
// produce an immediate reply frame: a newly-ready worker blocks until the
// matching algorithm assigns it a job.
func (b *Broker) routeWorkerMessage(id types.SocketIdentity, msg codec.Message) {
	if msg.Invalid {
		return
	}

	switch msg.Service {
	case codec.CanMesh:
		b.pool.AddWorker(id, msg.MeshIOType, time.Now())
	case codec.MakeMesh:
		if !b.pool.Has(id) {
			b.pool.AddWorker(id, msg.MeshIOType, time.Now())
		}
		b.pool.ReadyForWork(id)
	case codec.MeshStatus:
		if status, err := codec.DecodeStatusReport(msg.Payload); err == nil {
			b.active.UpdateStatus(status)
		}
	case codec.RetrieveMesh:
		if result, err := codec.DecodeResult(msg.Payload); err == nil {
			b.active.UpdateResult(result)
		}
	case codec.Heartbeat:
		// Side-effect only: the heartbeat refresh already happened in the
		// dispatch loop's traffic-handling step.
	}
}
