package broker

import (
	"time"

	"github.com/remusmesh/broker/internal/codec"
)

// findWorkerForQueuedJob matches queued jobs to ready workers in two
// phases: first request capacity (an already-ready pool worker or a
// freshly spawned one) for every type with queued jobs, then perform the
// actual assignment for every type with an outstanding worker request.
// Splitting the phases means the factory is asked to spawn capacity
// exactly once per queued job and a job is only ever handed to a worker
// that has actually declared itself ready.
func (b *Broker) findWorkerForQueuedJob(now time.Time) {
	b.factory.UpdateWorkerCount()

	for _, t := range b.queue.QueuedJobTypes() {
		if dead := b.factory.DeadCount(t); dead > 0 && b.metrics != nil {
			b.metrics.RecordWorkersDied(dead)
		}

		workerReady := b.pool.HaveWaitingWorker(t) || b.factory.CreateWorker(t)
		if workerReady {
			b.queue.WorkerDispatched(t)
		}
	}

	for _, t := range b.queue.WaitingForWorkerTypes() {
		if !b.pool.HaveWaitingWorker(t) {
			continue
		}
		workerID, ok := b.pool.TakeWorker(t)
		if !ok {
			continue
		}
		job, ok := b.queue.TakeJob(t)
		if !ok {
			continue
		}

		b.active.Add(workerID, job, now)

		if since, tracked := b.submittedAt[job.Id]; tracked {
			if b.metrics != nil {
				b.metrics.RecordDispatched(now.Sub(since).Seconds())
			}
			delete(b.submittedAt, job.Id)
		}

		assignment := codec.Response{
			Service:    codec.MakeMesh,
			MeshIOType: t,
			Payload:    codec.EncodeAssignment(job),
		}
		if err := b.worker.Send(workerID, assignment); err != nil {
			log.Debug("assignment send failed", "identity", string(workerID), "err", err)
		}
	}
}
