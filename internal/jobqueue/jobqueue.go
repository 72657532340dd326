// Package jobqueue holds submitted-but-unassigned jobs, indexed by id and
// grouped by mesh-io-type. It tracks which types are awaiting dispatch
// (never offered to the factory) versus awaiting worker (a worker has been
// requested but none has registered ready yet). A single `jobs` map is the
// source of truth, with slice-backed FIFO indexes per mesh-io-type kept in
// sync alongside it so lookups stay O(1).
package jobqueue

import (
	"errors"
	"sync"

	"github.com/remusmesh/broker/pkg/meshtype"
	"github.com/remusmesh/broker/pkg/types"
)

// ErrUnsupportedType is returned by AddJob when the SupportChecker reports
// the job's mesh-io-type unsupported.
var ErrUnsupportedType = errors.New("jobqueue: unsupported mesh-io-type")

// SupportChecker reports whether a mesh-io-type can ever be served. AddJob
// consults it so unsupported submissions are rejected at enqueue time
// rather than sitting in awaiting_dispatch forever.
type SupportChecker interface {
	HaveSupport(meshtype.MeshIOType) bool
}

// JobQueue is the FIFO-per-type pending job store.
type JobQueue struct {
	mu sync.Mutex

	jobs map[types.JobId]*types.Job

	// awaitingDispatch[T] / awaitingWorker[T] hold ordered job ids; FIFO
	// order is preserved per mesh-io-type only.
	awaitingDispatch map[meshtype.MeshIOType][]types.JobId
	awaitingWorker   map[meshtype.MeshIOType][]types.JobId
}

// New creates an empty JobQueue.
func New() *JobQueue {
	return &JobQueue{
		jobs:             make(map[types.JobId]*types.Job),
		awaitingDispatch: make(map[meshtype.MeshIOType][]types.JobId),
		awaitingWorker:   make(map[meshtype.MeshIOType][]types.JobId),
	}
}

// AddJob appends job to the FIFO under awaiting_dispatch[T]. It fails only
// if the checker reports the mesh-io-type unsupported.
func (q *JobQueue) AddJob(job types.Job, support SupportChecker) error {
	if !support.HaveSupport(job.MeshIOType) {
		return ErrUnsupportedType
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	j := job
	q.jobs[job.Id] = &j
	q.awaitingDispatch[job.MeshIOType] = append(q.awaitingDispatch[job.MeshIOType], job.Id)
	return nil
}

// QueuedJobTypes returns the set of types with a non-empty
// awaiting_dispatch bucket.
func (q *JobQueue) QueuedJobTypes() []meshtype.MeshIOType {
	q.mu.Lock()
	defer q.mu.Unlock()
	return nonEmptyTypes(q.awaitingDispatch)
}

// WaitingForWorkerTypes returns the set of types with a non-empty
// awaiting_worker bucket.
func (q *JobQueue) WaitingForWorkerTypes() []meshtype.MeshIOType {
	q.mu.Lock()
	defer q.mu.Unlock()
	return nonEmptyTypes(q.awaitingWorker)
}

func nonEmptyTypes(m map[meshtype.MeshIOType][]types.JobId) []meshtype.MeshIOType {
	out := make([]meshtype.MeshIOType, 0, len(m))
	for t, ids := range m {
		if len(ids) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// WorkerDispatched moves the FIFO-head job of type T from
// awaiting_dispatch[T] to awaiting_worker[T]. It is a no-op if the bucket
// is empty.
func (q *JobQueue) WorkerDispatched(t meshtype.MeshIOType) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.awaitingDispatch[t]
	if len(ids) == 0 {
		return
	}
	head, rest := ids[0], ids[1:]
	q.awaitingDispatch[t] = rest
	q.awaitingWorker[t] = append(q.awaitingWorker[t], head)
}

// TakeJob FIFO-pops the head of awaiting_worker[T] and returns it. The
// second return value is false if the bucket is empty.
func (q *JobQueue) TakeJob(t meshtype.MeshIOType) (types.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.awaitingWorker[t]
	if len(ids) == 0 {
		return types.Job{}, false
	}
	head, rest := ids[0], ids[1:]
	q.awaitingWorker[t] = rest

	job := q.jobs[head]
	delete(q.jobs, head)
	if job == nil {
		return types.Job{}, false
	}
	return *job, true
}

// Len reports the total number of jobs held in either bucket, for
// metrics.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// HaveUUID reports membership in either bucket.
func (q *JobQueue) HaveUUID(id types.JobId) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[id]
	return ok
}

// Remove drops a job from the queue (used by TERMINATE_JOB) without ever
// having dispatched it. Reports whether the job was present.
func (q *JobQueue) Remove(id types.JobId) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return false
	}
	delete(q.jobs, id)
	q.awaitingDispatch[job.MeshIOType] = removeID(q.awaitingDispatch[job.MeshIOType], id)
	q.awaitingWorker[job.MeshIOType] = removeID(q.awaitingWorker[job.MeshIOType], id)
	return true
}

func removeID(ids []types.JobId, target types.JobId) []types.JobId {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
