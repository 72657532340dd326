// Package workerpool tracks registered workers: their advertised
// mesh-io-type, readiness, and liveness. A record names a remote peer
// reachable only through the worker-facing transport; nothing here ever
// spawns a goroutine of its own.
package workerpool

import (
	"time"

	"github.com/remusmesh/broker/pkg/meshtype"
	"github.com/remusmesh/broker/pkg/types"
)

// Pool is SocketIdentity -> WorkerRecord. The broker owns exactly one Pool
// and mutates it only from the dispatch loop, so no mutex is needed.
type Pool struct {
	workers map[types.SocketIdentity]*types.WorkerRecord
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{workers: make(map[types.SocketIdentity]*types.WorkerRecord)}
}

// AddWorker inserts or refreshes a registration, resetting ready_for_work
// to false: a worker must re-declare readiness after every registration.
func (p *Pool) AddWorker(id types.SocketIdentity, t meshtype.MeshIOType, now time.Time) {
	p.workers[id] = &types.WorkerRecord{
		Identity:      id,
		MeshIOType:    t,
		ReadyForWork:  false,
		LastHeartbeat: now,
	}
}

// ReadyForWork marks a previously registered worker as ready for
// assignment. No-op if the identity is unknown.
func (p *Pool) ReadyForWork(id types.SocketIdentity) {
	if w, ok := p.workers[id]; ok {
		w.ReadyForWork = true
	}
}

// HaveWaitingWorker reports whether any registered worker of type t is
// ready for work.
func (p *Pool) HaveWaitingWorker(t meshtype.MeshIOType) bool {
	for _, w := range p.workers {
		if w.MeshIOType == t && w.ReadyForWork {
			return true
		}
	}
	return false
}

// HasAnyOfType reports whether any worker, ready or not, is registered
// for t, used by CAN_MESH alongside WorkerFactory.HaveSupport.
func (p *Pool) HasAnyOfType(t meshtype.MeshIOType) bool {
	for _, w := range p.workers {
		if w.MeshIOType == t {
			return true
		}
	}
	return false
}

// Has reports whether id already has a registration, ready or not.
func (p *Pool) Has(id types.SocketIdentity) bool {
	_, ok := p.workers[id]
	return ok
}

// TakeWorker removes and returns the identity of a ready worker of type t,
// breaking ties by oldest LastHeartbeat: the ready worker that has gone
// longest without sending anything is chosen first. Reports false if none
// is available.
func (p *Pool) TakeWorker(t meshtype.MeshIOType) (types.SocketIdentity, bool) {
	var chosen *types.WorkerRecord
	for _, w := range p.workers {
		if w.MeshIOType != t || !w.ReadyForWork {
			continue
		}
		if chosen == nil || w.LastHeartbeat.Before(chosen.LastHeartbeat) {
			chosen = w
		}
	}
	if chosen == nil {
		return "", false
	}
	delete(p.workers, chosen.Identity)
	return chosen.Identity, true
}

// RefreshWorker bumps the last-heartbeat time of id if it is present in
// the pool; no-op otherwise (the identity may belong to an ActiveJobs
// assignment instead).
func (p *Pool) RefreshWorker(id types.SocketIdentity, now time.Time) {
	if w, ok := p.workers[id]; ok {
		w.LastHeartbeat = now
	}
}

// PurgeDeadWorkers removes every record whose heartbeat is older than
// threshold, measured against now.
func (p *Pool) PurgeDeadWorkers(now time.Time, threshold time.Duration) {
	for id, w := range p.workers {
		if now.Sub(w.LastHeartbeat) > threshold {
			delete(p.workers, id)
		}
	}
}

// Len reports the current registration count, for metrics.
func (p *Pool) Len() int {
	return len(p.workers)
}

// ReadyCount reports how many registered workers are currently signalling
// ready for work, for metrics.
func (p *Pool) ReadyCount() int {
	n := 0
	for _, w := range p.workers {
		if w.ReadyForWork {
			n++
		}
	}
	return n
}
