// Package activejobs tracks jobs currently assigned to a worker: their
// latest status, any stored result, and the expiry clock derived from the
// assigned worker's heartbeat.
package activejobs

import (
	"time"

	"github.com/remusmesh/broker/pkg/types"
)

// ActiveJobs is JobId -> ActiveJobRecord, plus a secondary index
// SocketIdentity -> set of JobId for fast per-worker heartbeat refresh and
// failure sweeps.
type ActiveJobs struct {
	records map[types.JobId]*types.ActiveJobRecord
	byOwner map[types.SocketIdentity]map[types.JobId]struct{}
}

// New creates an empty ActiveJobs table.
func New() *ActiveJobs {
	return &ActiveJobs{
		records: make(map[types.JobId]*types.ActiveJobRecord),
		byOwner: make(map[types.SocketIdentity]map[types.JobId]struct{}),
	}
}

// Add creates a record in IN_PROGRESS with empty progress, owned by
// workerID.
func (a *ActiveJobs) Add(workerID types.SocketIdentity, job types.Job, now time.Time) {
	a.records[job.Id] = &types.ActiveJobRecord{
		JobId:          job.Id,
		AssignedWorker: workerID,
		MeshIOType:     job.MeshIOType,
		Status:         types.JobStatus{Id: job.Id, Tag: types.StatusInProgress},
		LastHeartbeat:  now,
	}
	a.index(workerID, job.Id)
}

func (a *ActiveJobs) index(owner types.SocketIdentity, id types.JobId) {
	set, ok := a.byOwner[owner]
	if !ok {
		set = make(map[types.JobId]struct{})
		a.byOwner[owner] = set
	}
	set[id] = struct{}{}
}

func (a *ActiveJobs) deindex(owner types.SocketIdentity, id types.JobId) {
	if set, ok := a.byOwner[owner]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(a.byOwner, owner)
		}
	}
}

// UpdateStatus merges a new status into the record, enforcing monotonicity
// per the job lifecycle: QUEUED -> IN_PROGRESS -> terminal. A status for an
// unknown JobId is silently discarded, as is a QUEUED status (every active
// record is already IN_PROGRESS or later) and any status sent for a
// terminal record.
func (a *ActiveJobs) UpdateStatus(status types.JobStatus) {
	rec, ok := a.records[status.Id]
	if !ok {
		return
	}
	if rec.Status.Tag.Terminal() || status.Tag == types.StatusQueued {
		return
	}
	rec.Status = status
}

// UpdateResult attaches a result and drives the record's status to
// FINISHED, per invariant 5 (a result implicitly finishes the job).
func (a *ActiveJobs) UpdateResult(result types.JobResult) {
	rec, ok := a.records[result.Id]
	if !ok {
		return
	}
	r := result
	rec.Result = &r
	rec.Status = types.JobStatus{Id: result.Id, Tag: types.StatusFinished}
}

// HaveResult reports whether a result has been stored for id.
func (a *ActiveJobs) HaveResult(id types.JobId) bool {
	rec, ok := a.records[id]
	return ok && rec.Result != nil
}

// Result returns the stored result for id, if any.
func (a *ActiveJobs) Result(id types.JobId) (types.JobResult, bool) {
	rec, ok := a.records[id]
	if !ok || rec.Result == nil {
		return types.JobResult{}, false
	}
	return *rec.Result, true
}

// Status returns the current status for id.
func (a *ActiveJobs) Status(id types.JobId) (types.JobStatus, bool) {
	rec, ok := a.records[id]
	if !ok {
		return types.JobStatus{}, false
	}
	return rec.Status, true
}

// RefreshJobs bumps LastHeartbeat on every record owned by workerID.
func (a *ActiveJobs) RefreshJobs(workerID types.SocketIdentity, now time.Time) {
	for id := range a.byOwner[workerID] {
		if rec, ok := a.records[id]; ok {
			rec.LastHeartbeat = now
		}
	}
}

// MarkFailedJobs transitions every non-terminal record whose heartbeat is
// older than threshold to EXPIRED, returning how many it expired.
func (a *ActiveJobs) MarkFailedJobs(now time.Time, threshold time.Duration) int {
	n := 0
	for _, rec := range a.records {
		if rec.Status.Tag.Terminal() {
			continue
		}
		if now.Sub(rec.LastHeartbeat) > threshold {
			rec.Status = types.JobStatus{Id: rec.JobId, Tag: types.StatusExpired}
			n++
		}
	}
	return n
}

// MarkFailed transitions a single job to FAILED, used by TERMINATE_JOB.
func (a *ActiveJobs) MarkFailed(id types.JobId) {
	if rec, ok := a.records[id]; ok && !rec.Status.Tag.Terminal() {
		rec.Status = types.JobStatus{Id: id, Tag: types.StatusFailed}
	}
}

// Remove drops a record, used after the result has been retrieved or the
// client has terminated it. Reports whether it was present.
func (a *ActiveJobs) Remove(id types.JobId) bool {
	rec, ok := a.records[id]
	if !ok {
		return false
	}
	a.deindex(rec.AssignedWorker, id)
	delete(a.records, id)
	return true
}

// AssignedWorker returns the worker identity a job is assigned to.
func (a *ActiveJobs) AssignedWorker(id types.JobId) (types.SocketIdentity, bool) {
	rec, ok := a.records[id]
	if !ok {
		return "", false
	}
	return rec.AssignedWorker, true
}

// Have reports whether id has an active record.
func (a *ActiveJobs) Have(id types.JobId) bool {
	_, ok := a.records[id]
	return ok
}

// Len reports the current active-job count, for metrics.
func (a *ActiveJobs) Len() int {
	return len(a.records)
}
