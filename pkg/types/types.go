// Package types defines the core domain model shared by every component of
// the mesh dispatch broker: jobs, their statuses, workers, and the records
// that track both while they are live.
package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/remusmesh/broker/pkg/meshtype"
)

// JobId is a globally unique identifier assigned by the broker at
// submission time. It wraps a UUID rather than a bare string so malformed
// ids can be rejected at the codec boundary instead of propagating as
// lookup misses deep in the core.
type JobId uuid.UUID

// NewJobId generates a fresh random JobId.
func NewJobId() JobId {
	return JobId(uuid.New())
}

func (id JobId) String() string {
	return uuid.UUID(id).String()
}

// ParseJobId parses the wire representation of a JobId.
func ParseJobId(s string) (JobId, error) {
	u, err := uuid.Parse(s)
	return JobId(u), err
}

// SocketIdentity is the opaque byte string the transport assigns to a peer
// connection, stable for the lifetime of that peer's session.
type SocketIdentity string

// Requirements describes what a worker needs in order to accept a job: a
// worker name plus an opaque requirements blob the worker-side SDK
// understands and the broker never inspects.
type Requirements struct {
	WorkerName string
	Tag        string
	Blob       []byte
}

// Submission is the client-supplied payload for a job: a mapping from
// string key to opaque byte blob.
type Submission map[string][]byte

// Job carries everything the broker needs to dispatch a unit of work. Jobs
// are immutable after creation.
type Job struct {
	Id           JobId
	MeshIOType   meshtype.MeshIOType
	Requirements Requirements
	Submission   Submission
}

// JobStatusTag is a tagged state in the job lifecycle.
type JobStatusTag string

const (
	StatusQueued     JobStatusTag = "QUEUED"
	StatusInProgress JobStatusTag = "IN_PROGRESS"
	StatusFinished   JobStatusTag = "FINISHED"
	StatusFailed     JobStatusTag = "FAILED"
	StatusExpired    JobStatusTag = "EXPIRED"
	StatusInvalid    JobStatusTag = "INVALID"
)

// Terminal reports whether a status tag is one of the three terminal
// states: FINISHED, FAILED, EXPIRED. INVALID is an error reply, never a
// stored state, so it is deliberately not terminal.
func (s JobStatusTag) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Progress is an optional progress annotation on a non-terminal status.
type Progress struct {
	Value   int // in [-1, 100]
	Message string
}

// JobStatus is a tagged value: a JobStatusTag plus an optional Progress.
type JobStatus struct {
	Id       JobId
	Tag      JobStatusTag
	Progress Progress
}

// JobResult is the payload a worker returns for a finished job.
type JobResult struct {
	Id      JobId
	Payload []byte
}

// WorkerRecord is WorkerPool's per-worker bookkeeping.
type WorkerRecord struct {
	Identity      SocketIdentity
	MeshIOType    meshtype.MeshIOType
	ReadyForWork  bool
	LastHeartbeat time.Time
}

// ActiveJobRecord is ActiveJobs' per-assigned-job bookkeeping.
type ActiveJobRecord struct {
	JobId          JobId
	AssignedWorker SocketIdentity
	MeshIOType     meshtype.MeshIOType
	Status         JobStatus
	Result         *JobResult
	LastHeartbeat  time.Time
}
