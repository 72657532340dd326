package activejobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remusmesh/broker/pkg/meshtype"
	"github.com/remusmesh/broker/pkg/types"
)

var meshToMesh = meshtype.MeshIOType{Input: meshtype.Mesh2D, Output: meshtype.Mesh3D}

func newJob() types.Job {
	return types.Job{Id: types.NewJobId(), MeshIOType: meshToMesh}
}

func TestAddCreatesInProgressRecord(t *testing.T) {
	a := New()
	job := newJob()
	now := time.Now()

	a.Add("w1", job, now)

	status, ok := a.Status(job.Id)
	require.True(t, ok)
	assert.Equal(t, types.StatusInProgress, status.Tag)

	worker, ok := a.AssignedWorker(job.Id)
	require.True(t, ok)
	assert.Equal(t, types.SocketIdentity("w1"), worker)
}

func TestUpdateStatusDiscardsUnknownID(t *testing.T) {
	a := New()
	a.UpdateStatus(types.JobStatus{Id: types.NewJobId(), Tag: types.StatusInProgress})
	assert.Zero(t, a.Len())
}

func TestUpdateStatusEnforcesMonotonicity(t *testing.T) {
	a := New()
	job := newJob()
	a.Add("w1", job, time.Now())

	a.UpdateStatus(types.JobStatus{Id: job.Id, Tag: types.StatusFailed})
	status, _ := a.Status(job.Id)
	require.Equal(t, types.StatusFailed, status.Tag)

	a.UpdateStatus(types.JobStatus{Id: job.Id, Tag: types.StatusInProgress, Progress: types.Progress{Value: 50}})
	status, _ = a.Status(job.Id)
	assert.Equal(t, types.StatusFailed, status.Tag, "terminal status must not regress")
}

func TestUpdateResultFinishesJob(t *testing.T) {
	a := New()
	job := newJob()
	a.Add("w1", job, time.Now())

	result := types.JobResult{Id: job.Id, Payload: []byte("mesh-bytes")}
	a.UpdateResult(result)

	assert.True(t, a.HaveResult(job.Id))
	stored, ok := a.Result(job.Id)
	require.True(t, ok)
	assert.Equal(t, result.Payload, stored.Payload)

	status, _ := a.Status(job.Id)
	assert.Equal(t, types.StatusFinished, status.Tag)
}

func TestUpdateResultUnknownIDDiscarded(t *testing.T) {
	a := New()
	a.UpdateResult(types.JobResult{Id: types.NewJobId()})
	assert.False(t, a.HaveResult(types.NewJobId()))
}

func TestRefreshJobsBumpsOwnedRecordsOnly(t *testing.T) {
	a := New()
	job1 := newJob()
	job2 := newJob()
	base := time.Now().Add(-time.Hour)
	a.Add("w1", job1, base)
	a.Add("w2", job2, base)

	refreshTime := time.Now()
	a.RefreshJobs("w1", refreshTime)

	a.MarkFailedJobs(refreshTime, time.Minute)
	status1, _ := a.Status(job1.Id)
	status2, _ := a.Status(job2.Id)
	assert.NotEqual(t, types.StatusExpired, status1.Tag, "job1 was refreshed")
	assert.Equal(t, types.StatusExpired, status2.Tag, "job2's heartbeat is stale")
}

func TestMarkFailedJobsSkipsTerminal(t *testing.T) {
	a := New()
	job := newJob()
	a.Add("w1", job, time.Now().Add(-time.Hour))
	a.UpdateResult(types.JobResult{Id: job.Id})

	n := a.MarkFailedJobs(time.Now(), time.Minute)

	status, _ := a.Status(job.Id)
	assert.Equal(t, types.StatusFinished, status.Tag, "already-terminal job must not flip to expired")
	assert.Zero(t, n)
}

func TestMarkFailedJobsReturnsExpiredCount(t *testing.T) {
	a := New()
	stale := time.Now().Add(-time.Hour)
	a.Add("w1", newJob(), stale)
	a.Add("w2", newJob(), stale)
	a.Add("w3", newJob(), time.Now())

	n := a.MarkFailedJobs(time.Now(), time.Minute)
	assert.Equal(t, 2, n)
}

func TestMarkFailed(t *testing.T) {
	a := New()
	job := newJob()
	a.Add("w1", job, time.Now())

	a.MarkFailed(job.Id)

	status, _ := a.Status(job.Id)
	assert.Equal(t, types.StatusFailed, status.Tag)
}

func TestMarkFailedAlreadyTerminalNoOp(t *testing.T) {
	a := New()
	job := newJob()
	a.Add("w1", job, time.Now())
	a.UpdateResult(types.JobResult{Id: job.Id})

	a.MarkFailed(job.Id)

	status, _ := a.Status(job.Id)
	assert.Equal(t, types.StatusFinished, status.Tag)
}

func TestRemoveDeindexesOwner(t *testing.T) {
	a := New()
	job := newJob()
	a.Add("w1", job, time.Now())

	assert.True(t, a.Remove(job.Id))
	assert.False(t, a.Have(job.Id))
	assert.Zero(t, a.Len())
}

func TestRemoveUnknownID(t *testing.T) {
	a := New()
	assert.False(t, a.Remove(types.NewJobId()))
}

func TestLen(t *testing.T) {
	a := New()
	a.Add("w1", newJob(), time.Now())
	a.Add("w2", newJob(), time.Now())
	assert.Equal(t, 2, a.Len())
}
