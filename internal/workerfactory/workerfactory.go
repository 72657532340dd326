// Package workerfactory spawns local worker processes on demand and tracks
// how many are currently running per mesh-io-type, against a configured
// cap. It holds a per-type cap and a command template, and launches a
// child process with the broker's worker-facing endpoint appended to the
// command line so the spawned process knows where to connect back to.
package workerfactory

import (
	"log/slog"
	"os/exec"
	"sync"

	"github.com/remusmesh/broker/pkg/meshtype"
	"github.com/remusmesh/broker/pkg/types"
)

// Factory is the interface internal/broker depends on. LocalProcessFactory
// is the only production implementation; tests may supply a stub.
type Factory interface {
	HaveSupport(meshtype.MeshIOType) bool
	CreateWorker(meshtype.MeshIOType) bool
	UpdateWorkerCount()
	MeshRequirements(meshtype.MeshIOType) []types.Requirements

	// DeadCount returns and resets the number of processes for t observed
	// to have exited abnormally since the last call.
	DeadCount(meshtype.MeshIOType) int
}

// Command is one supported mesh-io-type's launch template: an executable
// plus arguments, with the worker endpoint appended at launch time.
type Command struct {
	MeshIOType   meshtype.MeshIOType
	Path         string
	Args         []string
	Requirements []types.Requirements
}

// LocalProcessFactory spawns local OS processes for supported mesh-io-types,
// capped per type, and reaps them non-blockingly.
type LocalProcessFactory struct {
	mu             sync.Mutex
	commands       map[meshtype.MeshIOType]Command
	maxWorkerCount int
	workerEndpoint string

	running   map[meshtype.MeshIOType]int
	deadCount map[meshtype.MeshIOType]int
	log       *slog.Logger
}

// New creates a LocalProcessFactory. workerEndpoint is the host:port string
// appended as the final command-line argument of every spawned process, so
// it knows where to connect back to.
func New(commands []Command, maxWorkerCount int, workerEndpoint string, log *slog.Logger) *LocalProcessFactory {
	byType := make(map[meshtype.MeshIOType]Command, len(commands))
	for _, c := range commands {
		byType[c.MeshIOType] = c
	}
	if log == nil {
		log = slog.Default()
	}
	return &LocalProcessFactory{
		commands:       byType,
		maxWorkerCount: maxWorkerCount,
		workerEndpoint: workerEndpoint,
		running:        make(map[meshtype.MeshIOType]int),
		deadCount:      make(map[meshtype.MeshIOType]int),
		log:            log,
	}
}

// HaveSupport reports whether any command template is registered for t.
func (f *LocalProcessFactory) HaveSupport(t meshtype.MeshIOType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.commands[t]
	return ok
}

// MeshRequirements returns the advertised requirements set for t, or nil
// if t is unsupported.
func (f *LocalProcessFactory) MeshRequirements(t meshtype.MeshIOType) []types.Requirements {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[t].Requirements
}

// CreateWorker attempts to spawn a worker process of type t. It returns
// false without spawning if t is unsupported or the per-type cap has been
// reached; spawning itself never blocks beyond the fork/exec syscall.
func (f *LocalProcessFactory) CreateWorker(t meshtype.MeshIOType) bool {
	f.mu.Lock()
	cmd, ok := f.commands[t]
	if !ok || f.running[t] >= f.maxWorkerCount {
		f.mu.Unlock()
		return false
	}
	f.running[t]++
	f.mu.Unlock()

	args := append(append([]string{}, cmd.Args...), f.workerEndpoint)
	proc := exec.Command(cmd.Path, args...)

	if err := proc.Start(); err != nil {
		f.log.Warn("worker process failed to start", "mesh_io_type", t.String(), "err", err)
		f.mu.Lock()
		f.running[t]--
		f.deadCount[t]++
		f.mu.Unlock()
		return false
	}

	go f.wait(t, proc)
	return true
}

func (f *LocalProcessFactory) wait(t meshtype.MeshIOType, proc *exec.Cmd) {
	err := proc.Wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[t]--
	if err != nil {
		f.deadCount[t]++
		f.log.Warn("worker process exited abnormally", "mesh_io_type", t.String(), "err", err)
	}
}

// UpdateWorkerCount is a no-op: reaping already happens asynchronously in
// wait, so there is nothing left to update here beyond what callers read
// via DeadCount/RunningCount.
func (f *LocalProcessFactory) UpdateWorkerCount() {}

// DeadCount returns and resets the number of abnormal exits observed for t
// since the last call. The broker adds the count to a metrics counter; it
// does not touch any job or pool record, since the count names no worker
// identity.
func (f *LocalProcessFactory) DeadCount(t meshtype.MeshIOType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.deadCount[t]
	f.deadCount[t] = 0
	return n
}

// RunningCount reports the current live child count for t.
func (f *LocalProcessFactory) RunningCount(t meshtype.MeshIOType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[t]
}
