// Package broker implements the core dispatch loop: a single-threaded
// cooperative event loop that polls both endpoints, routes messages to the
// client/worker handlers, runs heartbeat maintenance, and matches queued
// jobs to ready workers.
//
// Everything runs from one goroutine (Start spawns it, Stop joins it), so
// JobQueue, WorkerPool, and ActiveJobs need no locks of their own: only the
// loop ever touches them.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/remusmesh/broker/internal/activejobs"
	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/internal/jobqueue"
	"github.com/remusmesh/broker/internal/metrics"
	"github.com/remusmesh/broker/internal/socketmonitor"
	"github.com/remusmesh/broker/internal/transport"
	"github.com/remusmesh/broker/internal/workerfactory"
	"github.com/remusmesh/broker/internal/workerpool"
	"github.com/remusmesh/broker/pkg/types"
)

var log = slog.Default()

// gracePeriod bounds how long the broker waits after broadcasting SHUTDOWN
// before the loop goroutine returns.
const gracePeriod = 200 * time.Millisecond

// Broker owns every core container and drives them from one goroutine.
// Nothing outside the dispatch loop ever mutates queue, pool, or active,
// so none of them relies on a lock of its own; pool and active have none,
// and queue's internal mutex is never contended.
type Broker struct {
	client transport.Endpoint
	worker transport.Endpoint

	queue   *jobqueue.JobQueue
	pool    *workerpool.Pool
	active  *activejobs.ActiveJobs
	factory workerfactory.Factory
	monitor *socketmonitor.Monitor
	metrics *metrics.Collector

	submittedAt map[types.JobId]time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// New assembles a Broker from its collaborators. metricsCollector may be
// nil, in which case instrumentation is skipped.
func New(
	clientEndpoint, workerEndpoint transport.Endpoint,
	factory workerfactory.Factory,
	monitor *socketmonitor.Monitor,
	metricsCollector *metrics.Collector,
) *Broker {
	return &Broker{
		client:      clientEndpoint,
		worker:      workerEndpoint,
		queue:       jobqueue.New(),
		pool:        workerpool.New(),
		active:      activejobs.New(),
		factory:     factory,
		monitor:     monitor,
		metrics:     metricsCollector,
		submittedAt: make(map[types.JobId]time.Time),
		stopCh:      make(chan struct{}),
	}
}

// Start spawns the dispatch loop in its own goroutine and returns
// immediately.
func (b *Broker) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop signals the dispatch loop to exit and blocks until it has finished
// broadcasting SHUTDOWN to every known worker and returned.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()
}

func (b *Broker) run() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			b.shutdown()
			return
		default:
		}

		b.iterate()
	}
}

// iterate runs a single dispatch-loop pass: poll, route, refresh, sweep,
// match, adapt.
func (b *Broker) iterate() {
	interval := b.monitor.CurrentInterval()

	clientTraffic := b.pollEndpoint(b.client, interval/2, b.routeClientMessage)
	workerID, workerTraffic := b.pollWorkerEndpoint(interval / 2)

	now := time.Now()

	if workerTraffic {
		b.active.RefreshJobs(workerID, now)
		b.pool.RefreshWorker(workerID, now)
	}

	threshold := b.monitor.ExpiryThreshold()
	if expired := b.active.MarkFailedJobs(now, threshold); expired > 0 && b.metrics != nil {
		b.metrics.RecordExpired(expired)
	}
	b.pool.PurgeDeadWorkers(now, threshold)

	b.findWorkerForQueuedJob(now)

	b.monitor.NotifyTraffic(clientTraffic || workerTraffic)
	b.recordStats()
}

// pollCtx wraps transport.PollTimeout so a poll also returns as soon as
// Stop is called, rather than always waiting out its own timeout; an idle
// broker would otherwise take up to interval/2 per poll to notice.
func (b *Broker) pollCtx(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := transport.PollTimeout(timeout)
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// pollEndpoint receives and dispatches at most one message, reporting
// whether any traffic was observed.
func (b *Broker) pollEndpoint(ep transport.Endpoint, timeout time.Duration, route func(types.SocketIdentity, codec.Message)) bool {
	ctx, cancel := b.pollCtx(timeout)
	defer cancel()

	in, ok, err := ep.Receive(ctx)
	if err != nil {
		log.Debug("endpoint receive error", "err", err)
		return false
	}
	if !ok {
		return false
	}
	route(in.Identity, in.Message)
	return true
}

// pollWorkerEndpoint mirrors pollEndpoint but also reports the identity
// that produced traffic, since the loop needs it for heartbeat refresh
// independent of what the message itself did.
func (b *Broker) pollWorkerEndpoint(timeout time.Duration) (types.SocketIdentity, bool) {
	ctx, cancel := b.pollCtx(timeout)
	defer cancel()

	in, ok, err := b.worker.Receive(ctx)
	if err != nil {
		log.Debug("worker endpoint receive error", "err", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	b.routeWorkerMessage(in.Identity, in.Message)
	return in.Identity, true
}

// shutdown broadcasts SHUTDOWN to every known worker identity and waits a
// bounded grace period before the loop returns.
func (b *Broker) shutdown() {
	for _, id := range b.worker.Identities() {
		if err := b.worker.Send(id, codec.Response{Service: codec.Shutdown}); err != nil {
			log.Debug("shutdown send failed", "identity", string(id), "err", err)
		}
	}
	time.Sleep(gracePeriod)
}

func (b *Broker) recordStats() {
	if b.metrics == nil {
		return
	}
	b.metrics.UpdateQueueStats(b.queueDepth(), b.active.Len(), b.pool.ReadyCount(), b.pool.Len())
}

func (b *Broker) queueDepth() int {
	return b.queue.Len()
}
