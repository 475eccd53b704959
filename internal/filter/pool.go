package filter

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/natsift/natsift/internal/config"
	"github.com/natsift/natsift/internal/matcher"
	"github.com/natsift/natsift/internal/queue"
)

// popTimeout bounds how long a worker blocks on the queue before
// re-checking the running flag.
const popTimeout = 100 * time.Millisecond

// PublishFunc issues one publish on the bus. The worker pool calls it from
// a single dispatcher goroutine only.
type PublishFunc func(subject string, payload []byte) error

// publishTask carries one matched message from a worker to the dispatcher.
// The snapshot reference pins the subject map that was used for matching.
type publishTask struct {
	payload []byte
	ids     []uint64
	snap    *Snapshot
}

// Stats is an aggregate snapshot of the pool counters.
type Stats struct {
	Processed     uint64
	Matched       uint64
	Published     uint64
	MatchFailures uint64
	QueueDepth    int
}

// WorkerPool drains the inbound queue with a fixed set of matching
// workers and funnels the resulting publishes through one dispatcher, so
// CPU-bound matching parallelizes while bus writes stay serialized.
type WorkerPool struct {
	log     *slog.Logger
	format  config.Format
	schema  *matcher.Schema
	subs    *SubscriptionManager
	publish PublishFunc

	workers int
	running atomic.Bool
	inbound *queue.Queue
	tasks   chan publishTask

	workerWG     sync.WaitGroup
	dispatcherWG sync.WaitGroup

	processed     atomic.Uint64
	matched       atomic.Uint64
	published     atomic.Uint64
	matchFailures atomic.Uint64
}

// NewWorkerPool sizes the pool from the config: the configured count, or
// the number of CPUs, floor 1.
func NewWorkerPool(cfg config.Config, schema *matcher.Schema, subs *SubscriptionManager, publish PublishFunc, log *slog.Logger) *WorkerPool {
	workers := cfg.WorkerThreads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		log:     log,
		format:  cfg.Format,
		schema:  schema,
		subs:    subs,
		publish: publish,
		workers: workers,
		inbound: queue.New(),
		tasks:   make(chan publishTask, 256),
	}
}

// Start spawns the workers and the dispatcher. Idempotent.
func (p *WorkerPool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.dispatcherWG.Add(1)
	go p.dispatchLoop()

	p.workerWG.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.workerLoop(i)
	}
	p.log.Info("worker pool started", "workers", p.workers)
}

// Stop signals the workers, drains them via one empty sentinel each, then
// lets the dispatcher finish every publish the workers had handed off.
func (p *WorkerPool) Stop() {
	if !p.running.Swap(false) {
		return
	}

	for i := 0; i < p.workers; i++ {
		p.inbound.Push(nil)
	}
	p.workerWG.Wait()

	close(p.tasks)
	p.dispatcherWG.Wait()
	p.log.Info("worker pool stopped")
}

// Enqueue hands an inbound payload to the workers. Never blocks and never
// drops.
func (p *WorkerPool) Enqueue(payload []byte) {
	p.inbound.Push(payload)
}

// QueueDepth returns the approximate inbound backlog.
func (p *WorkerPool) QueueDepth() int {
	return p.inbound.Len()
}

// GetStats reads the aggregate counters.
func (p *WorkerPool) GetStats() Stats {
	return Stats{
		Processed:     p.processed.Load(),
		Matched:       p.matched.Load(),
		Published:     p.published.Load(),
		MatchFailures: p.matchFailures.Load(),
		QueueDepth:    p.inbound.Len(),
	}
}

func (p *WorkerPool) workerLoop(id int) {
	defer p.workerWG.Done()
	p.log.Debug("worker started", "worker", id)

	for p.running.Load() {
		payload, ok := p.inbound.Pop(popTimeout)
		if !ok {
			continue
		}
		// Empty payload is the shutdown sentinel.
		if len(payload) == 0 {
			break
		}

		snap := p.subs.Snapshot()
		if snap == nil || snap.Tree == nil {
			continue
		}

		ids, matched := DecodeAndMatch(snap.Tree, p.schema, p.format, payload, p.log)
		p.processed.Add(1)
		if !matched {
			p.matchFailures.Add(1)
			continue
		}
		if len(ids) == 0 {
			continue
		}

		p.matched.Add(1)
		p.tasks <- publishTask{payload: payload, ids: ids, snap: snap}
	}

	p.log.Debug("worker stopped", "worker", id)
}

func (p *WorkerPool) dispatchLoop() {
	defer p.dispatcherWG.Done()

	for task := range p.tasks {
		for _, id := range task.ids {
			subject, ok := task.snap.OutputSubjects[id]
			if !ok {
				// The snapshot is the one used for matching, so this
				// lookup cannot miss.
				continue
			}
			if err := p.publish(subject, task.payload); err != nil {
				p.log.Warn("publish failed", "subject", subject, "error", err)
				continue
			}
			p.published.Add(1)
		}
	}
}
