package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/service"
)

// waker is satisfied by storage.Adapter's Listen. Kept as an
// interface so the pool never imports the storage package directly.
type waker interface {
	Listen(ctx context.Context, channel string) (<-chan struct{}, error)
}

// Pool runs fixed goroutines draining a channel of leased jobs, fed by
// a listener loop that leases from the queue on every wake-up or poll
// tick, whichever comes first. The listener's source is an atomic SQL
// lease statement; the wake primitive is Postgres LISTEN/NOTIFY, with
// the poll ticker as a fallback in case a notification is missed.
type Pool struct {
	cfg       Config
	jobs      *service.JobService
	queues    *service.QueueService
	processor *Processor
	remote    remoteExecutor
	wakes     waker

	activeJobs int64

	wg   sync.WaitGroup
	stop chan struct{}
}

func NewPool(cfg Config, jobs *service.JobService, queues *service.QueueService, processor *Processor, exec remoteExecutor, wakes waker) *Pool {
	return &Pool{
		cfg:       cfg.withDefaults(),
		jobs:      jobs,
		queues:    queues,
		processor: processor,
		remote:    exec,
		wakes:     wakes,
		stop:      make(chan struct{}),
	}
}

// Start connects to the remote host, logs its identity, rearms any
// jobs left STALLED from a previous crash, and launches the dispatch
// and stall-sweep loops. It returns an error if the connection check
// or LISTEN fails; an error from the initial retry sweep is logged and
// does not stop the start. The loops themselves run until Stop or ctx
// is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.remote.Connect(ctx); err != nil {
		return err
	}
	if err := p.remote.TestConnection(ctx); err != nil {
		return err
	}
	if hostname, uptime, err := p.remote.ServerInfo(ctx); err == nil {
		log.Printf("[worker] connected host=%s uptime=%s", hostname, uptime)
	}

	if rearmed, err := p.queues.RetryStalledJobs(ctx, p.cfg.QueueName); err != nil {
		log.Printf("[worker] queue=%s retry_stalled error=%v", p.cfg.QueueName, err)
	} else if len(rearmed) > 0 {
		log.Printf("[worker] queue=%s retry_stalled count=%d", p.cfg.QueueName, len(rearmed))
	}

	wake, err := p.wakes.Listen(ctx, service.NewJobChannel)
	if err != nil {
		return err
	}

	p.wg.Add(2)
	go p.dispatchLoop(ctx, wake)
	go p.stallSweepLoop(ctx)

	log.Printf("[worker] pool started queue=%s concurrency=%d", p.cfg.QueueName, p.cfg.Concurrency)
	return nil
}

// Stop signals both loops to exit and waits for the worker goroutines
// to drain in-flight jobs.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
	_ = p.remote.Disconnect()
	log.Println("[worker] pool stopped")
}

func (p *Pool) dispatchLoop(ctx context.Context, wake <-chan struct{}) {
	defer p.wg.Done()

	jobCh := make(chan entity.Job)
	var workers sync.WaitGroup
	workers.Add(p.cfg.Concurrency)
	for i := 0; i < p.cfg.Concurrency; i++ {
		go func(n int) {
			defer workers.Done()
			for job := range jobCh {
				p.processor.Process(ctx, job)
				atomic.AddInt64(&p.activeJobs, -1)
			}
		}(i + 1)
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			workers.Wait()
			return
		case <-p.stop:
			close(jobCh)
			workers.Wait()
			return
		case <-wake:
			p.leaseAndDispatch(ctx, jobCh)
		case <-ticker.C:
			p.leaseAndDispatch(ctx, jobCh)
		}
	}
}

// leaseAndDispatch leases only as many jobs as there are free worker
// slots (concurrency minus jobs currently in flight) and hands each to
// jobCh. Bounding the lease this way keeps a freshly-leased RUNNING
// row from ever waiting on a busy jobCh: every slot it fills has a
// worker idle and ready to receive, so the send below cannot block
// long enough to trip the stall sweep and cause a double execution.
// lockToken is fresh per batch: uniqueness, not per-worker identity,
// is the only contract on it.
func (p *Pool) leaseAndDispatch(ctx context.Context, jobCh chan<- entity.Job) {
	free := p.cfg.Concurrency - int(atomic.LoadInt64(&p.activeJobs))
	if free <= 0 {
		return
	}

	leased, err := p.jobs.LeaseBatch(ctx, p.cfg.QueueName, free, newLockToken())
	if err != nil {
		log.Printf("[worker] queue=%s lease_batch error=%v", p.cfg.QueueName, err)
		return
	}
	for _, job := range leased {
		atomic.AddInt64(&p.activeJobs, 1)
		select {
		case jobCh <- job:
		case <-ctx.Done():
			atomic.AddInt64(&p.activeJobs, -1)
			return
		case <-p.stop:
			atomic.AddInt64(&p.activeJobs, -1)
			return
		}
	}
}

func (p *Pool) stallSweepLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.StalledTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			stalled, err := p.queues.MarkStalledJobs(ctx, p.cfg.QueueName, p.cfg.StalledTimeout)
			if err != nil {
				log.Printf("[worker] queue=%s mark_stalled error=%v", p.cfg.QueueName, err)
				continue
			}
			if len(stalled) > 0 {
				log.Printf("[worker] queue=%s mark_stalled count=%d", p.cfg.QueueName, len(stalled))
			}
		}
	}
}
