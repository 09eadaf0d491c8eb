// Package workerpool runs the background jobs the Session Coordinator
// schedules off the request path, chiefly preparing a handoff packet
// the moment a session's budget crosses WARN so it is already sitting
// in the store by the time CRITICAL forces the caller's hand. Fixed
// worker goroutines drain a bounded job channel; Stop cancels the
// workers' context and waits for them, and jobs still queued then are
// not run. Each job retries transient Unavailable failures per the
// configured policy.
package workerpool

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/retry"
)

// Job is a unit of background work. It should be idempotent: a job may
// be retried by Policy before the pool gives up on it.
type Job func(ctx context.Context) error

// Pool runs a fixed number of workers draining a bounded job queue.
// Submit never blocks; a full queue rejects the job with
// errkind.Unavailable rather than applying backpressure to the caller,
// since background work (like pre-emptive handoff prepare) is always
// best-effort.
type Pool struct {
	jobs   chan namedJob
	policy retry.Policy

	mu      sync.Mutex
	started bool
	stopped bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type namedJob struct {
	label string
	run   Job
}

// New constructs a Pool with the given queue depth and per-job retry
// policy. It does not start any goroutines until Start is called.
func New(queueDepth int, policy retry.Policy) *Pool {
	return &Pool{
		jobs:   make(chan namedJob, queueDepth),
		policy: policy,
	}
}

// Start spawns workerCount goroutines, each draining the job queue
// until Stop is called or ctx is cancelled. Safe to call only once;
// a second call is a no-op.
func (p *Pool) Start(ctx context.Context, workerCount int) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.runWorker(runCtx, id)
		}(i)
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.policy.Do(ctx, func() error { return j.run(ctx) }); err != nil {
				slog.Warn("background job failed", "worker", id, "job", j.label, "error", err)
			}
		}
	}
}

// Submit enqueues a job for background execution. Returns
// errkind.Unavailable if the queue is full or the pool has stopped.
func (p *Pool) Submit(label string, job Job) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return errkind.New(errkind.Unavailable, "worker pool stopped")
	}

	select {
	case p.jobs <- namedJob{label: label, run: job}:
		return nil
	default:
		return errkind.New(errkind.Unavailable, "background job queue full")
	}
}

// Stop signals every worker to finish its current job and exit, then
// waits for them. Safe to call multiple times.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Group runs independent background tasks concurrently and returns the
// first error; that error cancels the context the other tasks see, but
// nothing a task already did is undone. Used for one-shot startup work (e.g. sweeping expired
// handoff packets across multiple stores) rather than the steady-state
// job queue above.
func Group(ctx context.Context, tasks ...Job) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error { return t(gctx) })
	}
	return g.Wait()
}
