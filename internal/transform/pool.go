// Package transform runs HTML→Markdown conversion on a fixed pool of
// long-lived workers, off the request-serving goroutine, with per-task
// cancellation, timeout, crash respawn, and a bounded FIFO queue (§4.6).
package transform

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	perr "fetchmcp/internal/platform/errors"
)

// Task describes one HTML→Markdown conversion request
type Task struct {
	ID              string
	HTML            string
	URL             string
	IncludeMetadata bool
}

// Result is a completed conversion
type Result struct {
	Markdown  string
	Title     string
	Truncated bool
}

// job is an internal envelope pairing a Task with its reply channel.
// abandoned is a pointer so Submit's timeout path and the worker goroutine
// observe the same flag after job is copied onto the queue channel.
type job struct {
	task      Task
	ctx       context.Context
	resultCh  chan outcome
	abandoned *atomic.Bool
}

type outcome struct {
	result Result
	err    error
}

// Options configures a Pool
type Options struct {
	// Workers defaults to clamp(NumCPU-1, 2, 16)
	Workers int
	// Timeout bounds a single task; default 30s
	Timeout time.Duration
}

// Pool is a fixed set of worker goroutines draining a bounded FIFO queue
type Pool struct {
	queue    chan job
	queueMax int
	timeout  time.Duration
	closed   atomic.Bool
	wg       sync.WaitGroup
}

func clampWorkers(n int) int {
	if n < 2 {
		return 2
	}
	if n > 16 {
		return 16
	}
	return n
}

// New starts the pool's workers and returns it ready to accept Submit calls
func New(opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = clampWorkers(runtime.NumCPU() - 1)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	queueMax := 2 * workers

	p := &Pool{
		queue:    make(chan job, queueMax),
		queueMax: queueMax,
		timeout:  timeout,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

// Submit enqueues a task and blocks until it settles, the caller's context
// is cancelled, or the per-task timeout fires. Submission itself is
// rejected synchronously ("queue is full") once queueMax tasks are pending,
// and once the pool has been closed.
func (p *Pool) Submit(ctx context.Context, task Task) (Result, error) {
	if p.closed.Load() {
		return Result{}, perr.Internalf("transform pool closed")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, perr.Abortedf("transform task %s cancelled before dispatch", task.ID)
	}

	j := job{task: task, ctx: ctx, resultCh: make(chan outcome, 1), abandoned: new(atomic.Bool)}

	select {
	case p.queue <- j:
	default:
		return Result{}, perr.ServerBusyf("transform queue is full")
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case res := <-j.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		return Result{}, perr.WithStage(perr.Abortedf("transform task %s cancelled", task.ID), "transform:dispatch")
	case <-timer.C:
		j.abandoned.Store(true)
		return Result{}, perr.WithStage(perr.Newf(perr.ErrorCodeTimeout, "transform task %s timed out", task.ID), "transform:worker-timeout")
	}
}

// Close terminates the pool: no further Submit succeeds, queued-but-not-yet-
// dispatched tasks are rejected with "pool closed", and in-flight tasks are
// left to finish or abandon on their own timeout.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// runWorker drains the queue, processing one job at a time. If processing a
// job panics, this goroutine reports the crash to that job's caller and
// terminates; the caller (this function) spawns its own replacement so the
// pool's worker count is restored and the queue keeps draining.
func (p *Pool) runWorker() {
	defer p.wg.Done()
	for j := range p.queue {
		if p.closed.Load() {
			if !j.abandoned.Load() {
				j.resultCh <- outcome{err: perr.Internalf("transform pool closed")}
			}
			continue
		}
		if crashed := p.runOne(j); crashed {
			if !p.closed.Load() {
				p.wg.Add(1)
				go p.runWorker()
			}
			return
		}
	}
}

func (p *Pool) runOne(j job) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			if !j.abandoned.Load() {
				j.resultCh <- outcome{err: perr.WithStage(perr.Internalf("worker crashed: %v", r), "transform:worker-timeout")}
			}
		}
	}()

	if j.ctx.Err() != nil {
		if !j.abandoned.Load() {
			j.resultCh <- outcome{err: perr.WithStage(perr.Abortedf("transform task %s cancelled", j.task.ID), "transform:dispatch")}
		}
		return false
	}

	markdown, title, err := convert(j.task.HTML, j.task.URL, j.task.IncludeMetadata)
	if !j.abandoned.Load() {
		if err != nil {
			j.resultCh <- outcome{err: perr.WithStage(perr.Wrapf(err, perr.ErrorCodeInternal, "transform failed"), "transform:dispatch")}
		} else {
			j.resultCh <- outcome{result: Result{Markdown: markdown, Title: title}}
		}
	}
	return false
}
