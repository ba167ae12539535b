package worker

import (
	"context"
	"log"
	"sync"

	"capit/src/capture"
	"capit/src/core"
)

// Result reports one finished capture job. Stage is empty on success, or
// names the failed step: capture, encode, or write.
type Result struct {
	Path  string
	Stage string
	Err   error
}

// Callback is invoked on job completion from a worker goroutine. The event
// loop passes a closure that posts back into the loop safely.
type Callback func(Result)

// Pool runs capture jobs with a 1-slot input queue. Sessions are exclusive,
// so the queue only ever holds the active session's job; the strict
// back-pressure guards against bugs, not load.
type Pool struct {
	backend capture.Backend
	jobs    chan job
	wg      sync.WaitGroup
}

type job struct {
	ctx    context.Context
	target core.Rect
	path   string
	cb     Callback
}

// New creates a pool of size workers (minimum 1) over backend.
func New(size int, backend capture.Backend) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{backend: backend, jobs: make(chan job, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				j.cb(p.run(j))
			}
		}()
	}
}

func (p *Pool) run(j job) Result {
	if err := j.ctx.Err(); err != nil {
		return Result{Path: j.path, Stage: "capture", Err: err}
	}
	log.Printf("worker: capturing %dx%d at %d,%d -> %s",
		j.target.W, j.target.H, j.target.X, j.target.Y, j.path)

	img, err := p.backend.CaptureRect(j.target)
	if err != nil {
		return Result{Path: j.path, Stage: "capture", Err: err}
	}
	data, err := capture.EncodePNG(img)
	if err != nil {
		return Result{Path: j.path, Stage: "encode", Err: err}
	}
	if err := capture.WriteFile(j.path, data); err != nil {
		return Result{Path: j.path, Stage: "write", Err: err}
	}
	return Result{Path: j.path}
}

// Submit enqueues a job if the single-slot queue is free. Returns false if
// dropped.
func (p *Pool) Submit(ctx context.Context, target core.Rect, path string, cb Callback) bool {
	select {
	case p.jobs <- job{ctx: ctx, target: target, path: path, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
