package async

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one unit of background work. The context carries the pool's
// per-task timeout.
type Task func(context.Context) error

// Pool runs tasks on a fixed set of workers behind a bounded queue.
// Submission never blocks: when the queue is full the task is rejected
// so that producers (the audit capture path) cannot be slowed down or
// wedged by a struggling consumer.
type Pool struct {
	workers     int
	taskName    string
	taskTimeout time.Duration

	queue        chan Task
	done         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once

	// OnError is invoked for every task error or panic, after the task
	// finishes. Optional; errors are logged when unset.
	OnError func(error)
}

// NewPool starts workers goroutines consuming a queue of queueSize
// pending tasks. Each task runs with taskTimeout.
func NewPool(ctx context.Context, workers, queueSize int, taskName string, taskTimeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		workers:     workers,
		taskName:    taskName,
		taskTimeout: taskTimeout,
		queue:       make(chan Task, queueSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				p.worker(id)
			}(i)
		}
		wg.Wait()
		close(p.done)
	}()

	return p
}

// TrySubmit enqueues fn without blocking. It reports false when the
// queue is full or the pool is shut down; the caller decides whether a
// rejected task is droppable.
func (p *Pool) TrySubmit(fn Task) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.queue <- fn:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting work, drains the queue, and waits up to
// timeout for in-flight tasks to finish.
func (p *Pool) Shutdown(timeout time.Duration) error {
	var err error
	p.shutdownOnce.Do(func() {
		close(p.queue)
		select {
		case <-p.done:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			err = fmt.Errorf("%s pool: shutdown timed out after %v", p.taskName, timeout)
		}
	})
	return err
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *Pool) run(id int, fn Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.taskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.report(fmt.Errorf("panic in %s worker %d: %v\n%s", p.taskName, id, r, debug.Stack()))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	if p.OnError != nil {
		p.OnError(err)
		return
	}
	log.Printf("[async] %s: %v", p.taskName, err)
}
