package eventbus

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned when a task is submitted to a closed WorkerPool.
var ErrPoolClosed = errors.New("eventbus: worker pool closed")

// Strategy selects how listener invocations are scheduled.
type Strategy string

const (
	// StrategyPerListener runs every listener invocation on its own
	// goroutine.
	StrategyPerListener Strategy = "per-listener"

	// StrategyPool caps how many listener invocations run at once.
	StrategyPool Strategy = "pool"
)

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPerListener, StrategyPool:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("eventbus: unknown dispatch strategy %q", s)
	}
}

// Executor runs listener tasks.
type Executor interface {
	Execute(task func()) error
}

type goroutineExecutor struct{}

func (goroutineExecutor) Execute(task func()) error {
	go task()
	return nil
}

// PerListener returns the default executor: one short-lived goroutine per
// listener invocation.
func PerListener() Executor {
	return goroutineExecutor{}
}

// WorkerPool is an Executor that runs at most a fixed number of tasks at
// once. Execute blocks while every worker slot is busy.
type WorkerPool struct {
	group  errgroup.Group
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool returns a pool with workers concurrent slots.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &WorkerPool{}
	p.group.SetLimit(workers)
	return p
}

// Execute runs task as soon as a slot is free.
func (p *WorkerPool) Execute(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.group.Go(func() error {
		task()
		return nil
	})
	return nil
}

// Close stops accepting tasks and waits for the running ones. Calling Close
// more than once is safe.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.group.Wait()
}

// NewExecutor builds the Executor for strategy. workers only applies to
// StrategyPool.
func NewExecutor(strategy Strategy, workers int) (Executor, error) {
	switch strategy {
	case StrategyPerListener, "":
		return PerListener(), nil
	case StrategyPool:
		return NewWorkerPool(workers), nil
	default:
		return nil, fmt.Errorf("eventbus: unknown dispatch strategy %q", strategy)
	}
}
