package raft

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// dispatchPool runs outgoing RPCs on a bounded set of workers so a
// slow peer never blocks the tick loops. Tasks submitted after stop,
// or while the backlog is full, are dropped; the next tick resends.
type dispatchPool struct {
	tasks   chan func()
	workers int
	stopped atomic.Bool
	wg      sync.WaitGroup
}

func makeDispatchPool(workers, backlog int) *dispatchPool {
	pool := &dispatchPool{
		tasks:   make(chan func(), backlog),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go func() {
			defer pool.wg.Done()
			for task := range pool.tasks {
				if task == nil {
					return
				}
				task()
			}
		}()
	}
	return pool
}

func (pool *dispatchPool) trySubmit(task func()) bool {
	if pool.stopped.Load() {
		return false
	}
	select {
	case pool.tasks <- task:
		return true
	default:
		log.Debugf("dispatch pool backlog full, drop task")
		return false
	}
}

// stop drains queued tasks and joins the workers.
func (pool *dispatchPool) stop() {
	pool.stopped.Store(true)
	for i := 0; i < pool.workers; i++ {
		pool.tasks <- nil
	}
	pool.wg.Wait()
}
