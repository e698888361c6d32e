// Package fanout starts independent asynchronous operations and reports once
// all of them have completed.
package fanout

import (
	"sync"
	"sync/atomic"
)

// Operation starts some work and calls done when it finishes, successfully or
// not. done may be called from any goroutine, including synchronously.
type Operation func(done func())

type Coordinator struct {
	deliver func(func())
}

// New returns a Coordinator that hands every group's onAllDone to deliver.
// A nil deliver runs it on whichever goroutine finished last.
func New(deliver func(func())) *Coordinator {
	if deliver == nil {
		deliver = func(fn func()) { fn() }
	}
	return &Coordinator{deliver: deliver}
}

// RunAll starts every operation and delivers onAllDone exactly once after all
// of them called done. Each member counts once no matter how often it calls
// done. An empty batch runs onAllDone inline.
func (c *Coordinator) RunAll(ops []Operation, onAllDone func()) {
	if len(ops) == 0 {
		onAllDone()
		return
	}

	var remaining atomic.Int64
	remaining.Store(int64(len(ops)))
	var fired sync.Once

	for _, op := range ops {
		var once sync.Once
		op(func() {
			once.Do(func() {
				if remaining.Add(-1) == 0 {
					fired.Do(func() { c.deliver(onAllDone) })
				}
			})
		})
	}
}
