package node

import (
	"github.com/razenet/razed/util/panics"
)

// ioExecutor is the shared I/O executor the concurrency model calls for:
// a fixed pool of worker goroutines that every posted alarm callback,
// network dispatch, and observer fan-out runs on, so a slow callback
// never blocks the dedicated alarm/network/processor threads that post
// to it. The fixed-worker-pool-draining-a-channel shape is grounded on
// the teacher's cmd/kaspaminer/mineloop.go worker spawn loop, generalized
// from mining goroutines racing nonces to generic posted closures.
type ioExecutor struct {
	work chan func()
}

func newIOExecutor(workers int) *ioExecutor {
	if workers <= 0 {
		workers = 4
	}
	e := &ioExecutor{work: make(chan func(), 256)}
	for i := 0; i < workers; i++ {
		spawn(e.runWorker)
	}
	return e
}

func (e *ioExecutor) runWorker() {
	for f := range e.work {
		runPosted(f)
	}
}

func runPosted(f func()) {
	defer panics.HandlePanic(log, nil)
	f()
}

// Post implements alarm.Executor.
func (e *ioExecutor) Post(f func()) {
	e.work <- f
}
