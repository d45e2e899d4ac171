// Package alarm implements the single priority-queue timer scheduler that
// drives every periodic task in razed (announcement rounds, rep crawling,
// gap-cache purges, peer purges). It is modeled on the teacher's habit of
// running exactly one dedicated goroutine per logical timer-ish subsystem
// (see util/panics.GoroutineWrapperFunc) plus a container/heap priority
// queue, generalized from the single-shot time.AfterFunc wrapper the
// teacher uses everywhere it needs a one-off timer.
package alarm

import (
	"container/heap"
	"sync"
	"time"

	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/util/panics"
)

var log, _ = logger.Get(logger.SubsystemTags.ALRM)
var spawn = panics.GoroutineWrapperFunc(log)

// Executor is the shared I/O executor that fired alarms are posted to,
// rather than being run directly on the alarm's own dedicated thread, so a
// slow callback can never make the alarm miss its next deadline.
type Executor interface {
	Post(func())
}

// inlineExecutor runs posted work on its own goroutine. It is the default
// Executor, standing in for "the shared I/O executor" of the concurrency
// model when the caller doesn't wire a bounded pool.
type inlineExecutor struct{}

func (inlineExecutor) Post(f func()) { spawn(f) }

type operation struct {
	when time.Time
	fn   func()
	// index is maintained by container/heap.
	index int
}

type opHeap []*operation

func (h opHeap) Len() int            { return len(h) }
func (h opHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h opHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *opHeap) Push(x interface{}) {
	op := x.(*operation)
	op.index = len(*h)
	*h = append(*h, op)
}
func (h *opHeap) Pop() interface{} {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	op.index = -1
	*h = old[:n-1]
	return op
}

// Alarm is a single mutex/condition-variable-protected priority queue of
// scheduled operations, served by one dedicated goroutine.
type Alarm struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    opHeap
	executor Executor
	stopped  bool
}

// New creates an Alarm that posts fired callbacks to executor. A nil
// executor uses a plain spawned goroutine per callback.
func New(executor Executor) *Alarm {
	if executor == nil {
		executor = inlineExecutor{}
	}
	a := &Alarm{executor: executor}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Run starts the alarm's dedicated goroutine. It returns immediately; call
// Stop to shut the goroutine down.
func (a *Alarm) Run() {
	spawn(a.runLoop)
}

// Add schedules fn to run at (or soon after) when. A nil fn is reserved as
// the internal shutdown sentinel and will panic if passed by a caller.
func (a *Alarm) Add(when time.Time, fn func()) {
	if fn == nil {
		panic("alarm: fn must not be nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	heap.Push(&a.queue, &operation{when: when, fn: fn})
	a.cond.Signal()
}

// AddAfter is a convenience wrapper for Add(time.Now().Add(d), fn).
func (a *Alarm) AddAfter(d time.Duration, fn func()) {
	a.Add(time.Now().Add(d), fn)
}

// Stop posts the shutdown sentinel and wakes the run loop so it exits.
func (a *Alarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	heap.Push(&a.queue, &operation{when: time.Now(), fn: nil})
	a.cond.Signal()
}

func (a *Alarm) runLoop() {
	for {
		a.mu.Lock()
		for len(a.queue) == 0 {
			a.cond.Wait()
		}
		next := a.queue[0]

		if next.fn == nil && a.stopped {
			a.mu.Unlock()
			return
		}

		now := time.Now()
		if next.when.After(now) {
			wait := next.when.Sub(now)
			a.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			}
			continue
		}

		heap.Pop(&a.queue)
		a.mu.Unlock()

		a.executor.Post(next.fn)
	}
}
