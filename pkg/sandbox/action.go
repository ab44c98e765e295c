package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/relaydb/relay/pkg/apperr"
)

// Task is one async operation an action schedules: an HTTP fetch, a
// sub-query/mutation/action invocation, or a scheduled job enqueue. Run
// is executed on its own goroutine; the action environment only ever
// sees its result once Run returns.
type Task struct {
	Label string
	Run   func(ctx context.Context) (interface{}, error)
}

// TaskResult pairs a task's outcome with its originating Task, so the
// action environment can resume the guest coroutine that issued it.
type TaskResult struct {
	Task   Task
	Value  interface{}
	Err    error
}

// Action runs the longer-lived action environment: unlike Isolate it
// may schedule a bounded number of concurrent tasks, ordered by request
// order, with a total timeout that supersedes every per-task timeout
// and cancels outstanding tasks when it trips.
type Action struct {
	concurrency chan struct{} // semaphore: one slot per allowed in-flight task
	results     chan TaskResult
	totalTimer  *time.Timer

	mu      sync.Mutex
	pending int
	done    bool
}

// NewAction returns an Action allowing at most maxConcurrency tasks
// in flight at once, with a total wall-clock budget.
func NewAction(maxConcurrency int, total time.Duration) *Action {
	return &Action{
		concurrency: make(chan struct{}, maxConcurrency),
		results:     make(chan TaskResult, maxConcurrency),
		totalTimer:  time.NewTimer(total),
	}
}

// Schedule enqueues a task, blocking only long enough to acquire a
// concurrency slot (backpressure, not a queueing error: the caller is
// the guest coroutine suspending on an await, not a client waiting on a
// response). Tasks run in the order Schedule is called, matching "the
// host orders them by request order".
func (a *Action) Schedule(ctx context.Context, t Task) {
	select {
	case a.concurrency <- struct{}{}:
	case <-ctx.Done():
		a.results <- TaskResult{Task: t, Err: ctx.Err()}
		return
	}

	a.mu.Lock()
	a.pending++
	a.mu.Unlock()

	go func() {
		defer func() { <-a.concurrency }()
		value, err := t.Run(ctx)
		a.mu.Lock()
		defer a.mu.Unlock()
		a.pending--
		if a.done {
			return
		}
		a.results <- TaskResult{Task: t, Value: value, Err: err}
	}()
}

// Await blocks until the next task completes, the total timeout trips,
// or ctx is cancelled - whichever comes first. Once the total timeout
// trips, every subsequent Await call returns the distinguished timeout
// error immediately; no more task results are delivered, matching "a
// total timeout supersedes per-task timeouts and cancels outstanding
// tasks on trip" (outstanding goroutines still run to completion, since
// Go has no preemptive task cancellation without the task's own ctx
// check, but their results are discarded rather than delivered).
func (a *Action) Await(ctx context.Context) (TaskResult, error) {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done {
		return TaskResult{}, apperr.New(apperr.Timeout, "sandbox: action total timeout exceeded")
	}
	select {
	case r := <-a.results:
		return r, nil
	case <-a.totalTimer.C:
		a.mu.Lock()
		a.done = true
		a.mu.Unlock()
		return TaskResult{}, apperr.New(apperr.Timeout, "sandbox: action total timeout exceeded")
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	}
}

// Pending reports how many scheduled tasks have not yet completed.
func (a *Action) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Stop releases the total-timeout timer; call once the action has
// finished or been abandoned.
func (a *Action) Stop() {
	a.totalTimer.Stop()
}
