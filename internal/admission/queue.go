// Package admission decides which work may reach the UI. A bounded FIFO
// queue serializes all UI jobs through one worker; the single-flight gate in
// front of it coalesces duplicate completion requests and fast-rejects
// mismatched concurrent ones.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ocbridge/internal/bridgeerr"
)

// queueFullRetryAfterSec is the retry hint attached to queue_full refusals.
const queueFullRetryAfterSec = 10

// ErrBusy is returned by AddIfIdle when the queue already holds or runs a
// job. Completion handlers translate it to previous_response_pending.
var ErrBusy = errors.New("queue busy")

// LateOutcomeObserver is notified when a job settles after its caller has
// already timed out. This is an observability contract, never a correctness
// mechanism.
type LateOutcomeObserver func(name string, late time.Duration, err error)

type outcome struct {
	value any
	err   error
}

type job struct {
	name        string
	fn          func(ctx context.Context) (any, error)
	done        chan outcome // buffered, settled exactly once
	abandonedAt abandonMark
}

// abandonMark wraps a mutex-guarded abandonment timestamp; callers mark it when
// they stop waiting so the worker can report late settlement.
type abandonMark struct {
	mu sync.Mutex
	at time.Time
}

func (a *abandonMark) mark() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.at.IsZero() {
		a.at = time.Now()
	}
}

func (a *abandonMark) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.at
}

// Queue is the bounded FIFO UI job queue with a single worker.
type Queue struct {
	mu             sync.Mutex
	jobs           chan *job
	running        bool
	defaultTimeout time.Duration
	onLateOutcome  LateOutcomeObserver
	workerCtx      context.Context
	stop           context.CancelFunc
	wg             sync.WaitGroup
}

// NewQueue creates the queue and starts its worker. maxSize defaults to 20.
func NewQueue(maxSize int, defaultTimeout time.Duration, onLate LateOutcomeObserver) *Queue {
	if maxSize <= 0 {
		maxSize = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:           make(chan *job, maxSize),
		defaultTimeout: defaultTimeout,
		onLateOutcome:  onLate,
		workerCtx:      ctx,
		stop:           cancel,
	}
	q.wg.Add(1)
	go q.work()
	return q
}

// Close stops the worker after the current job finishes.
func (q *Queue) Close() {
	q.stop()
	q.wg.Wait()
}

// Depth reports queued plus running jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := len(q.jobs)
	if q.running {
		depth++
	}
	return depth
}

// Add enqueues a job and waits for its outcome. A full queue fails with
// queue_full and a retry hint; a wall-clock timeout rejects the caller while
// the job keeps running.
func (q *Queue) Add(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	j := &job{name: name, fn: fn, done: make(chan outcome, 1)}
	select {
	case q.jobs <- j:
	default:
		return nil, bridgeerr.Newf(bridgeerr.CodeQueueFull, "job queue is full").
			WithRetryAfter(queueFullRetryAfterSec)
	}
	return q.wait(ctx, j)
}

// AddIfIdle enqueues only when the queue is empty and no job is running;
// otherwise it returns ErrBusy without enqueuing.
func (q *Queue) AddIfIdle(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	j := &job{name: name, fn: fn, done: make(chan outcome, 1)}

	q.mu.Lock()
	if q.running || len(q.jobs) > 0 {
		q.mu.Unlock()
		return nil, ErrBusy
	}
	q.jobs <- j
	q.mu.Unlock()

	return q.wait(ctx, j)
}

// wait blocks the caller until the job settles, the per-job timeout fires,
// or the caller context ends. The job itself is never interrupted: the UI
// cannot be safely stopped mid-automation.
func (q *Queue) wait(ctx context.Context, j *job) (any, error) {
	timer := time.NewTimer(q.defaultTimeout)
	defer timer.Stop()

	select {
	case out := <-j.done:
		return out.value, out.err
	case <-timer.C:
		j.abandonedAt.mark()
		return nil, bridgeerr.Newf(bridgeerr.CodeTimeout, "job %q exceeded %s", j.name, q.defaultTimeout)
	case <-ctx.Done():
		j.abandonedAt.mark()
		return nil, bridgeerr.Newf(bridgeerr.CodeTimeout, "caller gone while waiting for job %q", j.name).
			WithCause(ctx.Err())
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.workerCtx.Done():
			return
		case j := <-q.jobs:
			q.mu.Lock()
			q.running = true
			q.mu.Unlock()

			value, err := j.fn(q.workerCtx)

			q.mu.Lock()
			q.running = false
			q.mu.Unlock()

			j.done <- outcome{value: value, err: err}
			if abandoned := j.abandonedAt.get(); !abandoned.IsZero() {
				late := time.Since(abandoned)
				slog.Warn("job settled after caller timeout",
					"job", j.name, "late", late, "error", err)
				if q.onLateOutcome != nil {
					q.onLateOutcome(j.name, late, err)
				}
			}
		}
	}
}
