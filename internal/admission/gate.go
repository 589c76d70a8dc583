package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"ocbridge/internal/bridgeerr"
)

// Decision records how the gate treated a caller.
type Decision int

const (
	// DecisionAdmitted means this caller drives the UI transaction.
	DecisionAdmitted Decision = iota
	// DecisionJoined means an identical request is already in flight and this
	// caller shares its outcome.
	DecisionJoined
	// DecisionRejected means a different request is in flight.
	DecisionRejected
)

// entry is the shared promise of one in-flight transaction. At most one
// exists globally.
type entry struct {
	fingerprint string
	done        chan struct{}
	value       any
	err         error
}

// Gate enforces single-flight admission over the job queue. The fingerprint
// fully determines coalescing; it excludes the per-request marker so exact
// client retries with fresh request ids still join.
type Gate struct {
	mu    sync.Mutex
	cur   *entry
	queue *Queue
}

// NewGate wraps the given queue.
func NewGate(queue *Queue) *Gate {
	return &Gate{queue: queue}
}

// Do admits, joins, or rejects the caller. An admitted caller's task is
// executed through the queue's AddIfIdle path; a busy queue surfaces as
// ErrBusy. Joined callers wait on the in-flight promise with their own
// timeout; the promise settles when the task does, not when the first
// caller returns.
func (g *Gate) Do(ctx context.Context, fingerprint, name string, fn func(ctx context.Context) (any, error)) (any, error, Decision) {
	g.mu.Lock()
	if g.cur != nil {
		cur := g.cur
		g.mu.Unlock()
		if cur.fingerprint == fingerprint {
			value, err := g.join(ctx, cur, name)
			return value, err, DecisionJoined
		}
		return nil, bridgeerr.New(bridgeerr.CodePreviousResponsePending,
			"a different request is already in flight"), DecisionRejected
	}

	e := &entry{fingerprint: fingerprint, done: make(chan struct{})}
	g.cur = e
	g.mu.Unlock()

	value, err := g.queue.AddIfIdle(ctx, name, func(ctx context.Context) (any, error) {
		v, taskErr := fn(ctx)
		e.value, e.err = v, taskErr
		close(e.done)
		g.clear(e)
		return v, taskErr
	})
	if errors.Is(err, ErrBusy) {
		// Never enqueued; settle the promise so callers that joined in the
		// meantime get the rejection instead of waiting out their timeout.
		g.settleBusy(e)
		return nil, ErrBusy, DecisionAdmitted
	}
	return value, err, DecisionAdmitted
}

// settleBusy resolves a promise whose task was never enqueued.
func (g *Gate) settleBusy(e *entry) {
	e.err = ErrBusy
	close(e.done)
	g.clear(e)
}

// join waits for an in-flight identical request to settle.
func (g *Gate) join(ctx context.Context, e *entry, name string) (any, error) {
	timer := time.NewTimer(g.queue.defaultTimeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return e.value, e.err
	case <-timer.C:
		return nil, bridgeerr.Newf(bridgeerr.CodeTimeout, "joined request %q exceeded %s", name, g.queue.defaultTimeout)
	case <-ctx.Done():
		return nil, bridgeerr.Newf(bridgeerr.CodeTimeout, "caller gone while joined to %q", name).
			WithCause(ctx.Err())
	}
}

func (g *Gate) clear(e *entry) {
	g.mu.Lock()
	if g.cur == e {
		g.cur = nil
	}
	g.mu.Unlock()
}
