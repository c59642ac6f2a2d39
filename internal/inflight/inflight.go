// Package inflight tracks cancellable asynchronous operations for an owner
// such as a pipe or an auth module.
//
// Every operation resolves exactly once: with a success value, with a
// failure, or by cancellation. Callbacks run only for the first two. Once an
// owner's tracker cancels an operation, a late response for it is dropped.
package inflight

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/restpipe/internal/domain"
)

type state int

const (
	statePending state = iota
	stateResolved
	stateCancelled
)

// Operation is the handle for one dispatched request.
type Operation struct {
	id     string
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state state
}

func newOperation(name string, cancel context.CancelFunc) *Operation {
	return &Operation{
		id:     uuid.New().String(),
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the unique handle id.
func (o *Operation) ID() string { return o.id }

// Name returns the operation name, e.g. "read" or "login".
func (o *Operation) Name() string { return o.name }

// Done is closed once the operation has resolved. For successes and failures
// it closes after the callback returns.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Cancelled reports whether the operation ended by cancellation.
func (o *Operation) Cancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == stateCancelled
}

// Wait blocks until the operation resolves or ctx is done.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle moves a pending operation to the given state. Only the first caller
// wins.
func (o *Operation) settle(to state) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != statePending {
		return false
	}
	o.state = to
	return true
}

// Tracker holds the operations currently in flight for one owner.
type Tracker struct {
	mu     sync.Mutex
	ops    map[string]*Operation
	logger *slog.Logger
}

// NewTracker creates an empty tracker. A nil logger means slog.Default().
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		ops:    make(map[string]*Operation),
		logger: logger,
	}
}

// Len returns the number of operations in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// CancelAll cancels every operation currently registered and returns how
// many were cancelled. No callback fires for them afterwards. Calling it with
// nothing in flight is a no-op.
func (t *Tracker) CancelAll() int {
	t.mu.Lock()
	ops := t.ops
	t.ops = make(map[string]*Operation)
	t.mu.Unlock()

	cancelled := 0
	for _, op := range ops {
		if op.settle(stateCancelled) {
			op.cancel()
			close(op.done)
			cancelled++
		}
	}
	if cancelled > 0 {
		t.logger.Debug("operations cancelled", slog.Int("count", cancelled))
	}
	return cancelled
}

func (t *Tracker) add(op *Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops[op.id] = op
}

func (t *Tracker) remove(op *Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ops, op.id)
}

// resolve delivers the outcome unless the operation was cancelled first.
func (t *Tracker) resolve(op *Operation, deliver func()) {
	if !op.settle(stateResolved) {
		return
	}
	t.remove(op)
	deliver()
	close(op.done)
}

// abandon marks an operation cancelled because its parent context ended.
func (t *Tracker) abandon(op *Operation) {
	if !op.settle(stateCancelled) {
		return
	}
	t.remove(op)
	close(op.done)
}

// Spec describes an operation to start.
type Spec struct {
	// Name identifies the operation in logs and spans.
	Name string

	// Timeout fails the operation with a timeout error if no result
	// arrives in time. Zero disables it.
	Timeout time.Duration
}

// Go registers an operation on t and runs fn on its own goroutine. The
// operation is registered before fn starts and removed when it resolves.
//
// fn receives a context that is cancelled by CancelAll, by the parent ctx
// ending, or by the timeout. Cancellation, including fn returning an error
// wrapping domain.ErrCancelled, produces no callback. A timeout fails the
// operation even if fn ignores its context.
func Go[T any](ctx context.Context, t *Tracker, spec Spec, fn func(context.Context) (T, error), onSuccess func(T), onFailure func(error)) *Operation {
	opCtx, cancel := context.WithCancel(ctx)
	op := newOperation(spec.Name, cancel)
	t.add(op)

	runCtx := opCtx
	var stopRun context.CancelFunc = func() {}
	if spec.Timeout > 0 {
		runCtx, stopRun = context.WithTimeout(opCtx, spec.Timeout)
	}

	type result struct {
		value T
		err   error
	}
	results := make(chan result, 1)

	go func() {
		v, err := fn(runCtx)
		results <- result{value: v, err: err}
	}()

	go func() {
		defer cancel()
		defer stopRun()

		var timeout <-chan time.Time
		if spec.Timeout > 0 {
			timer := time.NewTimer(spec.Timeout)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case r := <-results:
			switch {
			case r.err == nil:
				t.resolve(op, func() {
					if onSuccess != nil {
						onSuccess(r.value)
					}
				})
			case errors.Is(r.err, domain.ErrCancelled),
				errors.Is(r.err, context.Canceled) && opCtx.Err() != nil:
				t.abandon(op)
			case errors.Is(r.err, context.DeadlineExceeded) && domain.KindOf(r.err) == "":
				err := domain.ErrTimedOut("no response within the configured interval").
					WithOp(spec.Name).
					WithCause(r.err)
				t.resolve(op, func() {
					if onFailure != nil {
						onFailure(err)
					}
				})
			default:
				t.resolve(op, func() {
					if onFailure != nil {
						onFailure(r.err)
					}
				})
			}
		case <-timeout:
			t.logger.Debug("operation timed out",
				slog.String("operation", spec.Name),
				slog.Duration("timeout", spec.Timeout),
			)
			err := domain.ErrTimedOut("no response within the configured interval").WithOp(spec.Name)
			t.resolve(op, func() {
				if onFailure != nil {
					onFailure(err)
				}
			})
		case <-opCtx.Done():
			t.abandon(op)
		}
	}()

	return op
}

// Fail returns an already-resolved operation whose failure callback has run
// synchronously. It is used for local precondition failures that never reach
// the network.
func Fail(name string, err error, onFailure func(error)) *Operation {
	op := newOperation(name, func() {})
	op.state = stateResolved
	if onFailure != nil {
		onFailure(err)
	}
	close(op.done)
	return op
}

// Succeed returns an already-resolved operation whose success callback has
// run synchronously.
func Succeed[T any](name string, value T, onSuccess func(T)) *Operation {
	op := newOperation(name, func() {})
	op.state = stateResolved
	if onSuccess != nil {
		onSuccess(value)
	}
	close(op.done)
	return op
}
