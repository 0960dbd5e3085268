// Package async provides a single-producer/single-consumer asynchronous
// generator, the Go realization of Ichor's AsyncGenerator coroutine.
//
// Go has no stackless coroutines, so the producer runs on its own goroutine
// instead of a compiler-generated coroutine frame. Where the original uses a
// compare-and-swap state machine to arbitrate which of the producer or
// consumer suspends first (because both share a coroutine handle that must
// never be resumed twice), an unbuffered channel handoff gives the same
// single-value-in-flight guarantee for free: a send only completes once the
// other side is ready to receive, so there is no race left to resolve with
// CAS. The state machine is kept anyway, as an atomic field mirrored
// alongside the channel ops, because callers rely on State and HasSuspended
// for introspection the same way the original exposes them on its iterator.
package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// State is the coroutine-promise state, named after AsyncGeneratorPromiseBase::state.
type State uint32

const (
	// StateValueNotReadyConsumerActive: consumer is running, no value published yet.
	StateValueNotReadyConsumerActive State = iota
	// StateValueNotReadyConsumerSuspended: consumer is blocked waiting for a value.
	StateValueNotReadyConsumerSuspended
	// StateValueReadyProducerActive: a value has been published, producer still running.
	StateValueReadyProducerActive
	// StateValueReadyProducerSuspended: a value is published and the producer is blocked.
	StateValueReadyProducerSuspended
	// StateCancelled: the generator has been cancelled and the producer is being torn down.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateValueNotReadyConsumerActive:
		return "value_not_ready_consumer_active"
	case StateValueNotReadyConsumerSuspended:
		return "value_not_ready_consumer_suspended"
	case StateValueReadyProducerActive:
		return "value_ready_producer_active"
	case StateValueReadyProducerSuspended:
		return "value_ready_producer_suspended"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrCancelled is returned from Next, and from a producer's Yield call, once
// the generator has been cancelled.
var ErrCancelled = errors.New("async: generator cancelled")

// Yield hands one value to the consumer and blocks until the consumer asks
// for the next one, the generator's context is cancelled, or the generator
// itself is cancelled via Generator.Cancel.
type Yield[T any] func(ctx context.Context, value T) error

// Producer is run on its own goroutine in place of a stackless coroutine. It
// must call yield once per produced value and return when exhausted. A
// non-nil return value is surfaced from Next as an error.
type Producer[T any] func(ctx context.Context, yield Yield[T]) error

// Generator is a single-producer/single-consumer asynchronous sequence,
// grounded on Ichor's AsyncGenerator<T>.
type Generator[T any] struct {
	state atomic.Uint32

	// hasSuspended latches true only when yield's send to toConsumer
	// actually has to block because the consumer wasn't parked in Next yet
	// (a direct send to an already-waiting receiver never sets it).
	hasSuspended atomic.Bool
	finished     atomic.Bool
	started      atomic.Bool

	toConsumer chan T
	toProducer chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	err atomic.Pointer[error]
}

// New starts produce on its own goroutine and returns a Generator that pulls
// its yielded values one at a time via Next.
func New[T any](produce Producer[T]) *Generator[T] {
	g := &Generator[T]{
		toConsumer: make(chan T),
		toProducer: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	g.state.Store(uint32(StateValueNotReadyConsumerActive))
	go g.run(produce)
	return g
}

func (g *Generator[T]) run(produce Producer[T]) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-g.closed
		cancel()
	}()
	defer cancel()

	err := produce(ctx, g.yield)
	if err != nil {
		g.err.Store(&err)
	}
	g.finished.Store(true)
	g.setState(StateValueReadyProducerActive)
	g.closeDone()
}

func (g *Generator[T]) yield(ctx context.Context, value T) error {
	// Try the handoff without blocking first: if the consumer is already
	// waiting on toConsumer, Go's direct-send optimization completes this
	// without parking either side, so no suspension actually happened and
	// hasSuspended stays untouched.
	select {
	case g.toConsumer <- value:
	default:
		g.setState(StateValueReadyProducerSuspended)
		g.hasSuspended.Store(true)
		select {
		case g.toConsumer <- value:
		case <-g.closed:
			g.setState(StateCancelled)
			return ErrCancelled
		case <-ctx.Done():
			g.setState(StateCancelled)
			return ctx.Err()
		}
	}

	g.setState(StateValueNotReadyConsumerActive)
	select {
	case _, ok := <-g.toProducer:
		if !ok {
			g.setState(StateCancelled)
			return ErrCancelled
		}
		return nil
	case <-g.closed:
		g.setState(StateCancelled)
		return ErrCancelled
	case <-ctx.Done():
		g.setState(StateCancelled)
		return ctx.Err()
	}
}

// Next advances the generator and returns its next value. The second return
// is false once the producer has returned or the generator was cancelled; in
// that case the error, if any, is also returned.
func (g *Generator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T

	// Once closed, a producer that has not finished was cancelled.
	closedErr := func() error {
		if !g.finished.Load() {
			return ErrCancelled
		}
		return g.Err()
	}

	if g.started.Swap(true) {
		g.setState(StateValueNotReadyConsumerSuspended)
		select {
		case g.toProducer <- struct{}{}:
		case <-g.closed:
			return zero, false, closedErr()
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}

	select {
	case v, ok := <-g.toConsumer:
		if !ok {
			return zero, false, g.Err()
		}
		return v, true, nil
	case <-g.closed:
		return zero, false, closedErr()
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// Cancel requests cancellation. It unblocks the producer wherever it is
// currently suspended, and is idempotent. It does not wait for the producer
// goroutine to exit, and neither does Next: once the generator is cancelled,
// Next returns false right away even if the producer is still running.
func (g *Generator[T]) Cancel() {
	g.closeDone()
}

func (g *Generator[T]) closeDone() {
	g.closeOnce.Do(func() { close(g.closed) })
}

// Finished reports whether the producer has returned.
func (g *Generator[T]) Finished() bool { return g.finished.Load() }

// HasSuspended reports whether a yield has ever actually blocked waiting for
// the consumer, rather than completing immediately because the consumer was
// already parked in Next. A producer that runs to completion without ever
// yielding, or whose every yield found the consumer waiting already, leaves
// this false; callers use it to decide whether a generator is worth
// retaining across dispatch turns instead of draining it inline.
func (g *Generator[T]) HasSuspended() bool { return g.hasSuspended.Load() }

// State returns the current coroutine-promise state.
func (g *Generator[T]) State() State { return State(g.state.Load()) }

// Err returns the error the producer returned, if any.
func (g *Generator[T]) Err() error {
	if p := g.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (g *Generator[T]) setState(s State) { g.state.Store(uint32(s)) }
