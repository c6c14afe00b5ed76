package exchange

import (
	"context"
	"time"
)

// Outcome is the tagged result of an operation raced against a deadline: either the
// operation completed with Value, or the deadline passed first and TimedOut is set.
type Outcome[T any] struct {
	Value    T
	TimedOut bool
}

// Completed wraps a value produced before the deadline.
func Completed[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// TimedOut is the outcome of an operation that did not finish in time.
func TimedOut[T any]() Outcome[T] {
	return Outcome[T]{TimedOut: true}
}

// WithDeadline runs fn and waits at most d for it to finish.
//
// If fn returns first, its value or error is returned. If d elapses first, the
// outcome is TimedOut with a nil error. If ctx is done first, ctx.Err() is returned.
// In every case the context passed to fn is cancelled when WithDeadline returns, and
// a result delivered after that is dropped, so a late response can never be applied.
// A non-positive d disables the deadline.
func WithDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (Outcome[T], error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	// Buffered so the worker never blocks on send after we stop listening.
	done := make(chan result, 1)

	go func() {
		v, err := fn(opCtx)
		done <- result{value: v, err: err}
	}()

	var expired <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			return Outcome[T]{}, r.err
		}
		return Completed(r.value), nil
	case <-expired:
		return TimedOut[T](), nil
	case <-ctx.Done():
		return Outcome[T]{}, ctx.Err()
	}
}
