package rxcouch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stream is a live feed of values produced by a background goroutine.
//
// Receive from C until it is closed, then call Err for the reason. Close
// stops the feed at any time; it cancels the in-flight request and returns
// once the goroutine has exited.
type Stream[T any] struct {
	ch     chan T
	done   chan struct{}
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
	err    error
}

// emitFunc hands one value to the consumer. It returns false once the
// stream has been cancelled, in which case the producer must stop.
type emitFunc[T any] func(T) bool

func newStream[T any](ctx context.Context, run func(ctx context.Context, emit emitFunc[T]) error) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		ch:     make(chan T),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	emit := func(v T) bool {
		select {
		case s.ch <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer cancel()
		err := run(ctx, emit)
		if ctx.Err() != nil {
			// Errors caused by our own cancellation are not failures.
			if s.closed.Load() {
				err = nil
			} else {
				err = ctx.Err()
			}
		}
		s.err = err
		close(s.done)
		close(s.ch)
	}()
	return s
}

// C yields values in order. It is closed when the stream ends.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}

// Done is closed when the stream has ended.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the stream. It is nil while the stream
// is running, after Close, and after a one-shot feed completed normally.
func (s *Stream[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancels the stream and waits for its goroutine to exit. It is safe
// to call more than once and from several goroutines.
func (s *Stream[T]) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	<-s.done
	return nil
}

// Collect drains the stream and returns everything it produced. Only use it
// with feeds that end on their own.
func (s *Stream[T]) Collect() ([]T, error) {
	var out []T
	for v := range s.ch {
		out = append(out, v)
	}
	return out, s.Err()
}
