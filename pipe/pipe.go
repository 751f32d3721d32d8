// Package pipe implements a bounded blocking queue of fixed-size elements.
//
// It is the hand-off primitive used wherever one goroutine needs to pass
// work to another without polling: the transceiver's transmit-request queue
// and its receive-dispatcher's slot queue, and cmd/aloftctl's queue of
// newly-opened receive streams.
//
// Unlike the teacher's data-link queue (a linked list woken by a single
// channel send, one queue per consumer), pipe.Pipe is a generic MPMC queue
// with a real bound and timed pop, grounded on the same
// wake-on-non-empty idea but expressed with a buffered channel instead of
// a hand-rolled linked list plus condition-variable emulation.
package pipe

import (
	"errors"
	"time"
)

// ErrClosed is returned by Push/Pop operations once Close has been called.
var ErrClosed = errors.New("pipe: closed")

// Pipe is a bounded FIFO queue of elements of type T.
type Pipe[T any] struct {
	ch     chan T
	closed chan struct{}
}

// New creates a pipe with the given bound. A bound of 0 makes every Push
// block until a corresponding Pop is ready (unbuffered handoff).
func New[T any](capacity int) *Pipe[T] {
	return &Pipe[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Push enqueues v, blocking if the pipe is full. It returns ErrClosed if
// the pipe is closed before v can be enqueued.
func (p *Pipe[T]) Push(v T) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	select {
	case p.ch <- v:
		return nil
	case <-p.closed:
		return ErrClosed
	}
}

// TryPush enqueues v without blocking. It reports false if the pipe is
// full or closed.
func (p *Pipe[T]) TryPush(v T) bool {
	select {
	case <-p.closed:
		return false
	default:
	}

	select {
	case p.ch <- v:
		return true
	default:
		return false
	}
}

// Pop blocks until an element is available or the pipe is closed.
func (p *Pipe[T]) Pop() (v T, ok bool) {
	select {
	case v, ok = <-p.ch:
		return v, ok
	case <-p.closed:
		// Drain anything left so a close doesn't strand buffered work,
		// but do not block forever if the channel is already empty.
		select {
		case v, ok = <-p.ch:
			return v, ok
		default:
			return v, false
		}
	}
}

// PopTimed blocks until an element is available, the timeout elapses, or
// the pipe is closed. ok is false on timeout or close.
func (p *Pipe[T]) PopTimed(timeout time.Duration) (v T, ok bool) {
	var timer = time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v, ok = <-p.ch:
		return v, ok
	case <-p.closed:
		select {
		case v, ok = <-p.ch:
			return v, ok
		default:
			return v, false
		}
	case <-timer.C:
		return v, false
	}
}

// Close causes all pending and future Pop/PopTimed calls to return
// (zero-value, false) once buffered elements are drained, and all pending
// or future Push calls to return ErrClosed. This is the graceful shutdown
// signal for worker goroutines built on a Pipe. Close is idempotent.
func (p *Pipe[T]) Close() {
	select {
	case <-p.closed:
		// already closed
	default:
		close(p.closed)
	}
}
