// Package stream implements the streaming adapter of spec §4.7: a bounded
// channel standing behind a lazy, finite, non-restartable sequence. A
// producer (a peer.StreamFunc callback) pushes values as they arrive; a
// consumer ranges over the resulting iter.Seq2 and backpressures the
// producer once the buffer fills.
package stream

import (
	"iter"
	"sync"
)

type item[T any] struct {
	v   T
	err error
}

// Stream is the producer side of one streaming request/response exchange.
type Stream[T any] struct {
	ch        chan item[T]
	closeOnce sync.Once
}

// New creates a Stream with the given buffer depth. A depth of 0 makes Send
// synchronous with the consumer.
func New[T any](buffer int) *Stream[T] {
	return &Stream[T]{ch: make(chan item[T], buffer)}
}

// Send pushes one value. Blocks if the buffer is full and the consumer
// hasn't kept up — this is the adapter's only backpressure mechanism.
func (s *Stream[T]) Send(v T) {
	s.ch <- item[T]{v: v}
}

// Fail pushes a terminal error and closes the stream. No further Send or
// Fail calls are valid afterward.
func (s *Stream[T]) Fail(err error) {
	s.ch <- item[T]{err: err}
	s.Close()
}

// Close ends the sequence with no error. Safe to call more than once.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Seq returns the consumer-facing sequence. It is finite and
// non-restartable: once ranged to completion (or abandoned early), a fresh
// Stream is required for another exchange.
func (s *Stream[T]) Seq() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for it := range s.ch {
			if !yield(it.v, it.err) {
				return
			}
			if it.err != nil {
				return
			}
		}
	}
}
