// Package buffers holds the event buffers behind action channels.
package buffers

import (
	"errors"
	"sort"
)

var ErrOverflow = errors.New("channel's buffer overflow")

// Buffer queues values for a channel until a taker arrives.
// Buffers are driven by the scheduler's run loop and are not safe for concurrent use.
type Buffer[T any] interface {
	// Put stores v. An error means v was rejected.
	Put(v T) error
	// Take removes the next value.
	Take() (T, bool)
	Len() int
	// Flush removes and returns every stored value in take order.
	Flush() []T
}

type onOverflow int

const (
	overflowThrow onOverflow = iota
	overflowDrop
	overflowSlide
	overflowExpand
)

// ring is a FIFO ring buffer with a configurable overflow policy.
type ring[T any] struct {
	data     []T
	head     int
	length   int
	overflow onOverflow
}

func newRing[T any](limit int, overflow onOverflow) *ring[T] {
	if limit <= 0 {
		limit = 1
	}
	return &ring[T]{
		data:     make([]T, limit),
		overflow: overflow,
	}
}

func (r *ring[T]) Put(v T) error {
	if r.length < len(r.data) {
		r.data[(r.head+r.length)%len(r.data)] = v
		r.length++
		return nil
	}
	switch r.overflow {
	case overflowThrow:
		return ErrOverflow
	case overflowDrop:
		return nil
	case overflowSlide:
		r.data[r.head] = v
		r.head = (r.head + 1) % len(r.data)
		return nil
	case overflowExpand:
		grown := make([]T, 2*len(r.data))
		n := copy(grown, r.data[r.head:])
		copy(grown[n:], r.data[:r.head])
		r.data = grown
		r.head = 0
		r.data[r.length] = v
		r.length++
		return nil
	default:
		panic("exhaustive match")
	}
}

func (r *ring[T]) Take() (T, bool) {
	var zero T
	if r.length == 0 {
		return zero, false
	}
	v := r.data[r.head]
	r.data[r.head] = zero
	r.head = (r.head + 1) % len(r.data)
	r.length--
	return v, true
}

func (r *ring[T]) Len() int {
	return r.length
}

func (r *ring[T]) Flush() []T {
	out := make([]T, 0, r.length)
	for {
		v, ok := r.Take()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Fixed stores up to limit values and rejects the rest with ErrOverflow.
func Fixed[T any](limit int) Buffer[T] {
	return newRing[T](limit, overflowThrow)
}

// Dropping stores up to limit values and silently drops newcomers.
func Dropping[T any](limit int) Buffer[T] {
	return newRing[T](limit, overflowDrop)
}

// Sliding stores up to limit values, evicting the oldest one on overflow.
func Sliding[T any](limit int) Buffer[T] {
	return newRing[T](limit, overflowSlide)
}

// Expanding starts with room for initial values and grows on demand.
func Expanding[T any](initial int) Buffer[T] {
	return newRing[T](initial, overflowExpand)
}

type none[T any] struct{}

// None keeps nothing: values put while no taker waits are lost.
func None[T any]() Buffer[T] { return none[T]{} }

func (none[T]) Put(T) error { return nil }
func (none[T]) Take() (T, bool) {
	var zero T
	return zero, false
}
func (none[T]) Len() int   { return 0 }
func (none[T]) Flush() []T { return nil }

// CompareFunc orders values for an Ordered buffer.
type CompareFunc[T any] func(a, b T) int

// ordered keeps values sorted by compare; Take yields the smallest.
type ordered[T any] struct {
	data     []T
	capacity int
	compare  CompareFunc[T]
}

// Ordered stores up to capacity values and hands them out smallest first.
// Values comparing equal keep their arrival order.
func Ordered[T any](capacity int, cmp CompareFunc[T]) Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ordered[T]{
		data:     make([]T, 0, capacity),
		capacity: capacity,
		compare:  cmp,
	}
}

func (b *ordered[T]) Put(val T) error {
	if len(b.data) >= b.capacity {
		return ErrOverflow
	}

	idx := sort.Search(len(b.data), func(i int) bool {
		return b.compare(val, b.data[i]) < 0
	})

	b.data = append(b.data, val)
	copy(b.data[idx+1:], b.data[idx:])
	b.data[idx] = val
	return nil
}

func (b *ordered[T]) Take() (T, bool) {
	var zero T
	if len(b.data) == 0 {
		return zero, false
	}
	v := b.data[0]
	b.data[0] = zero
	b.data = b.data[1:]
	return v, true
}

func (b *ordered[T]) Len() int {
	return len(b.data)
}

func (b *ordered[T]) Flush() []T {
	out := b.data
	b.data = make([]T, 0, b.capacity)
	return out
}
