// Package ringbuf provides a fixed-capacity circular buffer that overwrites
// its oldest element on overflow.
package ringbuf

import "errors"

// ErrInvalidCapacity is returned when a buffer is created with a non-positive capacity.
var ErrInvalidCapacity = errors.New("ring buffer capacity must be positive")

// Buffer holds the most recent Cap() items written with Put.
//
// Slots fill in index order until the write cursor wraps for the first time,
// so slot i is occupied when the buffer has wrapped or i is below the cursor.
//
// A Buffer is not safe for concurrent use; owners guard it with their own lock.
type Buffer[T any] struct {
	data  []T
	w     int    // next slot to write
	wraps uint64 // number of times w returned to 0
}

// New creates an empty buffer holding at most n items.
func New[T any](n int) (*Buffer[T], error) {
	if n <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Buffer[T]{data: make([]T, n)}, nil
}

// MustNew is like New but panics on an invalid capacity.
func MustNew[T any](n int) *Buffer[T] {
	b, err := New[T](n)
	if err != nil {
		panic(err)
	}
	return b
}

// Put writes item at the cursor and advances it, overwriting the oldest
// item once the buffer has wrapped.
func (b *Buffer[T]) Put(item T) {
	b.data[b.w] = item
	b.w++
	if b.w == len(b.data) {
		b.w = 0
		b.wraps++
	}
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.data)
}

// Len returns the number of occupied slots.
func (b *Buffer[T]) Len() int {
	if b.wraps > 0 {
		return len(b.data)
	}
	return b.w
}

// IsFull reports whether every slot has been written at least once.
func (b *Buffer[T]) IsFull() bool {
	return b.wraps > 0
}

// Wraps returns how many times the write cursor has wrapped.
func (b *Buffer[T]) Wraps() uint64 {
	return b.wraps
}

// Unordered returns the occupied slots in storage order.
func (b *Buffer[T]) Unordered() []T {
	return b.AppendUnordered(make([]T, 0, b.Len()))
}

// AppendUnordered appends the occupied slots in storage order to dst.
// Use it when only an aggregate over the window is needed.
func (b *Buffer[T]) AppendUnordered(dst []T) []T {
	return append(dst, b.data[:b.Len()]...)
}

// Ordered returns all occupied slots, oldest first.
func (b *Buffer[T]) Ordered() []T {
	return b.OrderedLast(len(b.data))
}

// OrderedLast returns the k most recently written items, oldest first.
// k is clamped to Cap(); before the buffer is full only occupied slots are returned.
func (b *Buffer[T]) OrderedLast(k int) []T {
	return b.AppendOrderedLast(make([]T, 0, min(max(k, 0), b.Len())), k)
}

// AppendOrderedLast appends the k most recently written items, oldest first, to dst.
func (b *Buffer[T]) AppendOrderedLast(dst []T, k int) []T {
	n := len(b.data)
	k = min(k, n)
	if k <= 0 {
		return dst
	}

	start := (b.w - k + n) % n
	if b.wraps == 0 {
		// Unwritten slots only exist at and after the cursor.
		if start >= b.w {
			start = 0
		}
		return append(dst, b.data[start:b.w]...)
	}

	if start+k <= n {
		return append(dst, b.data[start:start+k]...)
	}
	dst = append(dst, b.data[start:]...)
	return append(dst, b.data[:k-(n-start)]...)
}
