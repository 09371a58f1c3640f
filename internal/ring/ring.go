// Package ring provides a fixed-capacity overwrite ring buffer with an explicit
// "wrapped at least once" flag. It backs both the per-device position history
// and the smoothing filter window.
//
// Buffers are not safe for concurrent use; callers serialize access (the
// tracker owns every buffer behind its own lock).
package ring

// Buffer is a fixed-capacity ring that overwrites its oldest slot once full.
type Buffer[T any] struct {
	items   []T
	cursor  int
	wrapped bool
	total   uint64
}

// New returns an empty buffer holding capacity items. Capacities below one are
// raised to one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push writes v at the cursor and advances it. It reports true only on the
// write that wraps the cursor for the first time.
func (b *Buffer[T]) Push(v T) bool {
	b.items[b.cursor] = v
	b.cursor++
	b.total++
	if b.cursor >= len(b.items) {
		b.cursor = 0
		if !b.wrapped {
			b.wrapped = true
			return true
		}
	}
	return false
}

// Wrapped reports whether the cursor has wrapped at least once, i.e. every slot
// holds a written sample.
func (b *Buffer[T]) Wrapped() bool { return b.wrapped }

// Cursor returns the index of the next slot to be written.
func (b *Buffer[T]) Cursor() int { return b.cursor }

// Capacity returns the fixed number of slots.
func (b *Buffer[T]) Capacity() int { return len(b.items) }

// Len returns the number of slots holding written samples.
func (b *Buffer[T]) Len() int {
	if b.wrapped {
		return len(b.items)
	}
	return b.cursor
}

// Total returns the number of pushes since creation or the last Reset.
func (b *Buffer[T]) Total() uint64 { return b.total }

// Slots returns a copy of the written slots in storage order.
func (b *Buffer[T]) Slots() []T {
	out := make([]T, b.Len())
	copy(out, b.items[:b.Len()])
	return out
}

// Ordered returns a copy of the written samples from oldest to newest.
func (b *Buffer[T]) Ordered() []T {
	if !b.wrapped {
		return b.Slots()
	}
	out := make([]T, 0, len(b.items))
	out = append(out, b.items[b.cursor:]...)
	out = append(out, b.items[:b.cursor]...)
	return out
}

// Latest returns the most recently written sample.
func (b *Buffer[T]) Latest() (T, bool) {
	var zero T
	if b.total == 0 {
		return zero, false
	}
	idx := b.cursor - 1
	if idx < 0 {
		idx = len(b.items) - 1
	}
	return b.items[idx], true
}

// Reset clears every slot and the wrapped flag.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.cursor = 0
	b.wrapped = false
	b.total = 0
}
