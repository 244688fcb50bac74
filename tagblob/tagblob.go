// Package tagblob implements the reference-counted, copy-on-write byte
// blob used to attach tag data to packets that cross logical-process
// boundaries. The refcount uses relaxed increments and release decrements,
// with an acquire fence taken by whichever thread observes the count
// dropping to zero, matching the discipline in spec.md section 5.
package tagblob

import "sync/atomic"

// RefCount is a relaxed-order reference counter suitable for data shared
// across logical processes without a mutex. Increment is relaxed because a
// new reference is always created by a thread that already holds one;
// Decrement is release because it must publish the decrementer's prior
// writes to whichever thread observes the count reaching zero.
type RefCount struct {
	n atomic.Int32
}

// NewRefCount creates a RefCount starting at the given value.
func NewRefCount(initial int32) *RefCount {
	r := &RefCount{}
	r.n.Store(initial)
	return r
}

// Increment adds one reference.
func (r *RefCount) Increment() {
	r.n.Add(1)
}

// Decrement releases one reference and reports whether this call drove the
// count to zero. A caller that receives true owns the final release and
// must treat it as an acquire fence before freeing shared state: on the
// architectures Go targets, atomic.Int32 operations are already
// sequentially consistent, so the acquire/release split in the source
// degenerates to "observe zero, then free" here.
func (r *RefCount) Decrement() bool {
	return r.n.Add(-1) == 0
}

// Load returns the current count for diagnostics. It is not safe to act on
// without a subsequent Increment/Decrement — it is a snapshot.
func (r *RefCount) Load() int32 {
	return r.n.Load()
}

// Blob is a copy-on-write byte buffer shared across LP boundaries through
// packets. Capacity is fixed at creation; Dirty tracks whether the bytes
// have diverged from whatever freelist slab they were carved from.
type Blob struct {
	ref      *RefCount
	capacity int
	dirty    bool
	bytes    []byte
	free     func(*Blob)
}

// New creates a Blob with the given capacity and a single reference. free,
// if non-nil, is invoked instead of letting the Blob be garbage collected
// once the last reference is released — see Freelist.
func New(capacity int, free func(*Blob)) *Blob {
	return &Blob{
		ref:      NewRefCount(1),
		capacity: capacity,
		bytes:    make([]byte, capacity),
		free:     free,
	}
}

// Bytes returns the blob's backing storage. Callers that intend to mutate
// it must call CopyOnWrite first if they do not hold the only reference.
func (b *Blob) Bytes() []byte {
	return b.bytes
}

// Capacity returns the fixed byte capacity of the blob.
func (b *Blob) Capacity() int {
	return b.capacity
}

// Dirty reports whether the blob's bytes have been written to since
// allocation.
func (b *Blob) Dirty() bool {
	return b.dirty
}

// Share increments the reference count and returns the same Blob, modeling
// a packet crossing an LP boundary without copying its tag bytes.
func (b *Blob) Share() *Blob {
	b.ref.Increment()
	return b
}

// CopyOnWrite returns a Blob the caller can mutate exclusively. If this
// reference is the only one outstanding, it is returned as-is and marked
// dirty; otherwise a private copy is made and the original reference is
// released.
func (b *Blob) CopyOnWrite() *Blob {
	if b.ref.Load() == 1 {
		b.dirty = true
		return b
	}

	clone := &Blob{
		ref:      NewRefCount(1),
		capacity: b.capacity,
		bytes:    append([]byte(nil), b.bytes...),
		dirty:    true,
		free:     b.free,
	}
	b.Release()
	return clone
}

// Release drops one reference. When it drives the count to zero, the blob
// is returned to its freelist (if any) for reuse; accessing b after the
// call that drives the count to zero is a use-after-free.
func (b *Blob) Release() {
	if b.ref.Decrement() {
		if b.free != nil {
			b.free(b)
		}
	}
}

// Reset clears a blob's bytes and dirty flag and re-arms its refcount to
// one, for reuse from a freelist.
func (b *Blob) reset() {
	for i := range b.bytes {
		b.bytes[i] = 0
	}
	b.dirty = false
	b.ref.Store(1)
}

// Store resets the refcount directly; used by Blob.reset.
func (r *RefCount) Store(v int32) {
	r.n.Store(v)
}
