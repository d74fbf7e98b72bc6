// Package reservoir implements fixed-capacity uniform reservoir sampling
// over an unbounded stream, safe to drive from a signal handler: after the
// reservoir has filled, Offer never allocates.
package reservoir

// Reservoir holds a uniform random sample of up to capacity items offered
// to it, using Algorithm R. It is not safe for concurrent use by multiple
// goroutines; the profiler confines every Offer to its single sampling
// goroutine, matching the "all mutation happens in one thread" guarantee
// the profiler relies on elsewhere.
type Reservoir[T any] struct {
	items []T
	n     uint64 // total number of offers so far
	rng   *xorshift64
}

// New returns a Reservoir with the given capacity. Capacity must be
// positive.
func New[T any](capacity int) *Reservoir[T] {
	if capacity <= 0 {
		panic("reservoir: capacity must be positive")
	}
	return &Reservoir[T]{
		items: make([]T, 0, capacity),
		rng:   newXorshift64(),
	}
}

// Offer presents item to the reservoir. If fewer than capacity items have
// been offered so far, item is stored unconditionally. Otherwise item
// replaces a uniformly chosen existing item with probability
// capacity/n, where n counts this offer.
//
// After the reservoir is full, Offer performs no allocation: it only
// updates the counter and, at most, overwrites one existing slice slot.
func (r *Reservoir[T]) Offer(item T) {
	r.n++
	if len(r.items) < cap(r.items) {
		r.items = append(r.items, item)
		return
	}
	// Replace slot j with probability capacity/n, i.e. pick
	// j uniformly in [0, n) and keep the item iff j < capacity.
	j := r.rng.intn(int(r.n))
	if j < cap(r.items) {
		r.items[j] = item
	}
}

// Snapshot returns the reservoir's current contents. The order is
// unspecified; callers that need a stable order (e.g. by timestamp) must
// sort the result themselves.
func (r *Reservoir[T]) Snapshot() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Len reports how many items are currently stored (at most the capacity).
func (r *Reservoir[T]) Len() int {
	return len(r.items)
}

// Offers reports how many times Offer has been called in total.
func (r *Reservoir[T]) Offers() uint64 {
	return r.n
}
