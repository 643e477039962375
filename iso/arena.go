package iso

// heapThreshold is the point above which an allocation always comes from the
// heap instead of the strip, matching the ~4KiB threshold in spec.md.
const heapThreshold = 4 * 1024

// Arena is a bump-allocated strip for short-lived continuation frames (lock
// entries, request state, pathfind frames). Allocations above heapThreshold,
// or that don't fit in the remaining strip, fall back to the heap; the
// strip's bump pointer only rewinds once every outstanding allocation has
// been released.
//
// Arena is not safe for concurrent use: spec.md guarantees only the loop
// thread ever touches it.
type Arena struct {
	strip  []byte
	used   int
	refcnt int
}

// NewArena creates an arena with a strip of the given size.
func NewArena(size int) *Arena {
	return &Arena{strip: make([]byte, size)}
}

// Stack allocates n bytes, returning a slice backed by the strip when it
// fits, or a freshly heap-allocated slice otherwise. The returned slice must
// be passed to Unstack exactly once.
func (a *Arena) Stack(n int) []byte {
	if n > heapThreshold || a.used+n > len(a.strip) {
		return make([]byte, n)
	}
	b := a.strip[a.used : a.used+n : a.used+n]
	a.used += n
	a.refcnt++
	return b
}

// Unstack releases a slice previously returned by Stack. Heap-allocated
// slices (those outside the strip's backing array) are simply dropped for
// the GC; strip-backed slices decrement the refcount, and the bump pointer
// resets to zero once the last outstanding allocation is released.
func (a *Arena) Unstack(b []byte) {
	if !a.owns(b) {
		return // heap allocation; nothing to do but let the GC reclaim it.
	}
	if a.refcnt == 0 {
		panic(ErrArenaCorrupt)
	}
	a.refcnt--
	if a.refcnt == 0 {
		a.used = 0
	}
}

// owns reports whether b's backing array lies within the strip.
func (a *Arena) owns(b []byte) bool {
	if len(a.strip) == 0 || cap(b) == 0 {
		return false
	}
	base := capAddr(a.strip)
	end := base + uintptr(len(a.strip))
	p := capAddr(b)
	return p >= base && p < end
}

// Outstanding returns the number of allocations not yet released. Tests use
// this to assert arena discipline (every Stack paired with one Unstack).
func (a *Arena) Outstanding() int { return a.refcnt }
