package file

import (
	"sort"
	"time"
)

// Registry is the sorted table of every live File in one machine. It is
// owned by the loop thread: spec.md guarantees only the loop thread ever
// touches it, so Registry carries no internal locking, matching the
// teacher's "the loop thread is the sole owner of loop-owned state"
// discipline applied to iso.Loop itself.
type Registry struct {
	files   []*File // kept sorted by ID ascending
	nextID  uint64
	onEvent func(f *File, e Event)

	// cacheCursor is the round-robin index the eviction walker resumes from,
	// so a single tick only samples a bounded slice instead of scanning
	// every file (grounded on catrate's ring-buffer sampling idiom: look at
	// a window, not the whole history, each tick).
	cacheCursor int
}

// NewRegistry creates an empty registry. onEvent, if non-nil, is invoked
// after every Trigger on any file the registry owns, letting a Machine
// funnel file events into its logger without every driver doing so itself.
func NewRegistry(onEvent func(f *File, e Event)) *Registry {
	return &Registry{onEvent: onEvent}
}

// New mints a fresh monotonically-increasing ID, runs the driver's Init,
// and inserts the file into the sorted table. The returned File starts with
// a refcount of 1, owned by the caller.
func (r *Registry) New(d Driver) (*File, error) {
	f := &File{
		ID:        r.nextID,
		Driver:    d,
		refcnt:    1,
		CreatedAt: time.Now(),
		LastUse:   time.Now(),
	}
	r.nextID++

	if err := d.Init(f); err != nil {
		return nil, err
	}

	r.files = append(r.files, f)
	return f, nil
}

// Get performs a binary search for id, mirroring upd_file_get's sorted
// array lookup. Returns nil if no such file exists.
func (r *Registry) Get(id uint64) *File {
	i := sort.Search(len(r.files), func(i int) bool { return r.files[i].ID >= id })
	if i < len(r.files) && r.files[i].ID == id {
		return r.files[i]
	}
	return nil
}

// Unref decrements f's refcount; at zero it removes f from the table, runs
// the driver's Deinit, and fires EventDelete. Returns true if the file was
// deleted by this call.
func (r *Registry) Unref(f *File) (bool, error) {
	if f.refcnt == 0 {
		return false, ErrRefcountUnderflow
	}
	f.refcnt--
	if f.refcnt > 0 {
		return false, nil
	}

	r.remove(f)
	f.Driver.Deinit(f)
	r.Trigger(f, EventDelete)
	f.watch = nil
	return true, nil
}

func (r *Registry) remove(f *File) {
	i := sort.Search(len(r.files), func(i int) bool { return r.files[i].ID >= f.ID })
	if i < len(r.files) && r.files[i] == f {
		r.files = append(r.files[:i], r.files[i+1:]...)
	}
}

// Trigger is the registry-aware wrapper around File.Trigger: it notifies the
// registry's onEvent hook (used for logging) in addition to the file's own
// watchers.
func (r *Registry) Trigger(f *File, e Event) {
	f.Trigger(e)
	r.trigger(f, e)
}

func (r *Registry) trigger(f *File, e Event) {
	if r.onEvent != nil {
		r.onEvent(f, e)
	}
}

// Touch records that f was just used, resetting its idle clock for the
// cache-eviction walker.
func (r *Registry) Touch(f *File) {
	f.LastUse = time.Now()
}

// Len reports how many files are currently registered, for tests and
// diagnostics.
func (r *Registry) Len() int { return len(r.files) }

// WalkCacheEvictions scans up to sampleSize files starting at the
// registry's round-robin cursor and fires EventUncache on any whose Cache
// hint exceeds budget and whose refcount is still positive (a file deleted
// earlier in the same tick must never be walked, per spec.md's testable
// property). It returns the number of files it asked to uncache.
func (r *Registry) WalkCacheEvictions(sampleSize int, budget float64) int {
	n := len(r.files)
	if n == 0 {
		return 0
	}
	if sampleSize > n {
		sampleSize = n
	}

	evicted := 0
	for i := 0; i < sampleSize; i++ {
		idx := (r.cacheCursor + i) % n
		f := r.files[idx]
		if f.refcnt <= 0 {
			continue
		}
		if f.Cache > budget {
			r.Trigger(f, EventUncache)
			evicted++
		}
	}
	r.cacheCursor = (r.cacheCursor + sampleSize) % n
	return evicted
}
