// Package file implements the file registry: the sorted table of addressable
// nodes every driver, lock, and request ultimately resolves against.
package file

import (
	"errors"
	"sync/atomic"
	"time"
)

// Event is the taxonomy of notifications a File can trigger to its watchers,
// matching the upd_file_event_t enum this package is grounded on.
type Event int

const (
	// EventDelete fires exactly once, synchronously, when a file's refcount
	// reaches zero.
	EventDelete Event = iota
	// EventUpdate fires after an exclusive lock releases and the file
	// survived (wasn't deleted by the same release).
	EventUpdate
	// EventDeleteN and EventUpdateN are the coalesced, periodically-flushed
	// variants used by drivers that would otherwise flood watchers (e.g.
	// directory children churn).
	EventDeleteN
	EventUpdateN
	// EventUncache asks a driver to drop cached working state for a file
	// under memory pressure; emitted by the registry's cache-accounting
	// walker, never by lock release.
	EventUncache
	// EventPreprocess and EventPostprocess bracket a driver's handling of a
	// request, for drivers that need to stage work around it (e.g. a
	// compiler driver flushing intermediate files).
	EventPreprocess
	EventPostprocess
	// EventAsync signals that a long-lived StartThread worker produced a
	// result out-of-band and the file's state should be re-examined.
	EventAsync
	// EventTimer fires when a driver-registered timer elapses.
	EventTimer
)

func (e Event) String() string {
	switch e {
	case EventDelete:
		return "DELETE"
	case EventUpdate:
		return "UPDATE"
	case EventDeleteN:
		return "DELETE_N"
	case EventUpdateN:
		return "UPDATE_N"
	case EventUncache:
		return "UNCACHE"
	case EventPreprocess:
		return "PREPROCESS"
	case EventPostprocess:
		return "POSTPROCESS"
	case EventAsync:
		return "ASYNC"
	case EventTimer:
		return "TIMER"
	default:
		return "UNKNOWN"
	}
}

// Driver is the minimal surface the file package needs from a driver
// implementation; the full driver ABI lives in package driver, which also
// implements this interface, avoiding an import cycle between file and
// driver by keeping the dependency direction one way (driver depends on
// file, not vice versa).
type Driver interface {
	Name() string
	Init(f *File) error
	Deinit(f *File)
}

// Watch is a subscription to one file's events. Cb is invoked synchronously
// on the loop thread from Trigger, matching the teacher's "the loop thread
// is the only caller" discipline.
type Watch struct {
	File  *File
	Cb    func(w *Watch, e Event)
	UData any

	registered bool
}

// Lock is the narrow view of a lock.Entry that a File keeps in its lock
// list (AddLock/RemoveLock/Locks); package lock implements this interface
// against its own Entry type. file itself never consults it: each queued or
// granted entry keeps the file alive through its own ref.
type Lock interface {
	Granted() bool
}

// File is one addressable node in the registry: directories, streams,
// programs, tensors, and devices are all represented by a File whose
// behavior is entirely delegated to Driver.
type File struct {
	ID       uint64
	Driver   Driver
	Param    any // driver-private state (the C source's void* backing struct)
	MimeType string

	refcnt int
	watch  []*Watch
	locks  []Lock

	CreatedAt time.Time

	// Cache is a driver-supplied hint in [0,1] of how expensive this file's
	// working state is to reconstruct; the registry's eviction walker reads
	// this to decide UNCACHE candidates. LastUse is bumped by Registry.Touch.
	Cache   float64
	LastUse time.Time

	// asyncPending reserves the single in-flight slot an off-loop caller of
	// TriggerAsync may hold for this file, so a burst of worker-thread
	// events coalesces into at most one delivery per turn.
	asyncPending atomic.Bool
}

// Errors returned by File/Registry operations.
var (
	ErrRefcountUnderflow = errors.New("file: unref called on a file with zero refcount")
	ErrDriverInitFailed  = errors.New("file: driver init failed")
)

// Ref increments the reference count. Every holder of a *File (a lock, a
// pending request, a directory entry) must hold exactly one ref.
func (f *File) Ref() { f.refcnt++ }

// Refcount reports the current reference count, chiefly for tests.
func (f *File) Refcount() int { return f.refcnt }

// Watch subscribes w to f's events and sets w.File to f.
func (f *File) Watch(w *Watch) {
	w.File = f
	w.registered = true
	f.watch = append(f.watch, w)
}

// Unwatch removes a previously registered watch. No-op if not registered.
func (f *File) Unwatch(w *Watch) {
	if !w.registered {
		return
	}
	for i, x := range f.watch {
		if x == w {
			f.watch = append(f.watch[:i], f.watch[i+1:]...)
			break
		}
	}
	w.registered = false
}

// Trigger synchronously notifies every watcher of e, in subscription order,
// matching upd_file_trigger's plain for-loop (no reentrancy protection: a
// callback that unwatches itself or others must tolerate the teacher's same
// caveat that the watch slice is being iterated live).
func (f *File) Trigger(e Event) {
	for _, w := range f.watch {
		w.Cb(w, e)
	}
}

// MarkAsyncPending reserves f's single pending-async-event slot, returning
// false if one is already outstanding. Safe to call from any goroutine;
// callers that get false must drop their event, since one is already queued
// for delivery.
func (f *File) MarkAsyncPending() bool {
	return f.asyncPending.CompareAndSwap(false, true)
}

// ClearAsyncPending releases the pending slot reserved by MarkAsyncPending,
// making the file eligible for another coalesced async event.
func (f *File) ClearAsyncPending() {
	f.asyncPending.Store(false)
}

// addLock and removeLock are called only by package lock, which is the sole
// authorized mutator of a File's lock queue; file itself never interprets
// lock ordering.
func (f *File) addLock(l Lock) { f.locks = append(f.locks, l) }

func (f *File) removeLock(l Lock) {
	for i, x := range f.locks {
		if x == l {
			f.locks = append(f.locks[:i], f.locks[i+1:]...)
			return
		}
	}
}

// Locks exposes the current lock queue for package lock to operate on. Not
// intended for any other caller.
func (f *File) Locks() []Lock { return f.locks }

// AddLock is the exported hook package lock uses to register itself in a
// file's queue; kept separate from addLock so only the one public entry
// point crosses the package boundary.
func (f *File) AddLock(l Lock) { f.addLock(l) }

// RemoveLock is the exported counterpart to AddLock.
func (f *File) RemoveLock(l Lock) { f.removeLock(l) }
