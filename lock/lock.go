// Package lock implements the advisory shared/exclusive acquisition queue
// described in spec.md §4.4, ported 1:1 from the teacher's file.c
// upd_file_lock/upd_file_unlock control flow onto Go slices and an
// iso.Loop timer for the default acquisition timeout.
package lock

import (
	"time"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/iso"
)

// Mode is the requested access mode of an Entry.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// DefaultTimeout is the acquisition deadline applied when an Entry does not
// set one explicitly, matching spec.md's stated default.
const DefaultTimeout = 10000 * time.Millisecond

// NoTimeout opts an Entry out of the default deadline entirely.
const NoTimeout time.Duration = -1

// Entry is one queued or granted acquisition, the Go analogue of
// upd_file_lock_t. A caller builds an Entry, calls Queue.Acquire, and
// (unless Manual is false, in which case the queue releases it itself
// right after the grant callback) eventually calls Queue.Release.
type Entry struct {
	File     *file.File
	Mode     Mode
	Manual   bool
	Timeout  time.Duration // 0 means DefaultTimeout, NoTimeout disables it
	Callback func(e *Entry)
	UserData any

	ok      bool
	granted bool
	timer   *iso.Timer
}

// Granted satisfies file.Lock: it reports whether this entry currently holds
// its requested access (as opposed to merely being queued or having been
// cancelled).
func (e *Entry) Granted() bool { return e.granted }

// OK reports the outcome the grant callback was (or will be) invoked with:
// true for a successful grant, false for a cancellation (timeout,
// predecessor cancel, or file delete).
func (e *Entry) OK() bool { return e.ok }

// Queue is the per-file acquisition queue. One Queue must exist per file
// that is ever locked; Manager (manager.go) manages that 1:1 mapping.
type Queue struct {
	file     *file.File
	registry *file.Registry
	loop     *iso.Loop
	entries  []*Entry
}

// NewQueue creates an empty queue for f.
func NewQueue(f *file.File, registry *file.Registry, loop *iso.Loop) *Queue {
	return &Queue{file: f, registry: registry, loop: loop}
}

// Acquire appends e to the queue and grants it immediately if doing so
// wouldn't violate shared/exclusive exclusion (empty queue, or e is shared
// and every currently-queued entry is shared). Mirrors upd_file_lock.
func (q *Queue) Acquire(e *Entry) {
	imm := true
	if len(q.entries) > 0 {
		imm = e.Mode == Shared
		for i := 0; imm && i < len(q.entries); i++ {
			imm = q.entries[i].Mode == Shared
		}
	}

	e.ok = false
	q.entries = append(q.entries, e)
	q.file.AddLock(e)
	q.file.Ref()

	if q.loop != nil {
		timeout := e.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		if timeout > 0 {
			e.timer = q.loop.StartTimer(timeout, 0, func() { q.cancelIfQueued(e) })
		}
	}

	if imm {
		q.grant(e)
	}
}

func (q *Queue) grant(e *Entry) {
	e.ok = true
	e.granted = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.Callback(e)
	if !e.Manual {
		q.Release(e)
	}
}

// cancelIfQueued is the timer callback: if e is still waiting (never
// granted), it is cancelled with ok=false and removed, exactly as a
// predecessor cancellation would.
func (q *Queue) cancelIfQueued(e *Entry) {
	if e.granted {
		return
	}
	idx := q.indexOf(e)
	if idx < 0 {
		return
	}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	q.file.RemoveLock(e)
	q.registry.Unref(q.file) //nolint:errcheck // timeout cancellation cannot itself fail meaningfully

	e.ok = false
	e.granted = false
	e.Callback(e)
}

func (q *Queue) indexOf(e *Entry) int {
	for i, x := range q.entries {
		if x == e {
			return i
		}
	}
	return -1
}

// Release removes e from the queue and refcounts the file down. If e was
// still waiting (it is exclusive and not at the head, or an exclusive entry
// is ahead of it), e alone is cancelled: its callback runs with ok=false and
// no other entry changes. Otherwise the queue advances to grant the next
// eligible run of entries. Mirrors upd_file_unlock.
func (q *Queue) Release(e *Entry) {
	idx := q.indexOf(e)
	if idx < 0 {
		return
	}

	cancel := idx > 0 && e.Mode == Exclusive
	for j := 0; !cancel && j < idx; j++ {
		if q.entries[j].Mode == Exclusive {
			cancel = true
		}
	}

	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	q.file.RemoveLock(e)
	e.granted = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	deleted, _ := q.registry.Unref(q.file)

	if cancel {
		e.ok = false
		e.granted = false
		e.Callback(e)
		return
	}
	if deleted {
		return
	}
	if e.Mode == Exclusive {
		q.registry.Trigger(q.file, file.EventUpdate)
	}
	if len(q.entries) == 0 {
		return
	}

	next := q.entries[0]
	if e.Mode == Shared && next.Mode == Shared {
		return
	}

	first := true
	for {
		var k *Entry
		for _, cand := range q.entries {
			if !cand.ok {
				k = cand
				break
			}
		}
		if k == nil {
			break
		}

		if first || k.Mode == Shared {
			q.grant(k)
		}
		if k.Mode == Exclusive {
			break
		}
		first = false
	}
}

// Len reports the number of queued (including granted) entries, for tests.
func (q *Queue) Len() int { return len(q.entries) }
