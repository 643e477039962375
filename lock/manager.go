package lock

import (
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/iso"
)

// Manager owns the one Queue each locked file gets, created lazily on first
// use. This is the Go substitute for the C source keeping the lock array
// embedded directly in upd_file_t_: Go's file.File stays driver-agnostic
// and lock-agnostic, and Manager is the seam that ties a *file.File to its
// Queue without file importing lock.
type Manager struct {
	registry *file.Registry
	loop     *iso.Loop
	queues   map[*file.File]*Queue
}

// NewManager creates a Manager bound to one registry and loop, matching the
// one-Manager-per-Machine lifetime.
func NewManager(registry *file.Registry, loop *iso.Loop) *Manager {
	return &Manager{
		registry: registry,
		loop:     loop,
		queues:   make(map[*file.File]*Queue),
	}
}

// Queue returns f's Queue, creating it on first access.
func (m *Manager) Queue(f *file.File) *Queue {
	q, ok := m.queues[f]
	if !ok {
		q = NewQueue(f, m.registry, m.loop)
		m.queues[f] = q
	}
	return q
}

// Acquire is shorthand for Manager.Queue(e.File).Acquire(e).
func (m *Manager) Acquire(e *Entry) {
	m.Queue(e.File).Acquire(e)
}

// Forget drops f's Queue once it has no entries left, so Manager's map
// doesn't grow unbounded over a machine's lifetime. Call after a Release
// that empties the queue.
func (m *Manager) Forget(f *file.File) {
	if q, ok := m.queues[f]; ok && q.Len() == 0 {
		delete(m.queues, f)
	}
}
