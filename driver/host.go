package driver

import (
	"fmt"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/iso"
	"github.com/reactorfs/upd/lock"
)

// IsoHost is the "iso" namespace of the original's host function table:
// arena stack/unstack, the monotonic clock, the diagnostic sink, and
// worker/thread offload.
type IsoHost interface {
	Stack(n int) []byte
	Unstack(b []byte)
	Now() int64
	Msg(format string, args ...any)
	StartWork(fn func() (any, error), complete func(any, error))
	StartThread(fn func(done <-chan struct{}))
	// Submit is the sanctioned way a StartThread goroutine (or any other
	// non-loop goroutine) reaches back into loop-owned state: fn runs on the
	// loop thread on a later turn, never synchronously on the caller.
	Submit(fn func()) error
}

// DriverHost is the "driver" namespace: lookup by name, the only
// driver-to-driver entry point a plug-in needs (e.g. a syncdir driver
// resolving the concrete driver for a file extension).
type DriverHost interface {
	Lookup(name string) (Driver, bool)
	SelectByExtension(path string) (Driver, bool)
}

// FileHost is the "file" namespace: registry and lock operations, the bulk
// of what a driver actually does on every request.
type FileHost interface {
	New(d file.Driver) (*file.File, error)
	Get(id uint64) *file.File
	Ref(f *file.File)
	Unref(f *file.File) (bool, error)
	Watch(w *file.Watch)
	Unwatch(w *file.Watch)
	Trigger(f *file.File, e file.Event)
	TriggerAsync(f *file.File, e file.Event)
	Lock(e *lock.Entry)
	Unlock(e *lock.Entry)
}

// Host is the full table handed to every driver at construction time —
// the Go analogue of the original's single versioned struct pointer
// grouping iso/driver/file function pointers.
type Host interface {
	Iso() IsoHost
	Driver() DriverHost
	File() FileHost
}

type isoHost struct{ m *iso.Machine }

func (h isoHost) Stack(n int) []byte { return h.m.Arena.Stack(n) }
func (h isoHost) Unstack(b []byte)   { h.m.Arena.Unstack(b) }
func (h isoHost) Now() int64         { return h.m.Loop.Now() }
func (h isoHost) Msg(format string, args ...any) {
	h.m.Log(iso.LevelInfo, fmt.Sprintf(format, args...), nil)
}
func (h isoHost) StartWork(fn func() (any, error), complete func(any, error)) {
	h.m.Loop.StartWork(fn, complete)
}
func (h isoHost) StartThread(fn func(done <-chan struct{})) {
	h.m.Loop.StartThread(fn)
}
func (h isoHost) Submit(fn func()) error { return h.m.Loop.Submit(fn) }

type driverHost struct{ t *Table }

func (h driverHost) Lookup(name string) (Driver, bool)         { return h.t.Lookup(name) }
func (h driverHost) SelectByExtension(path string) (Driver, bool) { return h.t.SelectByExtension(path) }

type fileHost struct {
	registry *file.Registry
	manager  *lock.Manager
	loop     *iso.Loop
}

func (h fileHost) New(d file.Driver) (*file.File, error) { return h.registry.New(d) }
func (h fileHost) Get(id uint64) *file.File              { return h.registry.Get(id) }
func (h fileHost) Ref(f *file.File)                      { f.Ref() }
func (h fileHost) Unref(f *file.File) (bool, error)      { return h.registry.Unref(f) }
func (h fileHost) Watch(w *file.Watch)                   { w.File.Watch(w) }
func (h fileHost) Unwatch(w *file.Watch)                 { w.File.Unwatch(w) }
func (h fileHost) Trigger(f *file.File, e file.Event)    { h.registry.Trigger(f, e) }

// TriggerAsync is the thread-safe, coalesced entry point a StartThread
// worker uses to report an event back to the loop: at most one delivery per
// file is ever in flight (File.MarkAsyncPending reserves the slot), and the
// actual Registry.Trigger call happens on the loop thread via
// iso.Loop.SubmitInternal, never synchronously on the caller's goroutine.
func (h fileHost) TriggerAsync(f *file.File, e file.Event) {
	if !f.MarkAsyncPending() {
		return
	}
	if err := h.loop.SubmitInternal(func() {
		f.ClearAsyncPending()
		h.registry.Trigger(f, e)
	}); err != nil {
		f.ClearAsyncPending()
	}
}

func (h fileHost) Lock(e *lock.Entry)   { h.manager.Acquire(e) }
func (h fileHost) Unlock(e *lock.Entry) { h.manager.Queue(e.File).Release(e) }

type host struct {
	iso    isoHost
	driver driverHost
	file   fileHost
}

func (h host) Iso() IsoHost       { return h.iso }
func (h host) Driver() DriverHost { return h.driver }
func (h host) File() FileHost     { return h.file }

// NewHost builds the concrete Host a Machine hands to every driver it
// registers.
func NewHost(m *iso.Machine, registry *file.Registry, manager *lock.Manager, table *Table) Host {
	return host{
		iso:    isoHost{m: m},
		driver: driverHost{t: table},
		file:   fileHost{registry: registry, manager: manager, loop: m.Loop},
	}
}
