package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/iso"
	"github.com/reactorfs/upd/lock"
)

type nullFileDriver struct{}

func (nullFileDriver) Name() string          { return "test.null" }
func (nullFileDriver) Init(*file.File) error { return nil }
func (nullFileDriver) Deinit(*file.File)     {}

func TestHost_FileNamespaceDelegatesToRegistry(t *testing.T) {
	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, nil)
	m := iso.NewMachine()
	tbl := NewTable(nil)
	h := NewHost(m, registry, manager, tbl)

	f, err := h.File().New(nullFileDriver{})
	require.NoError(t, err)
	require.Same(t, f, h.File().Get(f.ID))

	h.File().Ref(f)
	require.Equal(t, 2, f.Refcount())

	deleted, err := h.File().Unref(f)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestHost_IsoNamespaceWrapsArenaAndClock(t *testing.T) {
	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, nil)
	m := iso.NewMachine()
	tbl := NewTable(nil)
	h := NewHost(m, registry, manager, tbl)

	b := h.Iso().Stack(16)
	require.Len(t, b, 16)
	h.Iso().Unstack(b)

	require.GreaterOrEqual(t, h.Iso().Now(), int64(0))
}

func TestHost_DriverNamespaceDelegatesToTable(t *testing.T) {
	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, nil)
	m := iso.NewMachine()
	tbl := NewTable(nil)
	d := testDriver{name: "found.me", abi: ABIVersion}
	require.NoError(t, tbl.Register(d))

	h := NewHost(m, registry, manager, tbl)
	got, ok := h.Driver().Lookup("found.me")
	require.True(t, ok)
	require.Equal(t, d, got)
}

func TestHost_SubmitRunsOnLoopThread(t *testing.T) {
	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, nil)
	m := iso.NewMachine()
	tbl := NewTable(nil)
	h := NewHost(m, registry, manager, tbl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	done := make(chan struct{})
	require.NoError(t, h.Iso().Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit closure never ran")
	}
}

func TestHost_TriggerAsyncIsThreadSafeAndCoalesced(t *testing.T) {
	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, nil)
	m := iso.NewMachine()
	tbl := NewTable(nil)
	h := NewHost(m, registry, manager, tbl)

	f, err := h.File().New(nullFileDriver{})
	require.NoError(t, err)

	var deliveries int
	w := &file.Watch{Cb: func(*file.Watch, file.Event) { deliveries++ }}
	f.Watch(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.File().TriggerAsync(f, file.EventAsync)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return deliveries > 0
	}, 2*time.Second, 10*time.Millisecond)

	// give any further (incorrectly uncoalesced) deliveries a chance to land
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, deliveries, 2)
}
