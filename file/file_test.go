package file

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLock struct{ granted bool }

func (l *fakeLock) Granted() bool { return l.granted }

func TestFile_WatchUnwatch(t *testing.T) {
	f := &File{}

	var calls int
	w := &Watch{Cb: func(*Watch, Event) { calls++ }}
	f.Watch(w)

	f.Trigger(EventUpdate)
	require.Equal(t, 1, calls)

	f.Unwatch(w)
	f.Trigger(EventUpdate)
	require.Equal(t, 1, calls)
}

func TestFile_UnwatchUnregisteredIsNoop(t *testing.T) {
	f := &File{}
	w := &Watch{}
	require.NotPanics(t, func() { f.Unwatch(w) })
}

func TestFile_TriggerOrdersWatchersBySubscription(t *testing.T) {
	f := &File{}

	var order []int
	f.Watch(&Watch{Cb: func(*Watch, Event) { order = append(order, 1) }})
	f.Watch(&Watch{Cb: func(*Watch, Event) { order = append(order, 2) }})
	f.Watch(&Watch{Cb: func(*Watch, Event) { order = append(order, 3) }})

	f.Trigger(EventUpdate)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestFile_AddRemoveLock(t *testing.T) {
	f := &File{}
	l1 := &fakeLock{granted: true}
	l2 := &fakeLock{granted: false}

	f.AddLock(l1)
	f.AddLock(l2)
	require.Len(t, f.Locks(), 2)

	f.RemoveLock(l1)
	require.Equal(t, []Lock{l2}, f.Locks())
}

func TestFile_RefIncrementsRefcount(t *testing.T) {
	f := &File{refcnt: 1}
	f.Ref()
	require.Equal(t, 2, f.Refcount())
}
