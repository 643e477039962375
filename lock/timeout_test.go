package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/iso"
)

func TestQueue_TimeoutCancelsStillQueuedEntry(t *testing.T) {
	loop := iso.NewLoop()
	r := file.NewRegistry(nil)
	f, err := r.New(nullDriver{})
	require.NoError(t, err)
	q := NewQueue(f, r, loop)

	// Hold an exclusive lock so the second acquisition must queue.
	holder := &Entry{File: f, Mode: Exclusive, Manual: true, Timeout: NoTimeout, Callback: func(*Entry) {}}
	q.Acquire(holder)

	result := make(chan bool, 1)
	waiter := &Entry{
		File:     f,
		Mode:     Exclusive,
		Manual:   true,
		Timeout:  20 * time.Millisecond,
		Callback: func(e *Entry) { result <- e.OK() },
	}
	q.Acquire(waiter)
	require.False(t, waiter.Granted())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go loop.Run(ctx)

	select {
	case ok := <-result:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timeout never cancelled the queued entry")
	}
	require.Equal(t, 1, q.Len()) // only the still-granted holder remains
}

func TestQueue_TimeoutDoesNotFireOnImmediateGrant(t *testing.T) {
	loop := iso.NewLoop()
	r := file.NewRegistry(nil)
	f, err := r.New(nullDriver{})
	require.NoError(t, err)
	q := NewQueue(f, r, loop)

	var ok bool
	e := &Entry{File: f, Mode: Shared, Manual: true, Timeout: 0, Callback: func(e *Entry) { ok = e.OK() }}
	q.Acquire(e)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, loop.Run(ctx), context.DeadlineExceeded)
	require.True(t, e.Granted()) // never cancelled by its own default timeout
}
