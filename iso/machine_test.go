package iso

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMachine_IDsAreUniqueAndMonotonic(t *testing.T) {
	m1 := NewMachine()
	m2 := NewMachine()
	require.Greater(t, m2.ID(), m1.ID())
}

func TestMachine_LogFileTagsFileID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(LevelDebug)
	logger.Out = &buf

	m := NewMachine(WithLogger(logger))
	m.LogFile(LevelInfo, 9, "file touched", nil)

	require.Contains(t, buf.String(), "\"file\":9")
}

func TestMachine_CloseStopsLoop(t *testing.T) {
	m := NewMachine()

	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.False(t, m.Closed())
	require.NoError(t, m.Close())
	require.True(t, m.Closed())

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("machine did not stop after Close")
	}
}

func TestMachine_CloseIsIdempotent(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
