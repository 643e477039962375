package doc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

func newFixture(t *testing.T, mimeType string) *file.File {
	t.Helper()
	registry := file.NewRegistry(nil)
	f, err := registry.New(Driver{})
	require.NoError(t, err)
	f.MimeType = mimeType
	return f
}

func TestDoc_YAMLRoundTrip(t *testing.T) {
	f := newFixture(t, "")

	w := &req.Request{
		File: f, Category: req.CategoryDiscreteStream,
		Stream:   &req.StreamPayload{Op: req.StreamWrite, Buf: []byte("name: widget\ncount: 3\n")},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(w))
	require.Equal(t, req.ResultOK, w.Result)

	m, ok := Value(f).(map[string]any)
	require.True(t, ok)
	require.Equal(t, "widget", m["name"])

	r := &req.Request{
		File: f, Category: req.CategoryDiscreteStream,
		Stream:   &req.StreamPayload{Op: req.StreamRead},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r))
	require.Contains(t, string(r.Stream.Buf), "name: widget")
}

func TestDoc_MsgpackRoundTrip(t *testing.T) {
	f := newFixture(t, MimeMsgpack)

	payload := map[string]any{"a": int8(1), "b": "two"}
	encoded, err := encode(MimeMsgpack, payload)
	require.NoError(t, err)

	w := &req.Request{
		File: f, Category: req.CategoryDiscreteStream,
		Stream:   &req.StreamPayload{Op: req.StreamWrite, Buf: encoded},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(w))

	r := &req.Request{
		File: f, Category: req.CategoryDiscreteStream,
		Stream:   &req.StreamPayload{Op: req.StreamRead},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r))

	var out map[string]any
	require.NoError(t, decode(MimeMsgpack, r.Stream.Buf, &out))
	require.Equal(t, "two", out["b"])
}

func TestDoc_MalformedYAMLAborts(t *testing.T) {
	f := newFixture(t, "")

	r := &req.Request{
		File: f, Category: req.CategoryDiscreteStream,
		Stream: &req.StreamPayload{Op: req.StreamWrite, Buf: []byte("not: [valid")},
	}
	ok := req.Dispatch(r)
	require.False(t, ok)
	require.Equal(t, req.ResultAborted, r.Result)
}

func TestDoc_TruncateClearsValue(t *testing.T) {
	f := newFixture(t, "")

	req.Dispatch(&req.Request{
		File: f, Category: req.CategoryDiscreteStream,
		Stream:   &req.StreamPayload{Op: req.StreamWrite, Buf: []byte("x: 1\n")},
		Callback: func(*req.Request) {},
	})
	require.NotNil(t, Value(f))

	r := &req.Request{
		File: f, Category: req.CategoryDiscreteStream,
		Stream:   &req.StreamPayload{Op: req.StreamTruncate},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r))
	require.Nil(t, Value(f))
}

func TestDoc_ReadEmptyReturnsNilTail(t *testing.T) {
	f := newFixture(t, "")

	r := &req.Request{
		File: f, Category: req.CategoryDiscreteStream,
		Stream:   &req.StreamPayload{Op: req.StreamRead},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r))
	require.Nil(t, r.Stream.Buf)
	require.True(t, r.Stream.Tail)
}
