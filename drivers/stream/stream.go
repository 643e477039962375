// Package stream implements the in-memory byte-stream driver
// (READ/WRITE/TRUNCATE) over a plain []byte buffer.
package stream

import (
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.stream"

type state struct {
	buf []byte
}

// Driver is stdlib-only (a plain []byte buffer): a byte buffer needs no
// third-party dependency.
type Driver struct{}

func (Driver) Name() string { return Name }

func (Driver) Init(f *file.File) error {
	f.Param = &state{}
	return nil
}

func (Driver) Deinit(*file.File) {}

func (Driver) Categories() []req.Category { return []req.Category{req.CategoryStream} }
func (Driver) ABIVersion() int            { return 1 }

func (Driver) Handle(r *req.Request) bool {
	if r.Category != req.CategoryStream {
		r.Result = req.ResultInvalid
		return false
	}
	st := r.File.Param.(*state)

	switch r.Stream.Op {
	case req.StreamRead:
		return handleRead(r, st)
	case req.StreamWrite:
		return handleWrite(r, st)
	case req.StreamTruncate:
		return handleTruncate(r, st)
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

func handleRead(r *req.Request, st *state) bool {
	off := r.Stream.Offset
	if off < 0 || off > int64(len(st.buf)) {
		r.Result = req.ResultInvalid
		return false
	}

	end := off + r.Stream.Size
	tail := false
	if r.Stream.Size <= 0 || end >= int64(len(st.buf)) {
		end = int64(len(st.buf))
		tail = true
	}

	out := make([]byte, end-off)
	copy(out, st.buf[off:end])
	r.Stream.Buf = out
	r.Stream.Tail = tail
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func handleWrite(r *req.Request, st *state) bool {
	off := r.Stream.Offset
	if off < 0 {
		r.Result = req.ResultInvalid
		return false
	}

	needed := off + int64(len(r.Stream.Buf))
	if needed > int64(len(st.buf)) {
		grown := make([]byte, needed)
		copy(grown, st.buf)
		st.buf = grown
	}
	n := copy(st.buf[off:], r.Stream.Buf)

	r.Stream.Consumed = int64(n)
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func handleTruncate(r *req.Request, st *state) bool {
	size := r.Stream.Size
	if size < 0 {
		r.Result = req.ResultInvalid
		return false
	}
	if size <= int64(len(st.buf)) {
		st.buf = st.buf[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, st.buf)
		st.buf = grown
	}
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

// Bytes exposes a stream file's current buffer contents directly, without
// a READ request.
func Bytes(f *file.File) []byte {
	return f.Param.(*state).buf
}

// SetBytes replaces the buffer contents outright.
func SetBytes(f *file.File, b []byte) {
	f.Param.(*state).buf = b
}
