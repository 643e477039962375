// Package doc implements the discrete-stream document driver: each WRITE
// replaces the file's entire decoded value in one shot and each READ
// returns the whole re-encoded document, framed per spec.md's
// discrete-stream contract (no partial-offset framing). The wire format is
// chosen by the file's MimeType: "application/x-msgpack" selects
// MessagePack, anything else (including the empty string) defaults to
// YAML.
package doc

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.doc"

// MimeMsgpack selects the MessagePack codec; any other MimeType (including
// unset) falls back to YAML.
const MimeMsgpack = "application/x-msgpack"

type state struct {
	value any
}

// Driver decodes/encodes a Go value tree, grounded on spec.md §6's
// discrete-stream contract. Wire formats come from the pack: yaml.v3 for
// the human-authored/default case, msgpack/v5 for the compact binary case.
type Driver struct{}

func (Driver) Name() string { return Name }

func (Driver) Init(f *file.File) error {
	f.Param = &state{}
	return nil
}

func (Driver) Deinit(*file.File) {}

func (Driver) Categories() []req.Category {
	return []req.Category{req.CategoryDiscreteStream}
}
func (Driver) ABIVersion() int { return 1 }

func (Driver) Handle(r *req.Request) bool {
	if r.Category != req.CategoryDiscreteStream {
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
		st.value = nil
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

func handleRead(r *req.Request, st *state) bool {
	if st.value == nil {
		r.Stream.Buf = nil
		r.Stream.Tail = true
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	}

	encoded, err := encode(r.File.MimeType, st.value)
	if err != nil {
		r.Result = req.ResultAborted
		return false
	}
	r.Stream.Buf = encoded
	r.Stream.Tail = true
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func handleWrite(r *req.Request, st *state) bool {
	var value any
	if err := decode(r.File.MimeType, r.Stream.Buf, &value); err != nil {
		r.Result = req.ResultAborted
		return false
	}
	st.value = value
	r.Stream.Consumed = int64(len(r.Stream.Buf))
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func encode(mimeType string, value any) ([]byte, error) {
	if mimeType == MimeMsgpack {
		return msgpack.Marshal(value)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	defer enc.Close()
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(mimeType string, data []byte, out any) error {
	if mimeType == MimeMsgpack {
		return msgpack.Unmarshal(data, out)
	}
	return yaml.Unmarshal(data, out)
}

// Value exposes the decoded value tree directly, used by drivers layered
// on top of doc (e.g. config loaders) that want the parsed value without a
// re-encode round trip.
func Value(f *file.File) any {
	return f.Param.(*state).value
}
