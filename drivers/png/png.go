// Package png implements a stream driver that decodes/encodes PNG images,
// backed by a decoded image.Image held in memory and re-encoded on read.
// No third-party PNG codec appears anywhere in the retrieved pack, so this
// is the one concrete driver built directly on the standard library's
// image/png (see DESIGN.md for the justification).
package png

import (
	"bytes"
	"image"
	stdpng "image/png"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.png"

type state struct {
	img image.Image
}

// Driver stores one decoded image per file; WRITE decodes a full PNG
// buffer, READ re-encodes the current image in full (framed like
// drivers/doc rather than drivers/stream: a PNG has no meaningful partial
// byte-range view), TRUNCATE clears the image.
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
		st.img = nil
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

func handleRead(r *req.Request, st *state) bool {
	if st.img == nil {
		r.Stream.Buf = nil
		r.Stream.Tail = true
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	}

	var buf bytes.Buffer
	if err := stdpng.Encode(&buf, st.img); err != nil {
		r.Result = req.ResultAborted
		return false
	}
	r.Stream.Buf = buf.Bytes()
	r.Stream.Tail = true
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func handleWrite(r *req.Request, st *state) bool {
	img, err := stdpng.Decode(bytes.NewReader(r.Stream.Buf))
	if err != nil {
		r.Result = req.ResultAborted
		return false
	}
	st.img = img
	r.Stream.Consumed = int64(len(r.Stream.Buf))
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

// Image exposes the decoded image directly, for callers layering further
// processing (e.g. a resize driver) on top without a re-encode round trip.
func Image(f *file.File) image.Image {
	return f.Param.(*state).img
}
