// Package req implements the request envelope dispatched to a file's
// driver, and the hierarchical pathfind resolver built on top of it.
package req

import (
	"time"

	"github.com/reactorfs/upd/file"
)

// Result is the terminal outcome of a dispatched Request, matching
// spec.md §7's four-kind taxonomy.
type Result int

const (
	ResultOK Result = iota
	ResultNomem
	ResultAborted
	ResultInvalid
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultNomem:
		return "NOMEM"
	case ResultAborted:
		return "ABORTED"
	case ResultInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Category identifies which payload field of a Request is populated.
type Category int

const (
	CategoryDirectory Category = iota
	CategoryStream
	CategoryDiscreteStream
	CategoryProgram
	CategoryTensor
	CategoryDevice
)

// Directory operations.
type DirOp int

const (
	DirList DirOp = iota
	DirFind
	DirAdd
	DirNew
	DirNewDir
	DirRemove
)

// DirPayload carries both the arguments and, once the request completes,
// the result of a directory operation. Entry is the input file for ADD and
// the output file for FIND/NEW/NEWDIR.
type DirPayload struct {
	Op      DirOp
	Name    string
	Entry   *file.File
	Entries []DirChild // populated by LIST
}

// DirChild is one weak reference returned by a LIST request.
type DirChild struct {
	Name string
	File *file.File
}

// Stream operations, shared verbatim by the discrete-stream category (the
// framing discipline, not the shape, is what differs between them).
type StreamOp int

const (
	StreamRead StreamOp = iota
	StreamWrite
	StreamTruncate
)

// StreamPayload carries READ/WRITE/TRUNCATE arguments and results.
type StreamPayload struct {
	Op       StreamOp
	Offset   int64
	Size     int64
	Buf      []byte // WRITE input / READ output
	Tail     bool   // READ output: true when the read reached EOF
	Consumed int64  // WRITE output: bytes actually consumed
}

// Program operations.
type ProgramOp int

const (
	ProgramCompile ProgramOp = iota
	ProgramExec
)

// ProgramPayload carries COMPILE/EXEC arguments and results. Exec produces
// a new file (Instance) whose lifetime is the running execution.
type ProgramPayload struct {
	Op       ProgramOp
	Args     []string
	Instance *file.File
}

// Tensor operations.
type TensorOp int

const (
	TensorMeta TensorOp = iota
	TensorData
	TensorFetch
	TensorFlush
)

// TensorPayload carries META/DATA/FETCH/FLUSH arguments and results.
type TensorPayload struct {
	Op         TensorOp
	Rank       int
	Shape      []int
	ElemType   string
	Data       []float64
	BufferView []byte
}

// Device operations mirror Tensor's FETCH/FLUSH bracket without rank/type
// metadata, for GPU/audio-style resources that aren't naturally tensors
// (SPEC_FULL.md §4.5's new category).
type DeviceOp int

const (
	DeviceFetch DeviceOp = iota
	DeviceFlush
)

// DevicePayload carries FETCH/FLUSH arguments and results.
type DevicePayload struct {
	Op     DeviceOp
	Buffer []byte
}

// Request is the envelope dispatched to exactly one file's driver. Exactly
// one of the category-specific payload fields matching Category is
// populated.
type Request struct {
	File     *file.File
	Category Category

	Dir     *DirPayload
	Stream  *StreamPayload
	Program *ProgramPayload
	Tensor  *TensorPayload
	Device  *DevicePayload

	Result   Result
	Callback func(r *Request)
	UserData any

	SubmittedAt time.Time
}

// Handler is implemented by any driver that can process a Request. Kept
// separate from file.Driver (which only covers Init/Deinit) so that file
// never needs to know about the request envelope, avoiding an import
// cycle: package driver's Driver interface embeds both file.Driver and
// this Handler.
type Handler interface {
	Handle(r *Request) bool
}

// Dispatch stamps SubmittedAt and forwards r to its file's driver. It
// returns false when the driver rejects the request outright (meaning the
// caller, not the driver, owns r and no callback will fire) — mirroring
// upd_req's boolean return. A file whose driver does not implement Handler
// rejects every request with ResultInvalid.
func Dispatch(r *Request) bool {
	r.SubmittedAt = time.Now()

	h, ok := r.File.Driver.(Handler)
	if !ok {
		r.Result = ResultInvalid
		return false
	}
	return h.Handle(r)
}
