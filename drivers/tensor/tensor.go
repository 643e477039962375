// Package tensor implements the tensor driver (META/DATA/FETCH/FLUSH),
// backed by gonum.org/v1/gonum/mat dense matrices for rank-2 tensors and a
// flat []float64 for every other rank, per SPEC_FULL.md §6.
package tensor

import (
	"gonum.org/v1/gonum/mat"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.tensor"

type state struct {
	rank     int
	shape    []int
	elemType string
	flat     []float64
	dense    *mat.Dense // populated only when rank == 2
}

// Driver holds one tensor's backing storage per file. DATA requires the
// caller to hold an exclusive lock (per spec.md §6's Tensor contract); this
// package does not itself acquire the lock — enforcing it is the caller's
// responsibility, mirroring "requests do not own their file" elsewhere in
// this runtime.
type Driver struct{}

func (Driver) Name() string { return Name }

func (Driver) Init(f *file.File) error {
	f.Param = &state{elemType: "float64"}
	return nil
}

func (Driver) Deinit(*file.File) {}

func (Driver) Categories() []req.Category { return []req.Category{req.CategoryTensor} }
func (Driver) ABIVersion() int            { return 1 }

func (Driver) Handle(r *req.Request) bool {
	if r.Category != req.CategoryTensor {
		r.Result = req.ResultInvalid
		return false
	}
	st := r.File.Param.(*state)

	switch r.Tensor.Op {
	case req.TensorMeta:
		return handleMeta(r, st)
	case req.TensorData:
		return handleData(r, st)
	case req.TensorFetch:
		return handleFetch(r, st)
	case req.TensorFlush:
		return handleFlush(r, st)
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

func handleMeta(r *req.Request, st *state) bool {
	if r.Tensor.Shape != nil {
		if !reshape(st, r.Tensor.Shape, r.Tensor.ElemType) {
			r.Result = req.ResultInvalid
			return false
		}
	}
	r.Tensor.Rank = st.rank
	r.Tensor.Shape = append([]int(nil), st.shape...)
	r.Tensor.ElemType = st.elemType
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func reshape(st *state, shape []int, elemType string) bool {
	size := 1
	for _, d := range shape {
		if d < 0 {
			return false
		}
		size *= d
	}
	st.rank = len(shape)
	st.shape = append([]int(nil), shape...)
	if elemType != "" {
		st.elemType = elemType
	}
	st.flat = make([]float64, size)
	if st.rank == 2 {
		st.dense = mat.NewDense(shape[0], shape[1], st.flat)
	} else {
		st.dense = nil
	}
	return true
}

func handleData(r *req.Request, st *state) bool {
	if len(r.Tensor.Data) > 0 {
		if len(r.Tensor.Data) != len(st.flat) {
			r.Result = req.ResultInvalid
			return false
		}
		copy(st.flat, r.Tensor.Data)
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	}

	out := make([]float64, len(st.flat))
	copy(out, st.flat)
	r.Tensor.Data = out
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func handleFetch(r *req.Request, st *state) bool {
	view := make([]byte, len(st.flat)*8)
	for i, v := range st.flat {
		putFloat64(view[i*8:], v)
	}
	r.Tensor.BufferView = view
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func handleFlush(r *req.Request, st *state) bool {
	if len(r.Tensor.BufferView)%8 != 0 || len(r.Tensor.BufferView)/8 != len(st.flat) {
		r.Result = req.ResultInvalid
		return false
	}
	for i := range st.flat {
		st.flat[i] = getFloat64(r.Tensor.BufferView[i*8:])
	}
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

// Dense exposes the rank-2 backing matrix, or nil for any other rank.
func Dense(f *file.File) *mat.Dense {
	return f.Param.(*state).dense
}
