// Package audio implements a discrete-stream device driver modelling a PCM
// mixer: each connected source contributes a float32 sample buffer, and
// FETCH/FLUSH-style framing (carried over the discrete-stream category,
// framed whole-buffer per spec.md's discrete-stream contract) moves mixed
// audio in and out. No audio library appears anywhere in the retrieved
// pack, so this is stdlib-only by necessity (see DESIGN.md).
package audio

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.audio"

type state struct {
	mu      sync.Mutex
	sources map[string][]float32
}

// Driver mixes named PCM sources by summation, clamped to [-1, 1]. Sources
// are added/removed via WRITE frames carrying a source-tagged buffer;
// FETCH-style READ returns the mixed result.
type Driver struct{}

func (Driver) Name() string { return Name }

func (Driver) Init(f *file.File) error {
	f.Param = &state{sources: make(map[string][]float32)}
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
	case req.StreamWrite:
		return handleWrite(r, st)
	case req.StreamRead:
		return handleRead(r, st)
	case req.StreamTruncate:
		st.mu.Lock()
		st.sources = make(map[string][]float32)
		st.mu.Unlock()
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

// frame layout: 2-byte source-name length, name bytes, then little-endian
// float32 samples filling the rest of the buffer.
func handleWrite(r *req.Request, st *state) bool {
	buf := r.Stream.Buf
	if len(buf) < 2 {
		r.Result = req.ResultInvalid
		return false
	}
	nameLen := int(binary.LittleEndian.Uint16(buf))
	if len(buf) < 2+nameLen {
		r.Result = req.ResultInvalid
		return false
	}
	name := string(buf[2 : 2+nameLen])
	sampleBytes := buf[2+nameLen:]
	if len(sampleBytes)%4 != 0 {
		r.Result = req.ResultInvalid
		return false
	}

	samples := make([]float32, len(sampleBytes)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(sampleBytes[i*4:])
		samples[i] = math.Float32frombits(bits)
	}

	st.mu.Lock()
	if len(samples) == 0 {
		delete(st.sources, name)
	} else {
		st.sources[name] = samples
	}
	st.mu.Unlock()

	r.Stream.Consumed = int64(len(buf))
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func handleRead(r *req.Request, st *state) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	maxLen := 0
	names := make([]string, 0, len(st.sources))
	for name, samples := range st.sources {
		names = append(names, name)
		if len(samples) > maxLen {
			maxLen = len(samples)
		}
	}
	sort.Strings(names)

	mixed := make([]float32, maxLen)
	for _, name := range names {
		for i, s := range st.sources[name] {
			mixed[i] += s
		}
	}
	for i, v := range mixed {
		if v > 1 {
			mixed[i] = 1
		} else if v < -1 {
			mixed[i] = -1
		}
	}

	out := make([]byte, len(mixed)*4)
	for i, v := range mixed {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	r.Stream.Buf = out
	r.Stream.Tail = true
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}
