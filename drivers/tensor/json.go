package tensor

import (
	"math"
	"strconv"

	"github.com/reactorfs/upd/file"
)

// JSON renders a tensor's flat data as a JSON array, for diagnostic and
// httpbridge-facing use. encoding/json itself refuses to marshal NaN or
// Inf (json: unsupported value), which legitimately occurs mid-computation
// in tensor data; appendFloat64 renders those as the quoted
// "NaN"/"Infinity"/"-Infinity" tokens this package's consumers already
// expect instead of failing the whole encode.
func JSON(f *file.File) []byte {
	st := f.Param.(*state)
	out := make([]byte, 0, len(st.flat)*8+2)
	out = append(out, '[')
	for i, v := range st.flat {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendFloat64(out, v)
	}
	out = append(out, ']')
	return out
}

// ShapeString renders the tensor's current shape as "[d0,d1,...]", used in
// log lines alongside JSON's data dump.
func ShapeString(f *file.File) string {
	st := f.Param.(*state)
	out := make([]byte, 0, len(st.shape)*4+2)
	out = append(out, '[')
	for i, d := range st.shape {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendInt(out, int64(d), 10)
	}
	out = append(out, ']')
	return string(out)
}

// appendFloat64 is a narrowed, float64-only port of the teacher jsonenc
// package's AppendFloat64: tensor data is always float64 (gonum's own
// vector/matrix element type), so the bitSize-parameterized original
// collapses to one case here, dropping the unused float32 path.
func appendFloat64(dst []byte, val float64) []byte {
	switch {
	case math.IsNaN(val):
		return append(dst, `"NaN"`...)
	case math.IsInf(val, 1):
		return append(dst, `"Infinity"`...)
	case math.IsInf(val, -1):
		return append(dst, `"-Infinity"`...)
	}

	format := byte('f')
	if abs := math.Abs(val); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	dst = strconv.AppendFloat(dst, val, format, -1, 64)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(dst)
		if n >= 4 && dst[n-4] == 'e' && dst[n-3] == '-' && dst[n-2] == '0' {
			dst[n-2] = dst[n-1]
			dst = dst[:n-1]
		}
	}
	return dst
}
