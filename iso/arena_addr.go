package iso

import "unsafe"

// capAddr returns the address of a slice's backing array, used by Arena to
// determine whether a given allocation was carved from the strip or the
// heap. This is the Go analogue of the source's pointer-range containment
// check (begin <= ptr < end) used by upd_iso_unstack.
func capAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
