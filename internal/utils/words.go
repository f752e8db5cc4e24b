package utils

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Uint32At returns a pointer to the 32-bit word at offset within buf so that it can be used with
// sync/atomic. buf is expected to be shared memory that outlives every returned pointer.
func Uint32At(buf []byte, offset int) *uint32 {
	if offset < 0 || offset+4 > len(buf) {
		panic(errors.AssertionFailedf("word offset %#x is outside a %#x byte buffer", offset, len(buf)))
	}

	ptr := unsafe.Pointer(&buf[offset])
	if uintptr(ptr)%4 != 0 {
		panic(errors.AssertionFailedf("word offset %#x is not 4-byte aligned", offset))
	}

	return (*uint32)(ptr)
}
