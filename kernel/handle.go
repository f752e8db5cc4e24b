// Package kernel describes the microkernel primitives the rest of the module consumes: handles,
// events and shared memory blocks mapped at fixed addresses. Sim provides an in-process
// implementation of all of them.
package kernel

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Handle names a kernel object owned by the calling process
type Handle uint32

const (
	// InvalidHandle is never returned for a live object
	InvalidHandle Handle = 0
	// CurrentProcess is the pseudo-handle every process uses to name itself
	CurrentProcess Handle = 0xFFFF8001
)

func (h Handle) String() string {
	return fmt.Sprintf("Handle(%#x)", uint32(h))
}

var (
	// ErrInvalidHandle is returned when a handle does not name a live object of the expected type
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrAddressInUse is returned when mapping at an address that already holds a mapping
	ErrAddressInUse = errors.New("address is already mapped")
	// ErrNotMapped is returned when unmapping an address that does not hold a mapping of the block
	ErrNotMapped = errors.New("address is not mapped")
)

// Permission is the access a mapping grants
type Permission uint32

const (
	PermRead    Permission = 1
	PermWrite   Permission = 2
	PermExecute Permission = 4
	// PermDontCare lets the owner of the block decide
	PermDontCare Permission = 0x10000000

	PermReadWrite = PermRead | PermWrite
)

var permissionMapping = map[Permission]string{
	PermRead:      "PermRead",
	PermWrite:     "PermWrite",
	PermExecute:   "PermExecute",
	PermDontCare:  "PermDontCare",
	PermReadWrite: "PermReadWrite",
}

func (p Permission) String() string {
	str, ok := permissionMapping[p]
	if !ok {
		return fmt.Sprintf("Permission(%#x)", uint32(p))
	}
	return str
}
