package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is returned when no free range can satisfy a request, or when the metadata needed
// to track a free range could not be obtained
var ErrOutOfMemory error = errors.New("out of memory")
