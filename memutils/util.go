package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that addresses, sizes or alignments are expressed in
type Number interface {
	constraints.Integer
}

// CheckPow2 returns PowerOfTwoError, annotated with name, if number is not a power of two. Zero is
// rejected as well.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// IsAligned reports whether value is a multiple of alignment, which must be a power of two
func IsAligned(value int, alignment uint) bool {
	return value&int(alignment-1) == 0
}
