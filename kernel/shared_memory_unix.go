//go:build unix

package kernel

import (
	"golang.org/x/sys/unix"
)

func mapShared(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
}

func unmapShared(data []byte) error {
	return unix.Munmap(data)
}
