package kernel

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/memutils"
)

// PageSize is the granularity of shared memory blocks and mappings
const PageSize = 0x1000

// SharedMemory is a page-aligned block of memory that several agents read and write
// concurrently. Cross-agent fields inside it must only be touched through sync/atomic.
type SharedMemory struct {
	mutex  sync.Mutex
	data   []byte
	closed bool
}

// NewSharedMemory allocates a zeroed block of at least size bytes, rounded up to PageSize
func NewSharedMemory(size int) (*SharedMemory, error) {
	if size <= 0 {
		return nil, errors.Newf("shared memory size must be positive, got %d", size)
	}

	size = memutils.AlignUp(size, PageSize)
	data, err := mapShared(size)
	if err != nil {
		return nil, errors.Wrapf(err, "could not allocate %#x bytes of shared memory", size)
	}

	return &SharedMemory{data: data}, nil
}

// Size is the length of the block in bytes
func (m *SharedMemory) Size() int { return len(m.data) }

// Bytes returns the whole block. The slice is invalid once the block is closed.
func (m *SharedMemory) Bytes() []byte { return m.data }

// Close releases the block. Closing twice does nothing.
func (m *SharedMemory) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	err := unmapShared(m.data)
	m.data = nil
	return err
}
