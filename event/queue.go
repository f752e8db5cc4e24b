// Package event drains interrupt notifications relayed through shared memory and fans them out to
// callbacks and waiters.
package event

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/internal/utils"
)

const (
	// QueueStride is the size of one thread's queue in the shared block
	QueueStride = 0x40
	// QueueEntries is the number of tag bytes a queue holds
	QueueEntries = 0x34

	tagOffset = 0xC
)

// ErrQueueOverflow is returned by Push when every entry is pending. The queue's error flag is set.
var ErrQueueOverflow = errors.New("interrupt queue overflow")

// Kind identifies an interrupt source
type Kind uint8

// Queue is a view over one thread's interrupt queue in shared memory. The first word packs the read
// cursor (byte 0), the pending count (byte 1) and the error flag (byte 2); the tag bytes start at
// offset 0xC. The word is only ever updated with compare-and-swap, because the relaying process
// writes it concurrently.
type Queue struct {
	header *uint32
	tags   []byte
}

// NewQueue returns the queue of the given thread index within the shared block
func NewQueue(shared []byte, thread int) (*Queue, error) {
	offset := thread * QueueStride
	if thread < 0 || offset+QueueStride > len(shared) {
		return nil, errors.Newf("thread %d has no interrupt queue in a %#x byte block", thread, len(shared))
	}

	return &Queue{
		header: utils.Uint32At(shared, offset),
		tags:   shared[offset+tagOffset : offset+tagOffset+QueueEntries],
	}, nil
}

// Pop removes the oldest pending tag. ok is false when nothing is pending. A successful pop also
// clears the error flag.
func (q *Queue) Pop() (kind Kind, ok bool) {
	for {
		old := atomic.LoadUint32(q.header)
		header := utils.UnpackRingHeader(old)
		if header.Count == 0 {
			return 0, false
		}

		kind = Kind(q.tags[header.Cursor%QueueEntries])

		header.Cursor++
		if header.Cursor >= QueueEntries {
			header.Cursor -= QueueEntries
		}
		header.Count--
		header.Flags = 0

		if atomic.CompareAndSwapUint32(q.header, old, header.Pack()) {
			return kind, true
		}
	}
}

// Push appends a tag. It is the relaying side of the queue and is used to simulate interrupts. Only
// one goroutine may Push to a queue at a time.
func (q *Queue) Push(kind Kind) error {
	for {
		old := atomic.LoadUint32(q.header)
		header := utils.UnpackRingHeader(old)

		if header.Count >= QueueEntries {
			header.Flags = 1
			if atomic.CompareAndSwapUint32(q.header, old, header.Pack()) {
				return ErrQueueOverflow
			}
			continue
		}

		// The consumer never touches the slot past the pending range
		q.tags[header.Next(QueueEntries)] = byte(kind)
		header.Count++

		if atomic.CompareAndSwapUint32(q.header, old, header.Pack()) {
			return nil
		}
	}
}

// QueueStatus is a snapshot of a queue header
type QueueStatus struct {
	Cursor  int
	Pending int
	Error   bool
}

// Status reads the header once
func (q *Queue) Status() QueueStatus {
	header := utils.UnpackRingHeader(atomic.LoadUint32(q.header))
	return QueueStatus{
		Cursor:  header.Cursor,
		Pending: header.Count,
		Error:   header.Flags != 0,
	}
}
