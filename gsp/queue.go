package gsp

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/internal/utils"
)

const (
	// SharedMemorySize is the size of the block the GPU service shares with each client
	SharedMemorySize = 0x1000
	// MaxThreads is the number of clients the shared block has room for
	MaxThreads = 4
	// QueueCapacity is the number of command slots per client
	QueueCapacity = 15

	commandQueueOffset = 0x800
	commandQueueStride = 0x200
	slotOffset         = 0x20
	slotSize           = CommandWords * 4
)

// ErrQueueFull is returned by Submit when every slot is pending. Nothing was written; retry once
// the GPU has consumed some commands.
var ErrQueueFull = errors.New("GX command queue is full")

// Doorbell wakes the consumer of a CommandQueue
type Doorbell interface {
	TriggerCmdReqQueue() error
}

// QueueStatus is a snapshot of a command queue header
type QueueStatus struct {
	Cursor  int
	Pending int
	Flags   uint8
}

type commandRing struct {
	header *uint32
	slots  []byte
}

func newCommandRing(shared []byte, thread int) (commandRing, error) {
	if thread < 0 || thread >= MaxThreads {
		return commandRing{}, errors.Newf("thread index %d is outside [0, %d)", thread, MaxThreads)
	}

	offset := commandQueueOffset + thread*commandQueueStride
	if offset+commandQueueStride > len(shared) {
		return commandRing{}, errors.Newf("a %#x byte block has no command queue for thread %d", len(shared), thread)
	}

	return commandRing{
		header: utils.Uint32At(shared, offset),
		slots:  shared[offset+slotOffset : offset+commandQueueStride],
	}, nil
}

func (r commandRing) slot(index int) []byte {
	return r.slots[index*slotSize : (index+1)*slotSize]
}

func (r commandRing) status() QueueStatus {
	header := utils.UnpackRingHeader(atomic.LoadUint32(r.header))
	return QueueStatus{
		Cursor:  header.Cursor,
		Pending: header.Count,
		Flags:   header.Flags,
	}
}

// CommandQueue is the producer side of a client's GX command ring in shared memory. The header
// word packs the cursor of the oldest pending slot (byte 0), the pending count (byte 1) and the
// GPU's error flags (byte 2). The GPU process consumes slots concurrently, so the header is only
// updated with compare-and-swap.
//
// A CommandQueue has a single producer. Submit must not be called from several goroutines at once.
type CommandQueue struct {
	ring     commandRing
	doorbell Doorbell
}

// NewCommandQueue returns the queue of client thread within the shared block
func NewCommandQueue(shared []byte, thread int, doorbell Doorbell) (*CommandQueue, error) {
	ring, err := newCommandRing(shared, thread)
	if err != nil {
		return nil, err
	}

	return &CommandQueue{ring: ring, doorbell: doorbell}, nil
}

// Submit copies command into the next free slot and publishes it. If the queue was empty the
// doorbell is rung, since the consumer may be idle; otherwise the consumer is known to still be
// draining. A doorbell failure is returned, but the command stays queued.
func (q *CommandQueue) Submit(command Command) error {
	old := atomic.LoadUint32(q.ring.header)
	header := utils.UnpackRingHeader(old)

	if header.Count >= QueueCapacity {
		return errors.Wrapf(ErrQueueFull, "%d commands pending", header.Count)
	}

	// The consumer only ever advances the cursor and decrements the count together, so the free
	// slot stays the same across retries
	slot := q.ring.slot(header.Next(QueueCapacity))
	for i, word := range command {
		binary.LittleEndian.PutUint32(slot[i*4:], word)
	}

	for {
		next := header
		next.Count++

		if atomic.CompareAndSwapUint32(q.ring.header, old, next.Pack()) {
			header = next
			break
		}

		old = atomic.LoadUint32(q.ring.header)
		header = utils.UnpackRingHeader(old)
	}

	if header.Count == 1 {
		err := q.doorbell.TriggerCmdReqQueue()
		if err != nil {
			return errors.Wrapf(err, "%s command was queued but the GPU could not be notified", command.ID())
		}
	}

	return nil
}

// Status reads the header once
func (q *CommandQueue) Status() QueueStatus {
	return q.ring.status()
}

// Consumer is the GPU side of a command ring. It is used by the GPU service and by simulations of
// it.
type Consumer struct {
	ring commandRing
}

func NewConsumer(shared []byte, thread int) (*Consumer, error) {
	ring, err := newCommandRing(shared, thread)
	if err != nil {
		return nil, err
	}

	return &Consumer{ring: ring}, nil
}

// Pop removes the oldest pending command. ok is false when nothing is pending.
func (c *Consumer) Pop() (command Command, ok bool) {
	for {
		old := atomic.LoadUint32(c.ring.header)
		header := utils.UnpackRingHeader(old)
		if header.Count == 0 {
			return Command{}, false
		}

		slot := c.ring.slot(header.Cursor % QueueCapacity)
		for i := range command {
			command[i] = binary.LittleEndian.Uint32(slot[i*4:])
		}

		header.Cursor = (header.Cursor + 1) % QueueCapacity
		header.Count--

		if atomic.CompareAndSwapUint32(c.ring.header, old, header.Pack()) {
			return command, true
		}
	}
}

// SetFlags records error flags in the header, as the GPU does when a command fails
func (c *Consumer) SetFlags(flags uint8) {
	for {
		old := atomic.LoadUint32(c.ring.header)
		header := utils.UnpackRingHeader(old)
		header.Flags = flags

		if atomic.CompareAndSwapUint32(c.ring.header, old, header.Pack()) {
			return
		}
	}
}

// Status reads the header once
func (c *Consumer) Status() QueueStatus {
	return c.ring.status()
}
