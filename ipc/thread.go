package ipc

import (
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// StaticBufferCount is the number of static buffer slots a thread can receive into
const StaticBufferCount = 16

// Thread is the per-thread IPC state: the command buffer every call is marshalled in, and the
// table of static buffers replies may copy data into. Only one call can be in flight on a Thread
// at a time; give each goroutine that makes calls its own Thread.
type Thread struct {
	logger    *slog.Logger
	transport Transport

	buffer        CommandBuffer
	staticBuffers [StaticBufferCount * 2]uint32

	inFlight atomic.Bool
}

func NewThread(logger *slog.Logger, transport Transport) *Thread {
	return &Thread{
		logger:    logger,
		transport: transport,
	}
}

// SetStaticBuffer registers a receive buffer for static buffer id
func (t *Thread) SetStaticBuffer(id int, addr uint32, size int) error {
	if id < 0 || id >= StaticBufferCount {
		return errors.Newf("static buffer id %d is outside [0, %d)", id, StaticBufferCount)
	}
	if size < 0 || size > maxStaticBufferSize {
		return errors.Newf("static buffer size %#x is outside [0, %#x]", size, maxStaticBufferSize)
	}

	t.staticBuffers[id*2] = DescStaticBuffer(size, id)
	t.staticBuffers[id*2+1] = addr
	return nil
}

// StaticBuffer returns the receive buffer registered for id. ok is false if none was set.
func (t *Thread) StaticBuffer(id int) (addr uint32, size int, ok bool) {
	if id < 0 || id >= StaticBufferCount || t.staticBuffers[id*2] == 0 {
		return 0, 0, false
	}

	descriptor, err := ParseDescriptor(t.staticBuffers[id*2])
	if err != nil {
		return 0, 0, false
	}
	return t.staticBuffers[id*2+1], descriptor.Size, true
}

// Begin writes the header of a new call and returns the Request to fill in. The call is not
// finished until the Reply returned by Request.Send is released, or Send fails.
func (t *Thread) Begin(commandID uint16, normalParams, translateParams int) (*Request, error) {
	if normalParams < 0 || translateParams < 0 || 1+normalParams+translateParams > CommandBufferWords {
		return nil, errors.Wrapf(ErrMalformedRequest, "%d normal and %d translate words do not fit a command buffer", normalParams, translateParams)
	}

	if !t.inFlight.CompareAndSwap(false, true) {
		return nil, errors.Wrapf(ErrCallInProgress, "beginning command %#x", commandID)
	}

	header := MakeHeader(commandID, normalParams, translateParams)
	t.buffer[0] = uint32(header)

	return &Request{
		thread: t,
		header: header,
		cursor: 1,
	}, nil
}

func (t *Thread) finish() {
	t.inFlight.Store(false)
}
