package ipc

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/kernel"
)

// Request is a call being marshalled into a Thread's command buffer. Plain words are written
// first, then translate parameters, in exactly the counts given to Thread.Begin. The first
// marshalling mistake is remembered and returned by Send.
//
// A Request shares its buffer with the Reply, so every method panics once Send has been called.
type Request struct {
	thread *Thread
	header Header
	cursor int
	err    error
	sent   bool
}

func (r *Request) checkUsable() {
	if r.sent {
		panic(errors.AssertionFailedf("command %#x request used after it was sent", r.header.CommandID()))
	}
}

func (r *Request) fail(err error) *Request {
	if r.err == nil {
		r.err = err
	}
	return r
}

func (r *Request) normalEnd() int {
	return 1 + r.header.NormalParams()
}

func (r *Request) end() int {
	return r.header.Words()
}

// Header returns the header word Begin wrote
func (r *Request) Header() Header {
	r.checkUsable()
	return r.header
}

// Word appends a plain parameter word
func (r *Request) Word(value uint32) *Request {
	r.checkUsable()

	if r.cursor >= r.normalEnd() {
		return r.fail(errors.Wrapf(ErrMalformedRequest, "%s: more than %d normal words written", r.header, r.header.NormalParams()))
	}

	r.thread.buffer[r.cursor] = value
	r.cursor++
	return r
}

// Words appends several plain parameter words
func (r *Request) Words(values ...uint32) *Request {
	for _, value := range values {
		r.Word(value)
	}
	return r
}

func (r *Request) translate(descriptor uint32, values ...uint32) *Request {
	if r.cursor < r.normalEnd() {
		return r.fail(errors.Wrapf(ErrMalformedRequest, "%s: translate parameter written after %d of %d normal words", r.header, r.cursor-1, r.header.NormalParams()))
	}
	if r.cursor+1+len(values) > r.end() {
		return r.fail(errors.Wrapf(ErrMalformedRequest, "%s: translate parameter of %d words does not fit", r.header, 1+len(values)))
	}

	r.thread.buffer[r.cursor] = descriptor
	copy(r.thread.buffer[r.cursor+1:], values)
	r.cursor += 1 + len(values)
	return r
}

func handleWords(handles []kernel.Handle) []uint32 {
	words := make([]uint32, len(handles))
	for i, handle := range handles {
		words[i] = uint32(handle)
	}
	return words
}

// Handles appends handles the receiver gets its own copies of
func (r *Request) Handles(handles ...kernel.Handle) *Request {
	r.checkUsable()

	if len(handles) == 0 || len(handles) > maxHandlesPerDescriptor {
		return r.fail(errors.Wrapf(ErrMalformedRequest, "%d handles in one descriptor", len(handles)))
	}
	return r.translate(DescSharedHandles(len(handles)), handleWords(handles)...)
}

// MoveHandles appends handles whose ownership passes to the receiver
func (r *Request) MoveHandles(handles ...kernel.Handle) *Request {
	r.checkUsable()

	if len(handles) == 0 || len(handles) > maxHandlesPerDescriptor {
		return r.fail(errors.Wrapf(ErrMalformedRequest, "%d handles in one descriptor", len(handles)))
	}
	return r.translate(DescMoveHandles(len(handles)), handleWords(handles)...)
}

// CallingProcessID appends a placeholder the kernel replaces with the sender's process id
func (r *Request) CallingProcessID() *Request {
	r.checkUsable()
	return r.translate(DescCallingProcessID(), 0)
}

// StaticBuffer appends a buffer to be copied into the receiver's static buffer id
func (r *Request) StaticBuffer(id int, addr uint32, size int) *Request {
	r.checkUsable()

	if id < 0 || id >= StaticBufferCount || size < 0 || size > maxStaticBufferSize {
		return r.fail(errors.Wrapf(ErrMalformedRequest, "static buffer %d of %#x bytes", id, size))
	}
	return r.translate(DescStaticBuffer(size, id), addr)
}

// PXIBuffer appends a buffer for the PXI bridge
func (r *Request) PXIBuffer(id int, addr uint32, size int, readOnly bool) *Request {
	r.checkUsable()

	if id < 0 || id > maxStaticBufferID || size < 0 || size > maxPXIBufferSize {
		return r.fail(errors.Wrapf(ErrMalformedRequest, "PXI buffer %d of %#x bytes", id, size))
	}
	return r.translate(DescPXIBuffer(size, id, readOnly), addr)
}

// Buffer appends a buffer mapped into the receiver with the given rights
func (r *Request) Buffer(addr uint32, size int, rights BufferRights) *Request {
	r.checkUsable()

	if size < 0 || size > maxMappedBufferSize {
		return r.fail(errors.Wrapf(ErrMalformedRequest, "mapped buffer of %#x bytes", size))
	}
	return r.translate(DescBuffer(size, rights), addr)
}

// Err returns the first marshalling error, if any
func (r *Request) Err() error {
	r.checkUsable()
	return r.err
}

// Send delivers the request and blocks until the service replies. If the request was
// malformed it is not sent. A failure of the transport itself is marked with ErrTransport. In both
// cases the thread is free for the next call.
//
// On success the returned Reply must be released before the thread can begin another call.
func (r *Request) Send(session kernel.Handle) (*Reply, error) {
	r.checkUsable()
	r.sent = true

	thread := r.thread
	if r.err == nil && r.cursor != r.end() {
		r.err = errors.Wrapf(ErrMalformedRequest, "%s: only %d of %d words written", r.header, r.cursor, r.end())
	}
	if r.err != nil {
		thread.finish()
		return nil, r.err
	}

	thread.logger.Debug("Request::Send", slog.Int("Command", int(r.header.CommandID())), slog.Any("Session", session))

	err := thread.transport.SendSyncRequest(session, &thread.buffer)
	if err != nil {
		thread.finish()
		return nil, errors.Mark(errors.Wrapf(err, "command %#x on session %s", r.header.CommandID(), session), ErrTransport)
	}

	return &Reply{thread: thread, request: r.header}, nil
}
