package ipc

import (
	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/kernel"
)

var (
	// ErrTransport marks failures of the send primitive itself: the request produced no reply, so
	// the buffer holds no Result. Service-level failures are reported as *ResultError instead.
	ErrTransport = errors.New("ipc transport failure")
	// ErrMalformedRequest is returned when a request's words do not match its header
	ErrMalformedRequest = errors.New("malformed ipc request")
	// ErrMalformedReply is returned when a reply's words do not match what the caller expects
	ErrMalformedReply = errors.New("malformed ipc reply")
	// ErrCallInProgress is returned by Thread.Begin while an earlier call on the same thread has not
	// released its Reply
	ErrCallInProgress = errors.New("a call is already in progress on this thread")
)

// Transport delivers a command buffer to the service behind a session and blocks until the reply
// has been written back into the same buffer
type Transport interface {
	SendSyncRequest(session kernel.Handle, buffer *CommandBuffer) error
}
