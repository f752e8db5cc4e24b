package ipc

import (
	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/kernel"
)

// Service answers requests delivered by a Loopback session
type Service interface {
	HandleRequest(request *ServerRequest, reply *ReplyWriter)
}

// ServiceFunc adapts a function to the Service interface
type ServiceFunc func(request *ServerRequest, reply *ReplyWriter)

func (f ServiceFunc) HandleRequest(request *ServerRequest, reply *ReplyWriter) {
	f(request, reply)
}

// ServerRequest is the service-side view of a request after the kernel translated it: copied
// handles are the service's own, and the calling process id has been filled in.
type ServerRequest struct {
	header    Header
	words     []uint32
	translate []TranslateParam
}

func (r *ServerRequest) Header() Header { return r.header }

func (r *ServerRequest) CommandID() uint16 { return r.header.CommandID() }

// Expect checks the request carries exactly the given numbers of normal and translate words
func (r *ServerRequest) Expect(words, translateWords int) error {
	if r.header.NormalParams() != words || r.header.TranslateParams() != translateWords {
		return errors.Wrapf(ErrMalformedRequest, "%s: expected %d normal and %d translate words", r.header, words, translateWords)
	}
	return nil
}

// Word returns the index'th plain parameter
func (r *ServerRequest) Word(index int) uint32 {
	if index < 0 || index >= len(r.words) {
		panic(errors.AssertionFailedf("request word %d is outside %d normal words", index, len(r.words)))
	}
	return r.words[index]
}

// TranslateParams returns the translated descriptors and their values
func (r *ServerRequest) TranslateParams() []TranslateParam { return r.translate }

// Handle returns the index'th handle carried by the request's handle descriptors, in order
func (r *ServerRequest) Handle(index int) (kernel.Handle, error) {
	seen := 0
	for _, param := range r.translate {
		kind := param.Descriptor.Kind
		if kind != DescriptorSharedHandles && kind != DescriptorMoveHandles {
			continue
		}

		if index >= seen && index < seen+len(param.Values) {
			return kernel.Handle(param.Values[index-seen]), nil
		}
		seen += len(param.Values)
	}

	return kernel.InvalidHandle, errors.Wrapf(ErrMalformedRequest, "request carries %d handles, wanted index %d", seen, index)
}

// CallingProcessID returns the sender's process id if the request asked for it
func (r *ServerRequest) CallingProcessID() (uint32, bool) {
	for _, param := range r.translate {
		if param.Descriptor.Kind == DescriptorCallingProcessID {
			return param.Values[0], true
		}
	}
	return 0, false
}

// ReplyWriter collects a service's reply. Plain words and translate parameters are kept apart and
// laid out in the right order once the service returns.
type ReplyWriter struct {
	written   bool
	result    Result
	words     []uint32
	translate []uint32
}

// Result sets the status word
func (w *ReplyWriter) Result(result Result) *ReplyWriter {
	w.written = true
	w.result = result
	return w
}

// Fail discards anything written so far and replies with only a failing result
func (w *ReplyWriter) Fail(result Result) {
	w.written = true
	w.result = result
	w.words = nil
	w.translate = nil
}

// Word appends a plain reply word after the Result
func (w *ReplyWriter) Word(value uint32) *ReplyWriter {
	w.written = true
	w.words = append(w.words, value)
	return w
}

// Handles appends handles the caller receives copies of
func (w *ReplyWriter) Handles(handles ...kernel.Handle) *ReplyWriter {
	w.written = true
	w.translate = append(w.translate, DescSharedHandles(len(handles)))
	w.translate = append(w.translate, handleWords(handles)...)
	return w
}

// MoveHandles appends handles whose ownership passes to the caller
func (w *ReplyWriter) MoveHandles(handles ...kernel.Handle) *ReplyWriter {
	w.written = true
	w.translate = append(w.translate, DescMoveHandles(len(handles)))
	w.translate = append(w.translate, handleWords(handles)...)
	return w
}
