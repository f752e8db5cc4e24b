package ipc

import (
	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/kernel"
)

// Reply is a read view over the command buffer after the service answered. Word 1 is always the
// Result; the plain reply words follow it and the translate parameters follow those.
//
// Release hands the buffer back to the Thread. Every method panics afterwards.
type Reply struct {
	thread   *Thread
	request  Header
	released bool
}

func (r *Reply) checkUsable() {
	if r.released {
		panic(errors.AssertionFailedf("command %#x reply used after it was released", r.request.CommandID()))
	}
}

// Header returns the reply header word
func (r *Reply) Header() Header {
	r.checkUsable()
	return Header(r.thread.buffer[0])
}

// Result returns the status word
func (r *Reply) Result() Result {
	r.checkUsable()
	return Result(r.thread.buffer[1])
}

// Err returns the status word as an error, nil on success
func (r *Reply) Err() error {
	return r.Result().Err()
}

// Expect checks that the reply carries at least the given number of plain words after the Result
// and translate words. Callers use it before reading reply values.
func (r *Reply) Expect(words, translateWords int) error {
	header := r.Header()

	if header.Words() > CommandBufferWords {
		return errors.Wrapf(ErrMalformedReply, "%s does not fit a command buffer", header)
	}
	if header.NormalParams() < 1+words || header.TranslateParams() < translateWords {
		return errors.Wrapf(ErrMalformedReply, "%s: expected %d normal and %d translate words", header, 1+words, translateWords)
	}
	return nil
}

// Word returns the index'th plain word after the Result
func (r *Reply) Word(index int) uint32 {
	r.checkUsable()

	if index < 0 || 2+index >= CommandBufferWords {
		panic(errors.AssertionFailedf("reply word %d is outside the command buffer", index))
	}
	return r.thread.buffer[2+index]
}

// TranslateParams decodes the reply's translate section
func (r *Reply) TranslateParams() ([]TranslateParam, error) {
	header := r.Header()
	if header.Words() > CommandBufferWords {
		return nil, errors.Wrapf(ErrMalformedReply, "%s does not fit a command buffer", header)
	}

	start := 1 + header.NormalParams()
	params, err := ParseTranslateParams(r.thread.buffer[start:header.Words()])
	if err != nil {
		return nil, errors.Mark(err, ErrMalformedReply)
	}
	return params, nil
}

// Handle returns the index'th handle carried by the reply's handle descriptors, in order
func (r *Reply) Handle(index int) (kernel.Handle, error) {
	if index < 0 {
		return kernel.InvalidHandle, errors.Newf("handle index %d is negative", index)
	}

	params, err := r.TranslateParams()
	if err != nil {
		return kernel.InvalidHandle, err
	}

	seen := 0
	for _, param := range params {
		kind := param.Descriptor.Kind
		if kind != DescriptorSharedHandles && kind != DescriptorMoveHandles {
			continue
		}

		if index < seen+len(param.Values) {
			return kernel.Handle(param.Values[index-seen]), nil
		}
		seen += len(param.Values)
	}

	return kernel.InvalidHandle, errors.Wrapf(ErrMalformedReply, "reply carries %d handles, wanted index %d", seen, index)
}

// Release ends the call, freeing the thread for the next one
func (r *Reply) Release() {
	r.checkUsable()
	r.released = true
	r.thread.finish()
}
