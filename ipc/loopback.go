package ipc

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/kernel"
	"github.com/dolthub/swiss"
)

const firstSessionHandle kernel.Handle = 0x40000000

type loopbackSession struct {
	name    string
	service Service
	// services handle one request at a time
	mutex sync.Mutex
}

// Loopback is an in-process Transport. Each session is bound to a Service, and SendSyncRequest
// performs the kernel's part of the exchange: it translates handles and the calling process id on
// the way in and handles on the way out.
type Loopback struct {
	logger    *slog.Logger
	kern      kernel.Kernel
	processID uint32

	mutex       sync.RWMutex
	nextSession kernel.Handle
	sessions    *swiss.Map[kernel.Handle, *loopbackSession]
}

var _ Transport = &Loopback{}

// NewLoopback creates a transport whose callers all report processID
func NewLoopback(logger *slog.Logger, kern kernel.Kernel, processID uint32) *Loopback {
	return &Loopback{
		logger:      logger,
		kern:        kern,
		processID:   processID,
		nextSession: firstSessionHandle,
		sessions:    swiss.NewMap[kernel.Handle, *loopbackSession](8),
	}
}

// Connect opens a session to service
func (l *Loopback) Connect(name string, service Service) kernel.Handle {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	session := l.nextSession
	l.nextSession++
	l.sessions.Put(session, &loopbackSession{name: name, service: service})

	l.logger.Debug("Loopback::Connect", slog.String("Service", name), slog.Any("Session", session))
	return session
}

// Disconnect closes a session. Later requests on it fail at the transport level.
func (l *Loopback) Disconnect(session kernel.Handle) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.sessions.Has(session) {
		return errors.Wrapf(kernel.ErrInvalidHandle, "session %s", session)
	}
	l.sessions.Delete(session)
	return nil
}

func (l *Loopback) session(session kernel.Handle) (*loopbackSession, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	s, ok := l.sessions.Get(session)
	if !ok {
		return nil, errors.Wrapf(kernel.ErrInvalidHandle, "session %s", session)
	}
	return s, nil
}

// translateHandles gives the receiving side its own copies of shared handles. Moved handles are
// passed through as they are. On failure the copies made so far are closed.
func (l *Loopback) translateHandles(params []TranslateParam) error {
	var duplicated []kernel.Handle

	for _, param := range params {
		if param.Descriptor.Kind != DescriptorSharedHandles {
			continue
		}

		for i, value := range param.Values {
			handle := kernel.Handle(value)
			if handle == kernel.CurrentProcess || handle == kernel.InvalidHandle {
				continue
			}

			dup, err := l.kern.DuplicateHandle(handle)
			if err != nil {
				for _, d := range duplicated {
					closeErr := l.kern.CloseHandle(d)
					if closeErr != nil {
						l.logger.Error("error closing duplicated handle after a failed translation", slog.Any("error", closeErr))
					}
				}
				return err
			}

			duplicated = append(duplicated, dup)
			param.Values[i] = uint32(dup)
		}
	}

	return nil
}

func (l *Loopback) SendSyncRequest(session kernel.Handle, buffer *CommandBuffer) error {
	s, err := l.session(session)
	if err != nil {
		return err
	}

	header := Header(buffer[0])
	if header.Words() > CommandBufferWords {
		return errors.Wrapf(ErrMalformedRequest, "%s does not fit a command buffer", header)
	}

	l.logger.Debug("Loopback::SendSyncRequest", slog.String("Service", s.name), slog.Int("Command", int(header.CommandID())))

	// The service works on a copy so the caller's words are only replaced by a complete reply
	var incoming CommandBuffer
	copy(incoming[:], buffer[:header.Words()])

	translateStart := 1 + header.NormalParams()
	params, err := ParseTranslateParams(incoming[translateStart:header.Words()])
	if err != nil {
		return err
	}

	for _, param := range params {
		if param.Descriptor.Kind == DescriptorCallingProcessID {
			param.Values[0] = l.processID
		}
	}

	err = l.translateHandles(params)
	if err != nil {
		return errors.Wrapf(err, "translating request handles for %s", s.name)
	}

	request := &ServerRequest{
		header:    header,
		words:     incoming[1:translateStart],
		translate: params,
	}
	var reply ReplyWriter

	s.mutex.Lock()
	s.service.HandleRequest(request, &reply)
	s.mutex.Unlock()

	if !reply.written {
		reply.Fail(ResultInvalidCommand)
	}

	normal := 1 + len(reply.words)
	replyHeader := MakeHeader(header.CommandID(), normal, len(reply.translate))
	if 1+normal+len(reply.translate) > CommandBufferWords {
		return errors.Wrapf(ErrMalformedReply, "%s replied with %d normal and %d translate words", s.name, normal, len(reply.translate))
	}

	replyParams, err := ParseTranslateParams(reply.translate)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s reply", s.name), ErrMalformedReply)
	}
	err = l.translateHandles(replyParams)
	if err != nil {
		return errors.Wrapf(err, "translating reply handles for %s", s.name)
	}

	*buffer = CommandBuffer{}
	buffer[0] = uint32(replyHeader)
	buffer[1] = uint32(reply.result)
	copy(buffer[2:], reply.words)
	copy(buffer[1+normal:], reply.translate)

	return nil
}
