package ipc_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/internal/mocks"
	"github.com/devkitPro/libctru-sub001/ipc"
	"github.com/devkitPro/libctru-sub001/kernel"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testProcessID = 0x2A

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// adderService replies to command 1 with the sum of its words, to command 2 by signaling the event
// it was handed, and to command 3 by moving a new event back to the caller
type adderService struct {
	kern       *kernel.Sim
	lastPID    uint32
	lastHandle kernel.Handle
}

func (s *adderService) HandleRequest(request *ipc.ServerRequest, reply *ipc.ReplyWriter) {
	switch request.CommandID() {
	case 1:
		if request.Expect(2, 0) != nil {
			reply.Fail(ipc.MakeResult(ipc.LevelPermanent, ipc.SummaryInvalidArgument, ipc.ModuleApplication, ipc.DescriptionInvalidSize))
			return
		}
		reply.Result(ipc.ResultSuccess).Word(request.Word(0) + request.Word(1))
	case 2:
		handle, err := request.Handle(0)
		if err != nil {
			reply.Fail(ipc.MakeResult(ipc.LevelPermanent, ipc.SummaryInvalidArgument, ipc.ModuleApplication, ipc.DescriptionInvalidHandle))
			return
		}
		s.lastHandle = handle
		s.lastPID, _ = request.CallingProcessID()

		if s.kern.SignalEvent(handle) != nil {
			reply.Fail(ipc.MakeResult(ipc.LevelPermanent, ipc.SummaryInvalidState, ipc.ModuleApplication, ipc.DescriptionInvalidHandle))
			return
		}
		reply.Result(ipc.ResultSuccess)
	case 3:
		handle, err := s.kern.CreateEvent(kernel.ResetSticky)
		if err != nil {
			reply.Fail(ipc.MakeResult(ipc.LevelPermanent, ipc.SummaryOutOfResource, ipc.ModuleApplication, ipc.DescriptionOutOfMemory))
			return
		}
		reply.Result(ipc.ResultSuccess).Word(7).MoveHandles(handle)
	}
}

func readyLoopback(t *testing.T) (*kernel.Sim, *ipc.Thread, kernel.Handle, *adderService) {
	logger := testLogger()
	sim := kernel.NewSim(logger)
	service := &adderService{kern: sim}

	loopback := ipc.NewLoopback(logger, sim, testProcessID)
	session := loopback.Connect("adder", service)

	return sim, ipc.NewThread(logger, loopback), session, service
}

func TestCallRoundTrip(t *testing.T) {
	_, thread, session, _ := readyLoopback(t)

	request, err := thread.Begin(1, 2, 0)
	require.NoError(t, err)

	reply, err := request.Word(40).Word(2).Send(session)
	require.NoError(t, err)
	require.NoError(t, reply.Err())
	require.NoError(t, reply.Expect(1, 0))
	require.Equal(t, ipc.MakeHeader(1, 2, 0), reply.Header())
	require.Equal(t, uint32(42), reply.Word(0))
	reply.Release()

	// A service-level failure is a ResultError, not a transport error
	request, err = thread.Begin(1, 1, 0)
	require.NoError(t, err)
	reply, err = request.Word(1).Send(session)
	require.NoError(t, err)

	var resultErr *ipc.ResultError
	require.True(t, errors.As(reply.Err(), &resultErr))
	require.False(t, errors.Is(reply.Err(), ipc.ErrTransport))
	require.Equal(t, ipc.DescriptionInvalidSize, resultErr.Result.Description())
	reply.Release()
}

func TestCallTranslatesHandles(t *testing.T) {
	sim, thread, session, service := readyLoopback(t)

	event, err := sim.CreateEvent(kernel.ResetSticky)
	require.NoError(t, err)

	request, err := thread.Begin(2, 0, 4)
	require.NoError(t, err)
	reply, err := request.Handles(event).CallingProcessID().Send(session)
	require.NoError(t, err)
	require.NoError(t, reply.Err())
	reply.Release()

	// The service saw its own copy of the handle, which names the same event
	require.NotEqual(t, event, service.lastHandle)
	require.Equal(t, uint32(testProcessID), service.lastPID)

	ours, err := sim.Event(event)
	require.NoError(t, err)
	require.True(t, ours.Signaled())

	request, err = thread.Begin(3, 0, 0)
	require.NoError(t, err)
	reply, err = request.Send(session)
	require.NoError(t, err)
	require.NoError(t, reply.Expect(1, 2))
	require.Equal(t, uint32(7), reply.Word(0))

	moved, err := reply.Handle(0)
	require.NoError(t, err)
	_, err = reply.Handle(1)
	require.ErrorIs(t, err, ipc.ErrMalformedReply)
	reply.Release()

	require.NoError(t, sim.SignalEvent(moved))
	require.NoError(t, sim.WaitEvent(context.Background(), moved))
}

func TestOneCallPerThread(t *testing.T) {
	_, thread, session, _ := readyLoopback(t)

	request, err := thread.Begin(1, 2, 0)
	require.NoError(t, err)

	_, err = thread.Begin(1, 2, 0)
	require.ErrorIs(t, err, ipc.ErrCallInProgress)

	reply, err := request.Words(1, 2).Send(session)
	require.NoError(t, err)

	_, err = thread.Begin(1, 2, 0)
	require.ErrorIs(t, err, ipc.ErrCallInProgress)

	reply.Release()

	request, err = thread.Begin(1, 2, 0)
	require.NoError(t, err)
	reply, err = request.Words(3, 4).Send(session)
	require.NoError(t, err)
	require.Equal(t, uint32(7), reply.Word(0))
	reply.Release()
}

func TestRequestAndReplyCannotBeReused(t *testing.T) {
	_, thread, session, _ := readyLoopback(t)

	request, err := thread.Begin(1, 2, 0)
	require.NoError(t, err)
	reply, err := request.Words(1, 1).Send(session)
	require.NoError(t, err)

	require.Panics(t, func() { request.Word(5) })
	require.Panics(t, func() { _, _ = request.Send(session) })

	reply.Release()
	require.Panics(t, func() { reply.Result() })
	require.Panics(t, func() { reply.Release() })
}

func TestMalformedRequests(t *testing.T) {
	_, thread, session, _ := readyLoopback(t)

	_, err := thread.Begin(1, 60, 4)
	require.ErrorIs(t, err, ipc.ErrMalformedRequest)

	// Too few words: nothing is sent and the thread is free again
	request, err := thread.Begin(1, 2, 0)
	require.NoError(t, err)
	_, err = request.Word(1).Send(session)
	require.ErrorIs(t, err, ipc.ErrMalformedRequest)
	require.False(t, errors.Is(err, ipc.ErrTransport))

	// Too many words
	request, err = thread.Begin(1, 1, 0)
	require.NoError(t, err)
	request.Word(1).Word(2)
	require.ErrorIs(t, request.Err(), ipc.ErrMalformedRequest)
	_, err = request.Send(session)
	require.ErrorIs(t, err, ipc.ErrMalformedRequest)

	// Translate parameters before the normal words are finished
	request, err = thread.Begin(2, 1, 2)
	require.NoError(t, err)
	request.Handles(kernel.CurrentProcess)
	require.ErrorIs(t, request.Err(), ipc.ErrMalformedRequest)
	_, err = request.Send(session)
	require.Error(t, err)

	// Translate parameter that overruns the header
	request, err = thread.Begin(2, 0, 2)
	require.NoError(t, err)
	request.Handles(1, 2)
	require.ErrorIs(t, request.Err(), ipc.ErrMalformedRequest)
	_, err = request.Send(session)
	require.Error(t, err)

	request, err = thread.Begin(1, 2, 0)
	require.NoError(t, err)
	reply, err := request.Words(1, 2).Send(session)
	require.NoError(t, err)
	reply.Release()
}

func TestUnknownCommand(t *testing.T) {
	_, thread, session, _ := readyLoopback(t)

	request, err := thread.Begin(0x99, 0, 0)
	require.NoError(t, err)
	reply, err := request.Send(session)
	require.NoError(t, err)
	require.Equal(t, ipc.ResultInvalidCommand, reply.Result())
	reply.Release()
}

func TestTransportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	deadSession := errors.New("session closed by peer")
	transport.EXPECT().SendSyncRequest(kernel.Handle(0x50), gomock.Any()).Return(deadSession)
	transport.EXPECT().SendSyncRequest(kernel.Handle(0x50), gomock.Any()).DoAndReturn(
		func(session kernel.Handle, buffer *ipc.CommandBuffer) error {
			require.Equal(t, uint32(ipc.MakeHeader(5, 1, 0)), buffer[0])
			require.Equal(t, uint32(9), buffer[1])

			buffer[0] = uint32(ipc.MakeHeader(5, 1, 0))
			buffer[1] = uint32(ipc.ResultSuccess)
			return nil
		})

	thread := ipc.NewThread(testLogger(), transport)

	request, err := thread.Begin(5, 1, 0)
	require.NoError(t, err)
	_, err = request.Word(9).Send(0x50)
	require.True(t, errors.Is(err, ipc.ErrTransport))
	require.ErrorIs(t, err, deadSession)

	// A transport failure ends the call
	request, err = thread.Begin(5, 1, 0)
	require.NoError(t, err)
	reply, err := request.Word(9).Send(0x50)
	require.NoError(t, err)
	require.NoError(t, reply.Err())
	reply.Release()
}

func TestDisconnectedSession(t *testing.T) {
	logger := testLogger()
	sim := kernel.NewSim(logger)
	loopback := ipc.NewLoopback(logger, sim, testProcessID)
	session := loopback.Connect("adder", &adderService{kern: sim})
	require.NoError(t, loopback.Disconnect(session))
	require.ErrorIs(t, loopback.Disconnect(session), kernel.ErrInvalidHandle)

	thread := ipc.NewThread(logger, loopback)
	request, err := thread.Begin(1, 2, 0)
	require.NoError(t, err)
	_, err = request.Words(1, 2).Send(session)
	require.True(t, errors.Is(err, ipc.ErrTransport))
	require.ErrorIs(t, err, kernel.ErrInvalidHandle)
}

func TestStaticBuffers(t *testing.T) {
	thread := ipc.NewThread(testLogger(), nil)

	_, _, ok := thread.StaticBuffer(0)
	require.False(t, ok)

	require.NoError(t, thread.SetStaticBuffer(3, 0x08000000, 0x200))
	addr, size, ok := thread.StaticBuffer(3)
	require.True(t, ok)
	require.Equal(t, uint32(0x08000000), addr)
	require.Equal(t, 0x200, size)

	require.Error(t, thread.SetStaticBuffer(16, 0, 0x10))
	require.Error(t, thread.SetStaticBuffer(0, 0, 1<<18))
}
