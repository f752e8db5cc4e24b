// Package gsp drives the GPU service: the GX command queue an application fills in shared memory,
// the interrupt relay that reports GPU events back, and the service requests that set both up.
package gsp

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/arena"
	"github.com/devkitPro/libctru-sub001/event"
	"github.com/devkitPro/libctru-sub001/ipc"
	"github.com/devkitPro/libctru-sub001/kernel"
)

// GPU interrupt kinds
const (
	EventPSC0 event.Kind = iota
	EventPSC1
	EventVBlank0
	EventVBlank1
	EventPPF
	EventP3D
	EventDMA

	// EventCount is the number of GPU interrupt kinds
	EventCount
)

var eventMapping = map[event.Kind]string{
	EventPSC0:    "PSC0",
	EventPSC1:    "PSC1",
	EventVBlank0: "VBlank0",
	EventVBlank1: "VBlank1",
	EventPPF:     "PPF",
	EventP3D:     "P3D",
	EventDMA:     "DMA",
}

// EventName returns the name of a GPU interrupt kind
func EventName(kind event.Kind) string {
	return eventMapping[kind]
}

// InitFlags indicate specific GPU subsystem behaviors to activate or deactivate
type InitFlags int32

const (
	// InitSkipAcquireRight leaves GPU rights with whoever holds them. It is meant for clients that
	// only watch interrupts.
	InitSkipAcquireRight InitFlags = 1 << iota
)

var initFlagsMapping = map[InitFlags]string{
	InitSkipAcquireRight: "InitSkipAcquireRight",
}

func (f InitFlags) String() string {
	if f == 0 {
		return "None"
	}
	return initFlagsMapping[f]
}

// Options contains optional settings for Init
type Options struct {
	// Flags indicates specific behaviors to activate or deactivate
	Flags InitFlags
}

const relayQueueFlags = 0x1

// GPU is the initialized GPU subsystem: the service client, the shared block mapped into the
// mappable region, the command queue in it and the interrupt dispatcher draining it.
type GPU struct {
	logger  *slog.Logger
	kern    kernel.Kernel
	regions *arena.Regions
	client  *Client

	hasRight     bool
	relay        kernel.Handle
	registration Registration
	sharedAddr   int
	shared       []byte

	queue      *CommandQueue
	dispatcher *event.Dispatcher
}

type initStep func() error

func rollback(logger *slog.Logger, steps []initStep) {
	for i := len(steps) - 1; i >= 0; i-- {
		err := steps[i]()
		if err != nil {
			logger.Error("error rolling back GPU initialization", slog.Any("error", err))
		}
	}
}

// Init brings up the GPU subsystem over a GPU service session. The calling goroutine's thread is
// used for every service request, including the doorbell rung by Submit.
func Init(logger *slog.Logger, regions *arena.Regions, kern kernel.Kernel, thread *ipc.Thread, session kernel.Handle, options Options) (_ *GPU, err error) {
	logger.Debug("GPU::Init", slog.String("Flags", options.Flags.String()))

	g := &GPU{
		logger:  logger,
		kern:    kern,
		regions: regions,
		client:  NewClient(logger, thread, session),
	}

	var undo []initStep
	defer func() {
		if err != nil {
			rollback(logger, undo)
		}
	}()

	if options.Flags&InitSkipAcquireRight == 0 {
		err = g.client.AcquireRight(0)
		if err != nil {
			return nil, errors.Wrap(err, "could not acquire GPU rights")
		}
		g.hasRight = true
		undo = append(undo, g.client.ReleaseRight)
	}

	g.relay, err = kern.CreateEvent(kernel.ResetOneShot)
	if err != nil {
		return nil, errors.Wrap(err, "could not create the interrupt relay event")
	}
	undo = append(undo, func() error { return kern.CloseHandle(g.relay) })

	g.registration, err = g.client.RegisterInterruptRelayQueue(g.relay, relayQueueFlags)
	if err != nil {
		return nil, errors.Wrap(err, "could not register the interrupt relay queue")
	}
	undo = append(undo, g.client.UnregisterInterruptRelayQueue)
	undo = append(undo, func() error { return kern.CloseHandle(g.registration.SharedMemory) })

	if g.registration.ThreadID >= MaxThreads {
		return nil, errors.Newf("GPU service assigned thread index %d, but the shared block only has room for %d", g.registration.ThreadID, MaxThreads)
	}

	g.sharedAddr, err = regions.Mappable().MemAlign(SharedMemorySize, kernel.PageSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not reserve an address for GPU shared memory")
	}
	undo = append(undo, func() error { return regions.Mappable().Free(g.sharedAddr) })

	g.shared, err = kern.MapMemoryBlock(g.registration.SharedMemory, g.sharedAddr, kernel.PermReadWrite, kernel.PermDontCare)
	if err != nil {
		return nil, errors.Wrapf(err, "could not map GPU shared memory at %#x", g.sharedAddr)
	}
	undo = append(undo, func() error { return kern.UnmapMemoryBlock(g.registration.SharedMemory, g.sharedAddr) })

	if len(g.shared) < SharedMemorySize {
		return nil, errors.Newf("GPU shared memory is %#x bytes, expected %#x", len(g.shared), SharedMemorySize)
	}

	g.queue, err = NewCommandQueue(g.shared, g.registration.ThreadID, g.client)
	if err != nil {
		return nil, err
	}

	interrupts, err := event.NewQueue(g.shared, g.registration.ThreadID)
	if err != nil {
		return nil, err
	}

	g.dispatcher = event.NewDispatcher(logger, kern, g.relay, interrupts, int(EventCount))
	err = g.dispatcher.Start()
	if err != nil {
		return nil, err
	}

	logger.Debug("GPU::Init complete",
		slog.Int("ThreadID", g.registration.ThreadID),
		slog.Int("SharedMemory", g.sharedAddr),
		slog.Bool("FirstRegistrant", g.registration.FirstRegistrant))

	return g, nil
}

// Exit stops the interrupt dispatcher and releases everything Init acquired. Every step is attempted
// even when an earlier one fails.
func (g *GPU) Exit() error {
	g.logger.Debug("GPU::Exit")

	var err error
	err = errors.CombineErrors(err, g.dispatcher.Stop())
	err = errors.CombineErrors(err, g.client.UnregisterInterruptRelayQueue())
	err = errors.CombineErrors(err, g.kern.UnmapMemoryBlock(g.registration.SharedMemory, g.sharedAddr))
	err = errors.CombineErrors(err, g.regions.Mappable().Free(g.sharedAddr))
	err = errors.CombineErrors(err, g.kern.CloseHandle(g.registration.SharedMemory))
	err = errors.CombineErrors(err, g.kern.CloseHandle(g.relay))

	if g.hasRight {
		err = errors.CombineErrors(err, g.client.ReleaseRight())
	}

	g.shared = nil
	return err
}

// ThreadID is this client's index into the shared block
func (g *GPU) ThreadID() int { return g.registration.ThreadID }

// FirstRegistrant reports whether this client was the first to register with the service
func (g *GPU) FirstRegistrant() bool { return g.registration.FirstRegistrant }

// SharedMemoryAddress is where the shared block is mapped
func (g *GPU) SharedMemoryAddress() int { return g.sharedAddr }

// Queue returns the GX command queue
func (g *GPU) Queue() *CommandQueue { return g.queue }

// Submit queues a GX command. See CommandQueue.Submit.
func (g *GPU) Submit(command Command) error {
	return g.queue.Submit(command)
}

// RegisterCallback sets the function run when a GPU interrupt fires. See event.Dispatcher.
func (g *GPU) RegisterCallback(kind event.Kind, fn event.Callback, data any, oneShot bool) error {
	return g.dispatcher.RegisterCallback(kind, fn, data, oneShot)
}

// WaitForEvent blocks until a GPU interrupt fires. See event.Dispatcher.
func (g *GPU) WaitForEvent(ctx context.Context, kind event.Kind, next bool) error {
	return g.dispatcher.WaitForEvent(ctx, kind, next)
}

// WaitForAnyEvent blocks until any GPU interrupt fires and returns its kind
func (g *GPU) WaitForAnyEvent(ctx context.Context) (event.Kind, error) {
	return g.dispatcher.WaitForAnyEvent(ctx)
}

// EventCount returns how many times a GPU interrupt has fired
func (g *GPU) EventCount(kind event.Kind) uint64 {
	return g.dispatcher.Count(kind)
}
