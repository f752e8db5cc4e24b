package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/kernel"
)

// ErrDispatcherStopped is returned by waits on a Dispatcher that has been stopped
var ErrDispatcherStopped = errors.New("event dispatcher stopped")

// Callback is invoked on the dispatcher goroutine with the data it was registered with
type Callback func(data any)

type callbackEntry struct {
	fn      Callback
	data    any
	oneShot bool
}

// Dispatcher owns the goroutine that drains a Queue. It sleeps on the relay event, and each time it
// wakes it pops every pending tag, running the kind's callback, signaling the kind's waiters and
// counting the occurrence.
type Dispatcher struct {
	logger *slog.Logger
	kern   kernel.Kernel
	relay  kernel.Handle
	queue  *Queue

	callbackMutex sync.Mutex
	callbacks     []callbackEntry

	events   []*kernel.Event
	anyEvent *kernel.Event
	counts   []atomic.Uint64
	lastKind atomic.Uint32

	lifecycleMutex sync.Mutex
	started        bool
	running        atomic.Bool
	done           chan struct{}
	stopCtx        context.Context
	stop           context.CancelFunc
}

// NewDispatcher creates a dispatcher for kindCount interrupt kinds. Tags at or past kindCount are
// drained and ignored.
func NewDispatcher(logger *slog.Logger, kern kernel.Kernel, relay kernel.Handle, queue *Queue, kindCount int) *Dispatcher {
	stopCtx, stop := context.WithCancel(context.Background())

	d := &Dispatcher{
		logger:    logger,
		kern:      kern,
		relay:     relay,
		queue:     queue,
		callbacks: make([]callbackEntry, kindCount),
		events:    make([]*kernel.Event, kindCount),
		anyEvent:  kernel.NewEvent(kernel.ResetSticky),
		counts:    make([]atomic.Uint64, kindCount),
		done:      make(chan struct{}),
		stopCtx:   stopCtx,
		stop:      stop,
	}

	for i := range d.events {
		d.events[i] = kernel.NewEvent(kernel.ResetSticky)
	}

	return d
}

// KindCount is the number of interrupt kinds the dispatcher tracks
func (d *Dispatcher) KindCount() int { return len(d.events) }

func (d *Dispatcher) checkKind(kind Kind) error {
	if int(kind) >= len(d.events) {
		return errors.Newf("event kind %d is outside [0, %d)", kind, len(d.events))
	}
	return nil
}

// Start launches the dispatcher goroutine
func (d *Dispatcher) Start() error {
	d.lifecycleMutex.Lock()
	defer d.lifecycleMutex.Unlock()

	if d.started {
		return errors.New("event dispatcher was already started")
	}
	d.started = true
	d.running.Store(true)

	go d.run()

	d.logger.Debug("Dispatcher::Start", slog.Int("Kinds", len(d.events)))
	return nil
}

// Stop asks the dispatcher goroutine to exit and waits for it. Waiters blocked in WaitForEvent are
// released with ErrDispatcherStopped.
func (d *Dispatcher) Stop() error {
	d.lifecycleMutex.Lock()
	defer d.lifecycleMutex.Unlock()

	if !d.started || !d.running.Load() {
		d.stop()
		return nil
	}

	d.running.Store(false)
	err := d.kern.SignalEvent(d.relay)
	if err != nil {
		return errors.Wrap(err, "could not wake the event dispatcher")
	}

	<-d.done
	d.stop()

	d.logger.Debug("Dispatcher::Stop")
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		err := d.kern.WaitEvent(context.Background(), d.relay)
		if err != nil {
			d.logger.Error("event dispatcher could not wait on the relay event", slog.Any("error", err))
			d.running.Store(false)
			return
		}

		err = d.kern.ClearEvent(d.relay)
		if err != nil {
			d.logger.Error("event dispatcher could not clear the relay event", slog.Any("error", err))
		}

		if !d.running.Load() {
			return
		}

		d.drain()
	}
}

func (d *Dispatcher) drain() {
	for {
		kind, ok := d.queue.Pop()
		if !ok {
			return
		}

		if int(kind) >= len(d.events) {
			d.logger.Debug("Dispatcher::drain ignoring unknown kind", slog.Int("Kind", int(kind)))
			continue
		}

		d.dispatch(kind)
	}
}

func (d *Dispatcher) dispatch(kind Kind) {
	d.callbackMutex.Lock()
	entry := d.callbacks[kind]
	if entry.oneShot {
		d.callbacks[kind] = callbackEntry{}
	}
	d.callbackMutex.Unlock()

	if entry.fn != nil {
		entry.fn(entry.data)
	}

	d.counts[kind].Add(1)
	d.events[kind].Signal()

	d.lastKind.Store(uint32(kind))
	d.anyEvent.Signal()
}

// RegisterCallback sets the function run on the dispatcher goroutine when kind fires, replacing
// any earlier one. A one-shot callback is removed before it runs. A nil fn removes the callback.
func (d *Dispatcher) RegisterCallback(kind Kind, fn Callback, data any, oneShot bool) error {
	err := d.checkKind(kind)
	if err != nil {
		return err
	}

	d.callbackMutex.Lock()
	defer d.callbackMutex.Unlock()

	if fn == nil {
		d.callbacks[kind] = callbackEntry{}
		return nil
	}

	d.callbacks[kind] = callbackEntry{fn: fn, data: data, oneShot: oneShot}
	return nil
}

func (d *Dispatcher) wait(ctx context.Context, event *kernel.Event) error {
	if d.stopCtx.Err() != nil {
		return ErrDispatcherStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWaiting := context.AfterFunc(d.stopCtx, cancel)
	defer stopWaiting()

	err := event.Wait(ctx)
	if err != nil && d.stopCtx.Err() != nil {
		return ErrDispatcherStopped
	}
	return err
}

// WaitForEvent blocks until kind fires. When next is false, an occurrence that already happened
// since the last wait satisfies it immediately; when next is true only a later occurrence does.
func (d *Dispatcher) WaitForEvent(ctx context.Context, kind Kind, next bool) error {
	err := d.checkKind(kind)
	if err != nil {
		return err
	}

	event := d.events[kind]
	if next {
		event.Clear()
	}

	err = d.wait(ctx, event)
	if err != nil {
		return err
	}

	if !next {
		event.Clear()
	}
	return nil
}

// WaitForAnyEvent blocks until any kind fires after the call and returns the most recent kind
func (d *Dispatcher) WaitForAnyEvent(ctx context.Context) (Kind, error) {
	d.anyEvent.Clear()

	err := d.wait(ctx, d.anyEvent)
	if err != nil {
		return 0, err
	}
	return Kind(d.lastKind.Load()), nil
}

// Count returns how many times kind has fired
func (d *Dispatcher) Count(kind Kind) uint64 {
	if d.checkKind(kind) != nil {
		return 0
	}
	return d.counts[kind].Load()
}
