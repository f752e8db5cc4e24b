package kernel

import (
	"context"
	"sync"
)

// ResetType controls what happens to a signaled Event when a waiter wakes
type ResetType int

const (
	// ResetOneShot events are cleared by the first waiter that observes them
	ResetOneShot ResetType = iota
	// ResetSticky events stay signaled until Clear is called
	ResetSticky
)

var resetTypeMapping = map[ResetType]string{
	ResetOneShot: "ResetOneShot",
	ResetSticky:  "ResetSticky",
}

func (r ResetType) String() string {
	return resetTypeMapping[r]
}

// Event is a binary signal that goroutines can block on. Every method is safe for concurrent use.
type Event struct {
	reset ResetType

	mutex    sync.Mutex
	signaled bool
	wake     chan struct{}
}

// NewEvent creates an unsignaled event
func NewEvent(reset ResetType) *Event {
	return &Event{
		reset: reset,
		wake:  make(chan struct{}),
	}
}

// ResetType returns the reset behavior the event was created with
func (e *Event) ResetType() ResetType { return e.reset }

// Signal marks the event signaled and wakes every waiter. Signaling an already-signaled event
// does nothing.
func (e *Event) Signal() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.signaled {
		e.signaled = true
		close(e.wake)
	}
}

// Clear returns the event to the unsignaled state
func (e *Event) Clear() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.clearAfterLock()
}

func (e *Event) clearAfterLock() {
	if e.signaled {
		e.signaled = false
		e.wake = make(chan struct{})
	}
}

// Signaled reports whether the event is currently signaled
func (e *Event) Signaled() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.signaled
}

// Wait blocks until the event is signaled or ctx is done. When several goroutines wait on a
// one-shot event, a single Signal releases exactly one of them.
func (e *Event) Wait(ctx context.Context) error {
	for {
		e.mutex.Lock()
		if e.signaled {
			if e.reset == ResetOneShot {
				e.clearAfterLock()
			}
			e.mutex.Unlock()
			return nil
		}
		wake := e.wake
		e.mutex.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
