package kernel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/memutils"
	"github.com/dolthub/swiss"
)

// Kernel is the set of system calls the rest of the module is built on
type Kernel interface {
	CreateEvent(reset ResetType) (Handle, error)
	WaitEvent(ctx context.Context, event Handle) error
	SignalEvent(event Handle) error
	ClearEvent(event Handle) error

	MapMemoryBlock(block Handle, addr int, perm, otherPerm Permission) ([]byte, error)
	UnmapMemoryBlock(block Handle, addr int) error

	DuplicateHandle(handle Handle) (Handle, error)
	CloseHandle(handle Handle) error
}

type memoryBlock struct {
	memory *SharedMemory
	refs   int
}

type mapping struct {
	block *memoryBlock
	perm  Permission
}

const firstHandle Handle = 0x10

// Sim is an in-process Kernel. Events are Event values, memory blocks are SharedMemory values, and
// a mapping simply records which block lives at which address.
type Sim struct {
	logger *slog.Logger

	mutex      sync.Mutex
	nextHandle Handle
	objects    *swiss.Map[Handle, any]
	mappings   *swiss.Map[int, mapping]
}

var _ Kernel = &Sim{}

func NewSim(logger *slog.Logger) *Sim {
	return &Sim{
		logger:     logger,
		nextHandle: firstHandle,
		objects:    swiss.NewMap[Handle, any](16),
		mappings:   swiss.NewMap[int, mapping](4),
	}
}

func (k *Sim) insertAfterLock(object any) Handle {
	handle := k.nextHandle
	k.nextHandle++
	k.objects.Put(handle, object)
	return handle
}

func (k *Sim) event(handle Handle) (*Event, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	object, ok := k.objects.Get(handle)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s", handle)
	}

	event, ok := object.(*Event)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s is not an event", handle)
	}

	return event, nil
}

func (k *Sim) memoryBlockAfterLock(handle Handle) (*memoryBlock, error) {
	object, ok := k.objects.Get(handle)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s", handle)
	}

	block, ok := object.(*memoryBlock)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s is not a memory block", handle)
	}

	return block, nil
}

func (k *Sim) CreateEvent(reset ResetType) (Handle, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	handle := k.insertAfterLock(NewEvent(reset))
	k.logger.Debug("Sim::CreateEvent", slog.String("Reset", reset.String()), slog.Any("Handle", handle))
	return handle, nil
}

// Event returns the Event behind a handle
func (k *Sim) Event(handle Handle) (*Event, error) {
	return k.event(handle)
}

func (k *Sim) WaitEvent(ctx context.Context, handle Handle) error {
	event, err := k.event(handle)
	if err != nil {
		return err
	}
	return event.Wait(ctx)
}

func (k *Sim) SignalEvent(handle Handle) error {
	event, err := k.event(handle)
	if err != nil {
		return err
	}
	event.Signal()
	return nil
}

func (k *Sim) ClearEvent(handle Handle) error {
	event, err := k.event(handle)
	if err != nil {
		return err
	}
	event.Clear()
	return nil
}

// CreateMemoryBlock allocates a shared memory block of at least size bytes
func (k *Sim) CreateMemoryBlock(size int) (Handle, error) {
	memory, err := NewSharedMemory(size)
	if err != nil {
		return InvalidHandle, err
	}

	k.mutex.Lock()
	defer k.mutex.Unlock()

	handle := k.insertAfterLock(&memoryBlock{memory: memory, refs: 1})
	k.logger.Debug("Sim::CreateMemoryBlock", slog.Int("Size", memory.Size()), slog.Any("Handle", handle))
	return handle, nil
}

// MemoryBlock returns the shared memory behind a handle
func (k *Sim) MemoryBlock(handle Handle) (*SharedMemory, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	block, err := k.memoryBlockAfterLock(handle)
	if err != nil {
		return nil, err
	}
	return block.memory, nil
}

func (k *Sim) MapMemoryBlock(handle Handle, addr int, perm, otherPerm Permission) ([]byte, error) {
	if !memutils.IsAligned(addr, PageSize) {
		return nil, errors.Newf("mapping address %#x is not page aligned", addr)
	}

	k.mutex.Lock()
	defer k.mutex.Unlock()

	block, err := k.memoryBlockAfterLock(handle)
	if err != nil {
		return nil, err
	}

	if existing, ok := k.mappings.Get(addr); ok {
		return nil, errors.Wrapf(ErrAddressInUse, "%#x holds a %#x byte block", addr, existing.block.memory.Size())
	}

	block.refs++
	k.mappings.Put(addr, mapping{block: block, perm: perm})

	k.logger.Debug("Sim::MapMemoryBlock", slog.Any("Handle", handle), slog.Int("Address", addr), slog.String("Permission", perm.String()))
	return block.memory.Bytes(), nil
}

func (k *Sim) UnmapMemoryBlock(handle Handle, addr int) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	block, err := k.memoryBlockAfterLock(handle)
	if err != nil {
		return err
	}

	existing, ok := k.mappings.Get(addr)
	if !ok || existing.block != block {
		return errors.Wrapf(ErrNotMapped, "%s at %#x", handle, addr)
	}

	k.mappings.Delete(addr)
	k.logger.Debug("Sim::UnmapMemoryBlock", slog.Any("Handle", handle), slog.Int("Address", addr))
	return k.releaseBlockAfterLock(block)
}

// MappedAt returns the block mapped at addr, if any
func (k *Sim) MappedAt(addr int) ([]byte, Permission, bool) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	existing, ok := k.mappings.Get(addr)
	if !ok {
		return nil, 0, false
	}
	return existing.block.memory.Bytes(), existing.perm, true
}

func (k *Sim) releaseBlockAfterLock(block *memoryBlock) error {
	block.refs--
	if block.refs > 0 {
		return nil
	}
	return block.memory.Close()
}

func (k *Sim) DuplicateHandle(handle Handle) (Handle, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	object, ok := k.objects.Get(handle)
	if !ok {
		return InvalidHandle, errors.Wrapf(ErrInvalidHandle, "%s", handle)
	}

	if block, isBlock := object.(*memoryBlock); isBlock {
		block.refs++
	}

	return k.insertAfterLock(object), nil
}

// CloseHandle releases a handle. A memory block is freed once every handle to it is closed and it
// is no longer mapped anywhere.
func (k *Sim) CloseHandle(handle Handle) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	object, ok := k.objects.Get(handle)
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "%s", handle)
	}
	k.objects.Delete(handle)

	if block, isBlock := object.(*memoryBlock); isBlock {
		return k.releaseBlockAfterLock(block)
	}
	return nil
}

// HandleCount returns the number of open handles
func (k *Sim) HandleCount() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	return k.objects.Count()
}
