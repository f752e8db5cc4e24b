package arena

import (
	"log/slog"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/internal/utils"
	"github.com/devkitPro/libctru-sub001/memutils"
	"github.com/devkitPro/libctru-sub001/memutils/mempool"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

var (
	// ErrInvalidAlignment is returned by MemAlign when the requested alignment is not a supported
	// power of two. The region is not touched.
	ErrInvalidAlignment = errors.New("unsupported alignment")
	// ErrUnknownAddress is returned by Free when the address is not a live allocation of the region,
	// such as a double free or a pointer from another region. The region is not touched.
	ErrUnknownAddress = errors.New("address is not a live allocation of this region")
	// ErrReallocUnsupported is always returned by Realloc
	ErrReallocUnsupported = errors.New("realloc is not supported by region allocators")
)

const initialIndexCapacity = 64

// Allocator hands out address ranges from one fixed region. It pairs a mempool.Pool seeded with the
// whole region with an index from each returned address to the chunk it came from, so that Free
// only needs the address.
//
// The pool is created lazily on the first allocation. Unless the owning Regions was created with
// CreateExternallySynchronized, every method is safe for concurrent use.
type Allocator struct {
	logger *slog.Logger
	kind   Kind
	layout regionLayout

	source   mempool.BlockSource
	strategy mempool.Strategy

	mutex       utils.OptionalRWMutex
	initialized bool
	pool        *mempool.Pool
	index       *swiss.Map[int, mempool.Chunk]
	liveBytes   int
}

var _ memutils.Validatable = &Allocator{}

func newAllocator(logger *slog.Logger, kind Kind, layout regionLayout, useMutex bool, source mempool.BlockSource, strategy mempool.Strategy) *Allocator {
	return &Allocator{
		logger:   logger.With(slog.String("Region", kind.String())),
		kind:     kind,
		layout:   layout,
		source:   source,
		strategy: strategy,
		mutex:    utils.OptionalRWMutex{UseMutex: useMutex},
	}
}

// Kind identifies which region this allocator manages
func (a *Allocator) Kind() Kind { return a.kind }

// Base is the first address of the region
func (a *Allocator) Base() int { return a.layout.base }

// Size is the length in bytes of the region
func (a *Allocator) Size() int { return a.layout.size }

// DefaultAlignment is the alignment Alloc requests
func (a *Allocator) DefaultAlignment() uint { return a.layout.defaultAlignment }

// MinAlignment is the floor MemAlign raises smaller alignments to
func (a *Allocator) MinAlignment() uint { return a.layout.minAlignment }

// Contains reports whether addr lies inside the region, allocated or not
func (a *Allocator) Contains(addr int) bool {
	return addr >= a.layout.base && addr < a.layout.base+a.layout.size
}

func (a *Allocator) initAfterLock() error {
	if a.initialized {
		return nil
	}

	pool := mempool.New(a.source, a.strategy)
	err := pool.AddBlock(a.layout.base, a.layout.size)
	if err != nil {
		return errors.Wrapf(err, "could not initialize the %s region", a.kind)
	}

	a.pool = pool
	a.index = swiss.NewMap[int, mempool.Chunk](initialIndexCapacity)
	a.initialized = true

	a.logger.Debug("Allocator::init", slog.Int("Base", a.layout.base), slog.Int("Size", a.layout.size))
	return nil
}

// Alloc reserves size bytes at the region's default alignment and returns the address
func (a *Allocator) Alloc(size int) (int, error) {
	return a.MemAlign(size, a.layout.defaultAlignment)
}

// MemAlign reserves size bytes at an address that is a multiple of alignment. Alignments below the
// region's minimum are raised to it. An alignment that is not a power of two, or that is 1<<32 or
// larger, fails with ErrInvalidAlignment before the region is touched. An exhausted region fails
// with memutils.ErrOutOfMemory.
func (a *Allocator) MemAlign(size int, alignment uint) (int, error) {
	a.logger.Debug("Allocator::MemAlign", slog.Int("Size", size), slog.Int("Alignment", int(alignment)))

	if size <= 0 {
		return 0, errors.Newf("allocation size must be positive, got %d", size)
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return 0, errors.Mark(err, ErrInvalidAlignment)
	}

	if alignment < a.layout.minAlignment {
		alignment = a.layout.minAlignment
	}
	memutils.DebugCheckPow2(alignment, "alignment")

	shift := bits.TrailingZeros(alignment)
	if shift >= mempool.MaxAlignShift {
		return 0, errors.Wrapf(ErrInvalidAlignment, "alignment %#x is too large", alignment)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err = a.initAfterLock()
	if err != nil {
		return 0, err
	}

	chunk, err := a.pool.Allocate(size, shift)
	if err != nil {
		a.logger.Debug("    Allocator::MemAlign FAILED", slog.Int("FreeBytes", a.pool.FreeSpace()))
		return 0, errors.Wrapf(err, "%s region", a.kind)
	}

	if a.index.Has(chunk.Addr) {
		rollbackErr := a.pool.Deallocate(chunk)
		if rollbackErr != nil {
			a.logger.Error("error attempting to roll back an allocation after an index collision", slog.Any("error", rollbackErr))
		}
		return 0, errors.AssertionFailedf("%s region handed out address %#x while it was still live", a.kind, chunk.Addr)
	}

	a.index.Put(chunk.Addr, chunk)
	a.liveBytes += chunk.Size
	memutils.DebugValidate(a.pool)

	return chunk.Addr, nil
}

// Free releases the allocation starting at addr. An address that is not a live allocation of
// this region fails with ErrUnknownAddress and leaves the region unchanged.
func (a *Allocator) Free(addr int) error {
	a.logger.Debug("Allocator::Free", slog.Int("Address", addr))

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.initialized {
		return errors.Wrapf(ErrUnknownAddress, "%s region: %#x", a.kind, addr)
	}

	chunk, ok := a.index.Get(addr)
	if !ok {
		return errors.Wrapf(ErrUnknownAddress, "%s region: %#x", a.kind, addr)
	}

	// The allocation stays live until its range is back in the pool, so a failed Free can be retried
	err := a.pool.Deallocate(chunk)
	if err != nil {
		a.logger.Error("freed range could not be returned to the region", slog.Int("Address", addr), slog.Int("Size", chunk.Size), slog.Any("error", err))
		return errors.Wrapf(err, "%s region", a.kind)
	}

	a.index.Delete(addr)
	a.liveBytes -= chunk.Size

	memutils.DebugValidate(a.pool)
	return nil
}

// Realloc is not supported and always fails with ErrReallocUnsupported; the original allocation
// is left in place.
func (a *Allocator) Realloc(addr int, size int) (int, error) {
	return 0, errors.Wrapf(ErrReallocUnsupported, "%s region", a.kind)
}

// SpaceFree returns the number of unallocated bytes in the region
func (a *Allocator) SpaceFree() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if !a.initialized {
		return a.layout.size
	}
	return a.pool.FreeSpace()
}

// SizeOf returns the size of the live allocation at addr. The size includes alignment rounding, and
// any trailing space donated to the allocation.
func (a *Allocator) SizeOf(addr int) (int, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if !a.initialized {
		return 0, false
	}

	chunk, ok := a.index.Get(addr)
	return chunk.Size, ok
}

// AllocationCount returns the number of live allocations
func (a *Allocator) AllocationCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if !a.initialized {
		return 0
	}
	return a.index.Count()
}

// Validate checks the free list invariants and that free and live bytes add up to the region size
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if !a.initialized {
		return nil
	}

	err := a.pool.Validate()
	if err != nil {
		return errors.Wrapf(err, "%s region", a.kind)
	}

	indexBytes := 0
	a.index.Iter(func(addr int, chunk mempool.Chunk) bool {
		indexBytes += chunk.Size
		return false
	})

	if indexBytes != a.liveBytes {
		return errors.AssertionFailedf("%s region tracks %d live bytes but its index holds %d", a.kind, a.liveBytes, indexBytes)
	}

	if free := a.pool.FreeSpace(); free+a.liveBytes != a.layout.size {
		return errors.AssertionFailedf("%s region has %d free and %d live bytes, which does not add up to its size %d", a.kind, free, a.liveBytes, a.layout.size)
	}

	return nil
}

// AddStatistics sums this region into stats
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.RegionCount++
	stats.RegionBytes += a.layout.size

	if a.initialized {
		stats.AllocationCount += a.index.Count()
		stats.AllocationBytes += a.liveBytes
	}
}

// AddDetailedStatistics sums this region, its live allocations and its free ranges into stats
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.RegionCount++
	stats.RegionBytes += a.layout.size

	if !a.initialized {
		stats.AddFreeRange(a.layout.size)
		return
	}

	a.index.Iter(func(addr int, chunk mempool.Chunk) bool {
		stats.AddAllocation(chunk.Size)
		return false
	})
	a.pool.AddDetailedStatistics(stats)
}

func (a *Allocator) printDetailedMap(json jwriter.ObjectState) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	json.Name("Base").Int(a.layout.base)
	json.Name("Size").Int(a.layout.size)

	if !a.initialized {
		json.Name("FreeBytes").Int(a.layout.size)
		return
	}

	json.Name("Allocations").Int(a.index.Count())
	a.pool.BlockJsonData(json)
}
