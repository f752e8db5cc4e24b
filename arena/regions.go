package arena

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/memutils"
	"github.com/devkitPro/libctru-sub001/memutils/mempool"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Kind names one of the fixed memory regions of the platform
type Kind uint32

const (
	// KindLinear is the physically contiguous heap, suitable for buffers shared with hardware
	KindLinear Kind = iota
	// KindVRAM is dedicated video memory
	KindVRAM
	// KindMappable is a virtual address range reserved for mapping shared memory blocks
	KindMappable

	// KindCount is the number of fixed regions
	KindCount
)

var kindMapping = map[Kind]string{
	KindLinear:   "Linear",
	KindVRAM:     "VRAM",
	KindMappable: "Mappable",
}

func (k Kind) String() string {
	return kindMapping[k]
}

const (
	// DefaultLinearHeapBase is the virtual address the linear heap is mapped at
	DefaultLinearHeapBase int = 0x30000000
	// DefaultLinearHeapSize is the linear heap size used when CreateOptions leaves it empty: 32MiB
	DefaultLinearHeapSize int = 32 * 1024 * 1024
	// DefaultVRAMBase is the virtual address of video memory
	DefaultVRAMBase int = 0x1F000000
	// DefaultVRAMSize is the size of video memory: 6MiB
	DefaultVRAMSize int = 0x600000
	// DefaultMappableBase is the start of the address range reserved for shared memory mappings
	DefaultMappableBase int = 0x10000000
	// DefaultMappableSize is the size of the mappable range: 64MiB
	DefaultMappableSize int = 0x4000000

	pageSize = 0x1000
)

type regionLayout struct {
	base             int
	size             int
	defaultAlignment uint
	minAlignment     uint
}

// CreateFlags indicate specific region allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that the region allocators will not be synchronized
	// internally. The consumer must guarantee they are used from only one goroutine at a time or are
	// synchronized by some other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}
	return createFlagsMapping[f]
}

// CreateOptions contains optional settings when creating Regions. Any zero base or size falls back
// to the platform default for that region.
type CreateOptions struct {
	// Flags indicates specific behaviors to activate or deactivate
	Flags CreateFlags

	LinearHeapBase int
	LinearHeapSize int
	VRAMBase       int
	VRAMSize       int
	MappableBase   int
	MappableSize   int

	// Strategy chooses how free ranges are selected. The default is mempool.StrategyFirstFit.
	Strategy mempool.Strategy
	// BlockSource supplies free list metadata nodes. It can be left nil.
	BlockSource mempool.BlockSource
}

// Regions owns the allocators for every fixed region of the platform. It is created once at
// startup and handed to everything that needs linear, video or mappable memory.
type Regions struct {
	logger     *slog.Logger
	allocators [KindCount]*Allocator
}

func orDefault(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

// New creates the region allocators. Regions must be page aligned and must not overlap.
func New(logger *slog.Logger, options CreateOptions) (*Regions, error) {
	useMutex := options.Flags&CreateExternallySynchronized == 0

	layouts := [KindCount]regionLayout{
		KindLinear: {
			base:             orDefault(options.LinearHeapBase, DefaultLinearHeapBase),
			size:             orDefault(options.LinearHeapSize, DefaultLinearHeapSize),
			defaultAlignment: 0x80,
			minAlignment:     0x10,
		},
		KindVRAM: {
			base:             orDefault(options.VRAMBase, DefaultVRAMBase),
			size:             orDefault(options.VRAMSize, DefaultVRAMSize),
			defaultAlignment: 0x80,
			minAlignment:     0x10,
		},
		KindMappable: {
			base:             orDefault(options.MappableBase, DefaultMappableBase),
			size:             orDefault(options.MappableSize, DefaultMappableSize),
			defaultAlignment: pageSize,
			minAlignment:     pageSize,
		},
	}

	for kind, layout := range layouts {
		if layout.size < 0 || layout.base < 0 {
			return nil, errors.Newf("the %s region has a negative base or size", Kind(kind))
		}
		if !memutils.IsAligned(layout.base, pageSize) || !memutils.IsAligned(layout.size, pageSize) {
			return nil, errors.Newf("the %s region [%#x, %#x) is not page aligned", Kind(kind), layout.base, layout.base+layout.size)
		}

		for other := 0; other < kind; other++ {
			otherLayout := layouts[other]
			if layout.base < otherLayout.base+otherLayout.size && otherLayout.base < layout.base+layout.size {
				return nil, errors.Newf("the %s region overlaps the %s region", Kind(kind), Kind(other))
			}
		}
	}

	logger.Debug("Regions::New", slog.String("Flags", options.Flags.String()), slog.String("Strategy", options.Strategy.String()))

	regions := &Regions{logger: logger}
	for kind, layout := range layouts {
		regions.allocators[kind] = newAllocator(logger, Kind(kind), layout, useMutex, options.BlockSource, options.Strategy)
	}

	return regions, nil
}

// Region returns the allocator for the given region
func (r *Regions) Region(kind Kind) *Allocator {
	if kind >= KindCount {
		panic(errors.AssertionFailedf("unknown region kind %d", kind))
	}
	return r.allocators[kind]
}

// Linear returns the linear heap allocator
func (r *Regions) Linear() *Allocator { return r.allocators[KindLinear] }

// VRAM returns the video memory allocator
func (r *Regions) VRAM() *Allocator { return r.allocators[KindVRAM] }

// Mappable returns the allocator for the shared memory mapping range
func (r *Regions) Mappable() *Allocator { return r.allocators[KindMappable] }

// Owner returns the allocator whose region contains addr, if any
func (r *Regions) Owner(addr int) (*Allocator, bool) {
	for _, allocator := range r.allocators {
		if allocator.Contains(addr) {
			return allocator, true
		}
	}
	return nil, false
}

// Validate validates every region
func (r *Regions) Validate() error {
	for _, allocator := range r.allocators {
		err := allocator.Validate()
		if err != nil {
			return err
		}
	}
	return nil
}

// CalculateStatistics sums every region into total and each region into its own entry of perRegion
func (r *Regions) CalculateStatistics(total *memutils.DetailedStatistics, perRegion *[KindCount]memutils.DetailedStatistics) {
	total.Clear()
	for kind, allocator := range r.allocators {
		stats := &perRegion[kind]
		stats.Clear()
		allocator.AddDetailedStatistics(stats)
		total.AddDetailedStatistics(stats)
	}
}

// CalculateSummary sums the cheap per-region counters into stats. Unlike CalculateStatistics it does
// not walk the free lists or the live allocations.
func (r *Regions) CalculateSummary(stats *memutils.Statistics) {
	stats.Clear()
	for _, allocator := range r.allocators {
		allocator.AddStatistics(stats)
	}
}

func writeStats(json jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("RegionBytes").Int(stats.RegionBytes)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("FreeRanges").Int(stats.FreeRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Int(stats.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(stats.FreeRangeSizeMax)
	}
}

// BuildStatsString produces a JSON document summarizing every region. When detailedMap is true the
// free ranges of each region are listed as well.
func (r *Regions) BuildStatsString(detailedMap bool) string {
	var total memutils.DetailedStatistics
	var perRegion [KindCount]memutils.DetailedStatistics
	r.CalculateStatistics(&total, &perRegion)

	writer := jwriter.NewWriter()
	root := writer.Object()

	totalObj := root.Name("Total").Object()
	writeStats(totalObj, &total)
	totalObj.End()

	regionsObj := root.Name("Regions").Object()
	for kind, allocator := range r.allocators {
		regionObj := regionsObj.Name(Kind(kind).String()).Object()

		statsObj := regionObj.Name("Stats").Object()
		writeStats(statsObj, &perRegion[kind])
		statsObj.End()

		if detailedMap {
			mapObj := regionObj.Name("DetailedMap").Object()
			allocator.printDetailedMap(mapObj)
			mapObj.End()
		}

		regionObj.End()
	}
	regionsObj.End()

	root.End()
	return string(writer.Bytes())
}
