package mempool_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/memutils"
	"github.com/devkitPro/libctru-sub001/memutils/mempool"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
)

type freeRange struct {
	Base int
	Size int
}

func snapshot(t *testing.T, pool *mempool.Pool) []freeRange {
	var ranges []freeRange
	err := pool.VisitBlocks(func(base, size int) error {
		ranges = append(ranges, freeRange{Base: base, Size: size})
		return nil
	})
	require.NoError(t, err)
	return ranges
}

// limitedBlockSource hands out a fixed number of nodes and then reports exhaustion
type limitedBlockSource struct {
	remaining int
	released  int
}

func (s *limitedBlockSource) AcquireBlock() *mempool.Block {
	if s.remaining <= 0 {
		return nil
	}
	s.remaining--
	return &mempool.Block{}
}

func (s *limitedBlockSource) ReleaseBlock(b *mempool.Block) {
	s.released++
}

func newPool(t *testing.T, base, size int) *mempool.Pool {
	pool := mempool.New(nil, mempool.StrategyFirstFit)
	require.NoError(t, pool.AddBlock(base, size))
	return pool
}

func TestPoolBasicAlloc(t *testing.T) {
	pool := newPool(t, 0, 1000)

	chunk, err := pool.Allocate(100, 0)
	require.NoError(t, err)
	require.Equal(t, mempool.Chunk{Addr: 0, Size: 100}, chunk)
	require.Equal(t, 900, pool.FreeSpace())
	require.Equal(t, []freeRange{{Base: 100, Size: 900}}, snapshot(t, pool))

	require.NoError(t, pool.Deallocate(chunk))
	require.Equal(t, 1000, pool.FreeSpace())
	require.Equal(t, []freeRange{{Base: 0, Size: 1000}}, snapshot(t, pool))
	require.NoError(t, pool.Validate())
}

func TestPoolSizeRoundedToAlignment(t *testing.T) {
	pool := newPool(t, 0x1000, 0x1000)

	chunk, err := pool.Allocate(1, 4)
	require.NoError(t, err)
	require.Equal(t, mempool.Chunk{Addr: 0x1000, Size: 16}, chunk)

	chunk, err = pool.Allocate(17, 4)
	require.NoError(t, err)
	require.Equal(t, mempool.Chunk{Addr: 0x1010, Size: 32}, chunk)
}

func TestPoolInvalidRequests(t *testing.T) {
	pool := newPool(t, 0, 4096)

	_, err := pool.Allocate(0, 4)
	require.Error(t, err)

	_, err = pool.Allocate(16, -1)
	require.Error(t, err)

	_, err = pool.Allocate(16, mempool.MaxAlignShift)
	require.Error(t, err)

	require.Error(t, pool.AddBlock(8192, 0))
	require.Equal(t, []freeRange{{Base: 0, Size: 4096}}, snapshot(t, pool))
}

func TestPoolExhaustion(t *testing.T) {
	pool := newPool(t, 0, 256)

	_, err := pool.Allocate(512, 0)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.Equal(t, []freeRange{{Base: 0, Size: 256}}, snapshot(t, pool))

	chunk, err := pool.Allocate(256, 0)
	require.NoError(t, err)
	require.Equal(t, 256, chunk.Size)
	require.Nil(t, pool.First())
	require.Nil(t, pool.Last())
	require.Equal(t, 0, pool.FreeSpace())

	_, err = pool.Allocate(1, 0)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)

	// Freeing into an empty list appends a fresh block
	require.NoError(t, pool.Deallocate(chunk))
	require.Equal(t, []freeRange{{Base: 0, Size: 256}}, snapshot(t, pool))
	require.NoError(t, pool.Validate())
}

func TestPoolRejectsSizesPastAddressSpace(t *testing.T) {
	pool := newPool(t, 0x30000000, 0x1000)

	for _, shift := range []int{0, 4, 12} {
		_, err := pool.Allocate(math.MaxInt-10, shift)
		require.ErrorIs(t, err, memutils.ErrOutOfMemory, "shift %d", shift)
	}

	_, err := pool.Allocate(math.MaxInt, 0)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)

	require.Equal(t, []freeRange{{Base: 0x30000000, Size: 0x1000}}, snapshot(t, pool))
	require.Equal(t, 0x1000, pool.FreeSpace())
	require.NoError(t, pool.Validate())
}

func TestPoolFragmentationAndCoalescing(t *testing.T) {
	pool := newPool(t, 0, 4096)

	a, err := pool.Allocate(0x100, 4)
	require.NoError(t, err)
	b, err := pool.Allocate(0x100, 4)
	require.NoError(t, err)
	c, err := pool.Allocate(0x100, 4)
	require.NoError(t, err)

	require.Equal(t, 0x000, a.Addr)
	require.Equal(t, 0x100, b.Addr)
	require.Equal(t, 0x200, c.Addr)

	require.NoError(t, pool.Deallocate(b))
	require.Equal(t, []freeRange{
		{Base: 0x100, Size: 0x100},
		{Base: 0x300, Size: 4096 - 0x300},
	}, snapshot(t, pool))
	require.NoError(t, pool.Validate())

	require.NoError(t, pool.Deallocate(a))
	require.Equal(t, []freeRange{
		{Base: 0x000, Size: 0x200},
		{Base: 0x300, Size: 4096 - 0x300},
	}, snapshot(t, pool))
	require.NoError(t, pool.Validate())

	ab, err := pool.Allocate(a.Size+b.Size, 4)
	require.NoError(t, err)
	require.Equal(t, a.Addr, ab.Addr)

	require.NoError(t, pool.Deallocate(ab))
	require.NoError(t, pool.Deallocate(c))
	require.Equal(t, 4096, pool.FreeSpace())
	require.Equal(t, 1, pool.BlockCount())
	require.Equal(t, []freeRange{{Base: 0, Size: 4096}}, snapshot(t, pool))
	require.NoError(t, pool.Validate())
}

func TestPoolAlignmentSplitting(t *testing.T) {
	pool := newPool(t, 0, 4096)

	// Knock the single block off its natural alignment
	pad, err := pool.Allocate(10, 0)
	require.NoError(t, err)
	require.Equal(t, mempool.Chunk{Addr: 0, Size: 10}, pad)

	chunk, err := pool.Allocate(100, 6)
	require.NoError(t, err)
	require.Zero(t, chunk.Addr%64)
	require.Equal(t, 64, chunk.Addr)
	require.Equal(t, 128, chunk.Size)
	require.LessOrEqual(t, chunk.End(), 4096)

	require.Equal(t, []freeRange{
		{Base: 10, Size: 54},
		{Base: 192, Size: 4096 - 192},
	}, snapshot(t, pool))
	require.NoError(t, pool.Validate())

	require.NoError(t, pool.Deallocate(chunk))
	require.Equal(t, []freeRange{{Base: 10, Size: 4096 - 10}}, snapshot(t, pool))
	require.NoError(t, pool.Validate())
}

func TestPoolAlignmentSplittingDonatesTrailingSpace(t *testing.T) {
	source := &limitedBlockSource{remaining: 1}
	pool := mempool.New(source, mempool.StrategyFirstFit)
	require.NoError(t, pool.AddBlock(0, 4096))

	pad, err := pool.Allocate(10, 0)
	require.NoError(t, err)
	require.Equal(t, 10, pad.Size)

	chunk, err := pool.Allocate(100, 6)
	require.NoError(t, err)
	require.Equal(t, 64, chunk.Addr)
	// No node for the trailing range: its bytes go to the chunk instead of leaking
	require.Equal(t, 4096-64, chunk.Size)
	require.Equal(t, []freeRange{{Base: 10, Size: 54}}, snapshot(t, pool))
	require.Equal(t, 4096-10-chunk.Size, pool.FreeSpace())
	require.NoError(t, pool.Validate())

	// Merging back into the leading block needs no new node
	require.NoError(t, pool.Deallocate(chunk))
	require.Equal(t, []freeRange{{Base: 10, Size: 4096 - 10}}, snapshot(t, pool))
}

func TestPoolDeallocateMetadataExhaustion(t *testing.T) {
	source := &limitedBlockSource{remaining: 1}
	pool := mempool.New(source, mempool.StrategyFirstFit)
	require.NoError(t, pool.AddBlock(0, 4096))

	a, err := pool.Allocate(64, 0)
	require.NoError(t, err)
	_, err = pool.Allocate(64, 0)
	require.NoError(t, err)

	// a is not adjacent to any free range, so it needs a node that isn't available
	err = pool.Deallocate(a)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.Equal(t, []freeRange{{Base: 128, Size: 4096 - 128}}, snapshot(t, pool))

	require.ErrorIs(t, pool.AddBlock(8192, 16), memutils.ErrOutOfMemory)
}

func TestPoolDeallocateInsertsInOrder(t *testing.T) {
	pool := newPool(t, 0, 1024)

	chunks := make([]mempool.Chunk, 8)
	for i := range chunks {
		chunk, err := pool.Allocate(64, 0)
		require.NoError(t, err)
		chunks[i] = chunk
	}

	// Free every other chunk out of order so each lands in its own block
	for _, index := range []int{6, 0, 4, 2} {
		require.NoError(t, pool.Deallocate(chunks[index]))
		require.NoError(t, pool.Validate())
	}

	require.Equal(t, []freeRange{
		{Base: 0, Size: 64},
		{Base: 128, Size: 64},
		{Base: 256, Size: 64},
		{Base: 384, Size: 64},
		{Base: 512, Size: 512},
	}, snapshot(t, pool))

	// Each odd chunk bridges two free blocks
	for _, index := range []int{3, 1, 5, 7} {
		require.NoError(t, pool.Deallocate(chunks[index]))
		require.NoError(t, pool.Validate())
	}

	require.Equal(t, []freeRange{{Base: 0, Size: 1024}}, snapshot(t, pool))
}

func TestPoolDeallocateRejectsOverlap(t *testing.T) {
	pool := newPool(t, 0, 1024)

	a, err := pool.Allocate(128, 0)
	require.NoError(t, err)
	_, err = pool.Allocate(128, 0)
	require.NoError(t, err)
	require.NoError(t, pool.Deallocate(a))

	before := snapshot(t, pool)

	require.Error(t, pool.Deallocate(a))
	require.Error(t, pool.Deallocate(mempool.Chunk{Addr: 64, Size: 128}))
	require.Error(t, pool.Deallocate(mempool.Chunk{Addr: 200, Size: 128}))
	require.Error(t, pool.Deallocate(mempool.Chunk{Addr: 0, Size: 0}))

	require.Equal(t, before, snapshot(t, pool))
	require.NoError(t, pool.Validate())
}

func TestPoolCoalesceRight(t *testing.T) {
	pool := mempool.New(nil, mempool.StrategyFirstFit)
	require.NoError(t, pool.AddBlock(0, 16))
	require.NoError(t, pool.AddBlock(16, 16))
	require.NoError(t, pool.AddBlock(32, 16))
	require.NoError(t, pool.AddBlock(64, 16))

	// AddBlock never merges
	require.Equal(t, 4, pool.BlockCount())
	require.Error(t, pool.Validate())

	pool.CoalesceRight(pool.First())
	require.Equal(t, []freeRange{
		{Base: 0, Size: 48},
		{Base: 64, Size: 16},
	}, snapshot(t, pool))
	require.NoError(t, pool.Validate())
}

func TestPoolFirstFitVersusBestFit(t *testing.T) {
	layout := func(strategy mempool.Strategy) *mempool.Pool {
		pool := mempool.New(nil, strategy)
		require.NoError(t, pool.AddBlock(0, 256))
		require.NoError(t, pool.AddBlock(512, 64))
		require.NoError(t, pool.AddBlock(1024, 128))
		return pool
	}

	firstFit := layout(mempool.StrategyFirstFit)
	chunk, err := firstFit.Allocate(64, 0)
	require.NoError(t, err)
	require.Equal(t, 0, chunk.Addr)

	bestFit := layout(mempool.StrategyBestFit)
	chunk, err = bestFit.Allocate(64, 0)
	require.NoError(t, err)
	require.Equal(t, 512, chunk.Addr)
	require.Equal(t, []freeRange{
		{Base: 0, Size: 256},
		{Base: 1024, Size: 128},
	}, snapshot(t, bestFit))

	chunk, err = bestFit.Allocate(100, 0)
	require.NoError(t, err)
	require.Equal(t, 1024, chunk.Addr)

	require.Equal(t, "StrategyBestFit", bestFit.Strategy().String())
}

func TestPoolRandomOperationsKeepInvariants(t *testing.T) {
	const base = 0x10000
	const size = 0x40000

	for _, strategy := range []mempool.Strategy{mempool.StrategyFirstFit, mempool.StrategyBestFit} {
		t.Run(strategy.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			pool := mempool.New(nil, strategy)
			require.NoError(t, pool.AddBlock(base, size))

			var live []mempool.Chunk
			liveBytes := 0

			for i := 0; i < 5000; i++ {
				if len(live) == 0 || rng.Intn(3) != 0 {
					shift := rng.Intn(10)
					chunk, err := pool.Allocate(rng.Intn(0x800)+1, shift)
					if err != nil {
						require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
					} else {
						require.True(t, memutils.IsAligned(chunk.Addr, uint(1)<<shift))
						require.GreaterOrEqual(t, chunk.Addr, base)
						require.LessOrEqual(t, chunk.End(), base+size)
						live = append(live, chunk)
						liveBytes += chunk.Size
					}
				} else {
					index := rng.Intn(len(live))
					chunk := live[index]
					live[index] = live[len(live)-1]
					live = live[:len(live)-1]
					require.NoError(t, pool.Deallocate(chunk))
					liveBytes -= chunk.Size
				}

				require.NoError(t, pool.Validate())
				require.Equal(t, size-liveBytes, pool.FreeSpace())
			}

			for _, chunk := range live {
				require.NoError(t, pool.Deallocate(chunk))
			}
			require.Equal(t, []freeRange{{Base: base, Size: size}}, snapshot(t, pool))
		})
	}
}

func TestPoolStatisticsAndJson(t *testing.T) {
	pool := newPool(t, 0, 1000)

	_, err := pool.Allocate(100, 0)
	require.NoError(t, err)
	mid, err := pool.Allocate(100, 0)
	require.NoError(t, err)
	_, err = pool.Allocate(100, 0)
	require.NoError(t, err)
	require.NoError(t, pool.Deallocate(mid))

	var stats memutils.DetailedStatistics
	stats.Clear()
	pool.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		FreeRangeCount:    2,
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeRangeSizeMin:  100,
		FreeRangeSizeMax:  700,
	}, stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	pool.BlockJsonData(obj)
	obj.End()

	require.JSONEq(t, `{
		"FreeBytes": 800,
		"Strategy": "StrategyFirstFit",
		"FreeRanges": [
			{"Base": 100, "Size": 100},
			{"Base": 300, "Size": 700}
		]
	}`, string(writer.Bytes()))

	pool.Clear()
	require.Zero(t, pool.BlockCount())
	require.NoError(t, pool.Validate())
}
