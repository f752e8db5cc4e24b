package mempool

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// MaxAlignShift is one past the largest alignment shift Allocate accepts
const MaxAlignShift = 32

// Chunk is an allocated range of a Pool. It is produced by Allocate and handed back to Deallocate;
// the Pool does not remember it in between.
type Chunk struct {
	Addr int
	Size int
}

// End is the first address past the chunk
func (c Chunk) End() int { return c.Addr + c.Size }

// Pool tracks the free space of a single contiguous region as a doubly-linked list of Blocks.
//
// The list is kept in strictly increasing address order and no two blocks in it are overlapping or
// byte-adjacent: freeing a range that touches a neighbor always merges into that neighbor. The sum
// of all block sizes is exactly the free space of the region.
//
// Pool performs no locking of its own. Callers that share a Pool between goroutines must serialize
// access to it.
type Pool struct {
	first *Block
	last  *Block

	source   BlockSource
	strategy Strategy
}

var _ memutils.Validatable = &Pool{}

// New creates an empty Pool. source may be nil, in which case DefaultBlockSource is used.
func New(source BlockSource, strategy Strategy) *Pool {
	if source == nil {
		source = DefaultBlockSource
	}

	return &Pool{
		source:   source,
		strategy: strategy,
	}
}

// Strategy returns the placement strategy the pool was created with
func (p *Pool) Strategy() Strategy { return p.strategy }

// First returns the lowest-addressed free range, or nil if the pool has no free space
func (p *Pool) First() *Block { return p.first }

// Last returns the highest-addressed free range, or nil if the pool has no free space
func (p *Pool) Last() *Block { return p.last }

// BlockCount returns the number of distinct free ranges
func (p *Pool) BlockCount() int {
	count := 0
	for b := p.first; b != nil; b = b.next {
		count++
	}
	return count
}

func (p *Pool) newBlock(base, size int) *Block {
	b := p.source.AcquireBlock()
	if b == nil {
		return nil
	}
	b.reset(base, size)
	return b
}

func (p *Pool) deleteBlock(b *Block) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		p.first = b.next
	}

	if b.next != nil {
		b.next.prev = b.prev
	} else {
		p.last = b.prev
	}

	p.source.ReleaseBlock(b)
}

func (p *Pool) insertBefore(b, n *Block) {
	n.prev = b.prev
	n.next = b
	if b.prev != nil {
		b.prev.next = n
	} else {
		p.first = n
	}
	b.prev = n
}

func (p *Pool) insertAfter(b, n *Block) {
	n.prev = b
	n.next = b.next
	if b.next != nil {
		b.next.prev = n
	} else {
		p.last = n
	}
	b.next = n
}

func (p *Pool) appendBlock(n *Block) {
	n.prev = p.last
	n.next = nil
	if p.last != nil {
		p.last.next = n
	} else {
		p.first = n
	}
	p.last = n
}

// AddBlock appends a new free range at the end of the list. No merging is performed, so the caller
// is responsible for the range lying past, and not touching, the current last block. It is used to
// seed a fresh pool with its backing region.
func (p *Pool) AddBlock(base, size int) error {
	if size <= 0 {
		return errors.Newf("free range size must be positive, got %d", size)
	}

	b := p.newBlock(base, size)
	if b == nil {
		return errors.Wrapf(memutils.ErrOutOfMemory, "could not obtain metadata for free range at %#x", base)
	}

	p.appendBlock(b)
	return nil
}

func fitAddress(b *Block, size int, alignment uint) (int, bool) {
	addr := memutils.AlignUp(b.base, alignment)
	waste := addr - b.base
	// Both sides stay non-negative, so the comparison cannot wrap
	if size <= 0 || waste < 0 || waste > b.size || b.size-waste < size {
		return 0, false
	}
	return addr, true
}

func (p *Pool) findBlock(size int, alignment uint) (*Block, int) {
	var best *Block
	var bestAddr int

	for b := p.first; b != nil; b = b.next {
		addr, ok := fitAddress(b, size, alignment)
		if !ok {
			continue
		}

		if p.strategy != StrategyBestFit {
			return b, addr
		}

		if best == nil || b.size < best.size {
			best = b
			bestAddr = addr
		}
	}

	return best, bestAddr
}

// Allocate reserves size bytes aligned to 1<<alignShift. The size is rounded up to the alignment
// before searching, and the returned Chunk reports the rounded size.
//
// The range preceding the aligned address stays in the list as its own free block. The range
// following the allocation is spliced in after it as a new block. If no metadata node can be
// obtained for that trailing range, the trailing bytes are donated to the returned chunk rather
// than leaked, so Chunk.Size may be larger than requested.
//
// If no free range can hold the request, memutils.ErrOutOfMemory is returned and the pool is not
// modified.
func (p *Pool) Allocate(size int, alignShift int) (Chunk, error) {
	if size <= 0 {
		return Chunk{}, errors.Newf("allocation size must be positive, got %d", size)
	}
	if alignShift < 0 || alignShift >= MaxAlignShift {
		return Chunk{}, errors.Newf("alignment shift %d is outside [0, %d)", alignShift, MaxAlignShift)
	}

	alignment := uint(1) << alignShift
	if size > math.MaxInt-int(alignment)+1 {
		return Chunk{}, errors.Wrapf(memutils.ErrOutOfMemory, "%d bytes aligned to %#x is larger than any address range", size, alignment)
	}
	size = memutils.AlignUp(size, alignment)

	b, addr := p.findBlock(size, alignment)
	if b == nil {
		return Chunk{}, errors.Wrapf(memutils.ErrOutOfMemory, "no free range holds %d bytes aligned to %#x", size, alignment)
	}

	chunk := Chunk{Addr: addr, Size: size}
	leadingWaste := addr - b.base

	if leadingWaste == 0 {
		b.base += size
		b.size -= size
		if b.size == 0 {
			p.deleteBlock(b)
		}
		return chunk, nil
	}

	trailingBase := chunk.End()
	trailingSize := b.End() - trailingBase
	b.size = leadingWaste

	if trailingSize > 0 {
		trailing := p.newBlock(trailingBase, trailingSize)
		if trailing == nil {
			chunk.Size += trailingSize
		} else {
			p.insertAfter(b, trailing)
		}
	}

	return chunk, nil
}

// Deallocate returns a chunk's range to the free list, keeping the list sorted and merging with any
// neighboring free range it touches.
//
// A chunk that overlaps a range which is already free is rejected without modifying the pool. If
// the range needs a new metadata node and none can be obtained, memutils.ErrOutOfMemory is returned
// and the range is not tracked.
func (p *Pool) Deallocate(chunk Chunk) error {
	if chunk.Size <= 0 {
		return errors.Newf("chunk size must be positive, got %d", chunk.Size)
	}

	for b := p.first; b != nil; b = b.next {
		if b.base < chunk.End() && chunk.Addr < b.End() {
			return errors.Newf("chunk [%#x, %#x) overlaps free range [%#x, %#x)", chunk.Addr, chunk.End(), b.base, b.End())
		}

		if b.base > chunk.Addr {
			if chunk.End() == b.base {
				b.base = chunk.Addr
				b.size += chunk.Size
				return nil
			}

			n := p.newBlock(chunk.Addr, chunk.Size)
			if n == nil {
				return errors.Wrapf(memutils.ErrOutOfMemory, "could not obtain metadata for freed range at %#x", chunk.Addr)
			}
			p.insertBefore(b, n)
			return nil
		}

		if b.End() == chunk.Addr {
			// b.next has not been compared against the chunk yet
			if b.next != nil && b.next.base < chunk.End() {
				return errors.Newf("chunk [%#x, %#x) overlaps free range [%#x, %#x)", chunk.Addr, chunk.End(), b.next.base, b.next.End())
			}
			b.size += chunk.Size
			p.CoalesceRight(b)
			return nil
		}
	}

	n := p.newBlock(chunk.Addr, chunk.Size)
	if n == nil {
		return errors.Wrapf(memutils.ErrOutOfMemory, "could not obtain metadata for freed range at %#x", chunk.Addr)
	}
	p.appendBlock(n)
	return nil
}

// CoalesceRight absorbs every block directly following b that begins exactly where b ends
func (p *Pool) CoalesceRight(b *Block) {
	end := b.End()
	for n := b.next; n != nil && n.base == end; n = b.next {
		b.size += n.size
		end += n.size
		p.deleteBlock(n)
	}
}

// FreeSpace returns the total number of free bytes. It walks the whole list.
func (p *Pool) FreeSpace() int {
	total := 0
	for b := p.first; b != nil; b = b.next {
		total += b.size
	}
	return total
}

// Clear releases every free range, leaving an empty pool
func (p *Pool) Clear() {
	for p.first != nil {
		p.deleteBlock(p.first)
	}
}

// VisitBlocks calls visit for each free range in address order, stopping at the first error
func (p *Pool) VisitBlocks(visit func(base, size int) error) error {
	for b := p.first; b != nil; b = b.next {
		err := visit(b.base, b.size)
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the free list's links, ordering and coalescing. It walks the whole list.
func (p *Pool) Validate() error {
	if (p.first == nil) != (p.last == nil) {
		return errors.AssertionFailedf("free list head and tail disagree about whether the list is empty")
	}

	var prev *Block
	for b := p.first; b != nil; b = b.next {
		if b.prev != prev {
			return errors.AssertionFailedf("free range at %#x has a broken back link", b.base)
		}

		if b.size <= 0 {
			return errors.AssertionFailedf("free range at %#x has non-positive size %d", b.base, b.size)
		}

		if prev != nil {
			if prev.End() > b.base {
				return errors.AssertionFailedf("free range [%#x, %#x) overlaps or precedes free range [%#x, %#x)", b.base, b.End(), prev.base, prev.End())
			}
			if prev.End() == b.base {
				return errors.AssertionFailedf("free ranges [%#x, %#x) and [%#x, %#x) are adjacent but were not coalesced", prev.base, prev.End(), b.base, b.End())
			}
		}

		prev = b
	}

	if prev != p.last {
		return errors.AssertionFailedf("free list tail does not point at the last free range")
	}

	return nil
}

// AddDetailedStatistics sums this pool's free ranges into stats
func (p *Pool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for b := p.first; b != nil; b = b.next {
		stats.AddFreeRange(b.size)
	}
}

// BlockJsonData populates a json object with the pool's free ranges
func (p *Pool) BlockJsonData(json jwriter.ObjectState) {
	json.Name("FreeBytes").Int(p.FreeSpace())
	json.Name("Strategy").String(p.strategy.String())

	ranges := json.Name("FreeRanges").Array()
	defer ranges.End()

	for b := p.first; b != nil; b = b.next {
		obj := ranges.Object()
		obj.Name("Base").Int(b.base)
		obj.Name("Size").Int(b.size)
		obj.End()
	}
}
