package mempool

import "sync"

// Block is one maximal free range of a Pool. Blocks are metadata only: they describe address space
// and never live inside the memory they describe.
type Block struct {
	base int
	size int
	prev *Block
	next *Block
}

// Base is the first address of the free range
func (b *Block) Base() int { return b.base }

// Size is the length in bytes of the free range
func (b *Block) Size() int { return b.size }

// End is the first address past the free range
func (b *Block) End() int { return b.base + b.size }

// Next returns the following free range in address order, or nil for the last one
func (b *Block) Next() *Block { return b.next }

// Prev returns the preceding free range in address order, or nil for the first one
func (b *Block) Prev() *Block { return b.prev }

func (b *Block) reset(base, size int) {
	b.base = base
	b.size = size
	b.prev = nil
	b.next = nil
}

// BlockSource supplies the metadata nodes a Pool threads into its free list. AcquireBlock returns nil
// when no node can be produced; the Pool treats that as metadata exhaustion.
type BlockSource interface {
	AcquireBlock() *Block
	ReleaseBlock(b *Block)
}

var blockAllocator = sync.Pool{
	New: func() any {
		return &Block{}
	},
}

type recycledBlockSource struct{}

func (recycledBlockSource) AcquireBlock() *Block {
	return blockAllocator.Get().(*Block)
}

func (recycledBlockSource) ReleaseBlock(b *Block) {
	b.reset(0, 0)
	blockAllocator.Put(b)
}

// DefaultBlockSource recycles Block nodes through a process-wide sync.Pool and never fails
var DefaultBlockSource BlockSource = recycledBlockSource{}
