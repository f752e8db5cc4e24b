package gsp

// CommandID is the first byte of a GX command
type CommandID uint8

const (
	CommandRequestDMA         CommandID = 0x00
	CommandProcessCommandList CommandID = 0x01
	CommandMemoryFill         CommandID = 0x02
	CommandDisplayTransfer    CommandID = 0x03
	CommandTextureCopy        CommandID = 0x04
	CommandFlushCacheRegions  CommandID = 0x05
)

var commandIDMapping = map[CommandID]string{
	CommandRequestDMA:         "RequestDMA",
	CommandProcessCommandList: "ProcessCommandList",
	CommandMemoryFill:         "MemoryFill",
	CommandDisplayTransfer:    "DisplayTransfer",
	CommandTextureCopy:        "TextureCopy",
	CommandFlushCacheRegions:  "FlushCacheRegions",
}

func (c CommandID) String() string {
	return commandIDMapping[c]
}

// CommandWords is the size of one GX command slot
const CommandWords = 8

// Command is one GX command slot
type Command [CommandWords]uint32

func (c Command) ID() CommandID { return CommandID(c[0] & 0xFF) }

// BufferDim packs a framebuffer width and height for DisplayTransfer and TextureCopy
func BufferDim(width, height uint16) uint32 {
	return uint32(height)<<16 | uint32(width)
}

// ProcessListFlags controls how the GPU consumes a command list
type ProcessListFlags uint8

const (
	// ProcessListUpdateGasResults asks the GPU to record gas rendering results
	ProcessListUpdateGasResults ProcessListFlags = 1 << iota
	// ProcessListFlush flushes the list from the data cache before it is read
	ProcessListFlush
)

// RequestDMA copies size bytes from src to dst
func RequestDMA(src, dst, size uint32) Command {
	return Command{uint32(CommandRequestDMA), src, dst, size}
}

// ProcessCommandList runs a GPU command list
func ProcessCommandList(addr, size uint32, flags ProcessListFlags) Command {
	var command Command
	command[0] = uint32(CommandProcessCommandList)
	command[1] = addr
	command[2] = size
	command[3] = uint32(flags & ProcessListUpdateGasResults)
	if flags&ProcessListFlush != 0 {
		command[7] = 1
	}
	return command
}

// FillTarget is one buffer a MemoryFill clears
type FillTarget struct {
	Start   uint32
	Value   uint32
	End     uint32
	Control uint16
}

// MemoryFill fills up to two buffers with a value
func MemoryFill(first, second FillTarget) Command {
	return Command{
		uint32(CommandMemoryFill),
		first.Start, first.Value, first.End,
		second.Start, second.Value, second.End,
		uint32(first.Control) | uint32(second.Control)<<16,
	}
}

// DisplayTransfer copies a framebuffer, converting its format and tiling as flags specify
func DisplayTransfer(in uint32, inDim uint32, out uint32, outDim uint32, flags uint32) Command {
	return Command{uint32(CommandDisplayTransfer), in, out, inDim, outDim, flags}
}

// TextureCopy copies size bytes between buffers with line gaps described by the dimensions
func TextureCopy(in uint32, inDim uint32, out uint32, outDim uint32, size uint32, flags uint32) Command {
	return Command{uint32(CommandTextureCopy), in, out, size, inDim, outDim, flags}
}

// CacheRegion is an address range to flush
type CacheRegion struct {
	Addr uint32
	Size uint32
}

// FlushCacheRegions flushes up to three ranges from the data cache
func FlushCacheRegions(first, second, third CacheRegion) Command {
	return Command{
		uint32(CommandFlushCacheRegions),
		first.Addr, first.Size,
		second.Addr, second.Size,
		third.Addr, third.Size,
	}
}
