package ipc

import (
	"github.com/cockroachdb/errors"
)

// DescriptorKind identifies what a translate parameter carries
type DescriptorKind int

const (
	// DescriptorSharedHandles copies handles into the receiving process
	DescriptorSharedHandles DescriptorKind = iota
	// DescriptorMoveHandles transfers handles, closing them in the sending process
	DescriptorMoveHandles
	// DescriptorCallingProcessID asks the kernel to fill in the sender's process id
	DescriptorCallingProcessID
	// DescriptorStaticBuffer copies a small buffer into one of the receiver's static buffers
	DescriptorStaticBuffer
	// DescriptorPXIBuffer passes a buffer to the PXI bridge
	DescriptorPXIBuffer
	// DescriptorMappedBuffer maps a buffer into the receiving process
	DescriptorMappedBuffer
)

var descriptorKindMapping = map[DescriptorKind]string{
	DescriptorSharedHandles:    "SharedHandles",
	DescriptorMoveHandles:      "MoveHandles",
	DescriptorCallingProcessID: "CallingProcessID",
	DescriptorStaticBuffer:     "StaticBuffer",
	DescriptorPXIBuffer:        "PXIBuffer",
	DescriptorMappedBuffer:     "MappedBuffer",
}

func (k DescriptorKind) String() string {
	return descriptorKindMapping[k]
}

// BufferRights is the access a mapped buffer grants the receiver
type BufferRights uint32

const (
	BufferRead  BufferRights = 1 << 1
	BufferWrite BufferRights = 1 << 2

	BufferReadWrite = BufferRead | BufferWrite
)

const (
	maxHandlesPerDescriptor = 64
	maxStaticBufferID       = 0xF
	maxStaticBufferSize     = 1<<18 - 1
	maxPXIBufferSize        = 1<<24 - 1
	maxMappedBufferSize     = 1<<28 - 1
)

// DescSharedHandles is the descriptor word for count copied handles
func DescSharedHandles(count int) uint32 {
	return uint32(count-1) << 26
}

// DescMoveHandles is the descriptor word for count moved handles
func DescMoveHandles(count int) uint32 {
	return uint32(count-1)<<26 | 0x10
}

// DescCallingProcessID is the descriptor word that makes the kernel write the sender's process id
// into the following word
func DescCallingProcessID() uint32 {
	return 0x20
}

// DescStaticBuffer is the descriptor word for a buffer copied into static buffer id of the receiver
func DescStaticBuffer(size int, id int) uint32 {
	return uint32(size)<<14 | uint32(id&maxStaticBufferID)<<10 | 0x2
}

// DescPXIBuffer is the descriptor word for a PXI buffer
func DescPXIBuffer(size int, id int, readOnly bool) uint32 {
	kind := uint32(0x4)
	if readOnly {
		kind = 0x6
	}
	return uint32(size)<<8 | uint32(id&maxStaticBufferID)<<4 | kind
}

// DescBuffer is the descriptor word for a mapped buffer
func DescBuffer(size int, rights BufferRights) uint32 {
	return uint32(size)<<4 | 0x8 | uint32(rights&BufferReadWrite)
}

// Descriptor is a decoded descriptor word
type Descriptor struct {
	Kind DescriptorKind

	// Count is the number of handles for handle descriptors, and 1 otherwise
	Count int
	// Size is the buffer length for buffer descriptors
	Size int
	// ID is the static buffer or PXI buffer index
	ID int
	// Rights is the access granted by a mapped buffer
	Rights BufferRights
	// ReadOnly is set for read-only PXI buffers
	ReadOnly bool
}

// ValueWords is the number of words following the descriptor word
func (d Descriptor) ValueWords() int {
	return d.Count
}

// ParseDescriptor decodes a descriptor word
func ParseDescriptor(word uint32) (Descriptor, error) {
	if word&0x8 != 0 {
		return Descriptor{
			Kind:   DescriptorMappedBuffer,
			Count:  1,
			Size:   int(word >> 4),
			Rights: BufferRights(word) & BufferReadWrite,
		}, nil
	}

	switch word & 0xE {
	case 0x0:
		if word&0x20 != 0 {
			return Descriptor{Kind: DescriptorCallingProcessID, Count: 1}, nil
		}

		kind := DescriptorSharedHandles
		if word&0x10 != 0 {
			kind = DescriptorMoveHandles
		}
		return Descriptor{Kind: kind, Count: int(word>>26) + 1}, nil
	case 0x2:
		return Descriptor{
			Kind:  DescriptorStaticBuffer,
			Count: 1,
			Size:  int(word >> 14),
			ID:    int(word>>10) & maxStaticBufferID,
		}, nil
	case 0x4, 0x6:
		return Descriptor{
			Kind:     DescriptorPXIBuffer,
			Count:    1,
			Size:     int(word >> 8),
			ID:       int(word>>4) & maxStaticBufferID,
			ReadOnly: word&0x2 != 0,
		}, nil
	}

	return Descriptor{}, errors.Newf("unrecognized descriptor word %#08x", word)
}

// TranslateParam is one descriptor together with the words it describes
type TranslateParam struct {
	Descriptor Descriptor
	Values     []uint32
}

// ParseTranslateParams splits the translate section of a command buffer into descriptors. The
// returned values alias words.
func ParseTranslateParams(words []uint32) ([]TranslateParam, error) {
	var params []TranslateParam

	for index := 0; index < len(words); {
		descriptor, err := ParseDescriptor(words[index])
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "translate word %d", index), ErrMalformedRequest)
		}

		end := index + 1 + descriptor.ValueWords()
		if end > len(words) {
			return nil, errors.Wrapf(ErrMalformedRequest, "%s descriptor at translate word %d needs %d words but only %d remain",
				descriptor.Kind, index, descriptor.ValueWords(), len(words)-index-1)
		}

		params = append(params, TranslateParam{
			Descriptor: descriptor,
			Values:     words[index+1 : end],
		})
		index = end
	}

	return params, nil
}
