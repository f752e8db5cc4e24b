// Package ipc implements the synchronous command buffer protocol used to talk to system
// services. A request is laid out in a per-thread CommandBuffer as a header word, the plain
// parameter words, and the translate parameters (descriptor words followed by the handles or
// addresses they describe). The reply overwrites the same buffer.
package ipc

import (
	"fmt"
)

// CommandBufferWords is the capacity of a CommandBuffer, header included
const CommandBufferWords = 64

// CommandBuffer is the fixed-size word array a single call is marshalled in
type CommandBuffer [CommandBufferWords]uint32

// Header is the first word of a request or reply. It holds the command id in bits 16-31, the
// number of plain parameter words in bits 6-11 and the number of translate parameter words in bits
// 0-5.
type Header uint32

const paramCountMask = 0x3F

// MakeHeader encodes a header word. The counts are truncated to 6 bits.
func MakeHeader(commandID uint16, normalParams, translateParams int) Header {
	return Header(uint32(commandID)<<16 | uint32(normalParams&paramCountMask)<<6 | uint32(translateParams&paramCountMask))
}

func (h Header) CommandID() uint16 { return uint16(h >> 16) }

func (h Header) NormalParams() int { return int(h>>6) & paramCountMask }

func (h Header) TranslateParams() int { return int(h) & paramCountMask }

// Words is the number of buffer words the header describes, including itself
func (h Header) Words() int { return 1 + h.NormalParams() + h.TranslateParams() }

func (h Header) String() string {
	return fmt.Sprintf("Header(cmd=%#x, normal=%d, translate=%d)", h.CommandID(), h.NormalParams(), h.TranslateParams())
}
