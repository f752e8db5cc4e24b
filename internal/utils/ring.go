package utils

// RingHeader is the packed word at the head of the shared memory rings: byte 0 is the cursor of the
// oldest pending entry, byte 1 the number of pending entries, byte 2 the error flags and byte 3 is
// reserved.
type RingHeader struct {
	Cursor   int
	Count    int
	Flags    uint8
	Reserved uint8
}

func UnpackRingHeader(word uint32) RingHeader {
	return RingHeader{
		Cursor:   int(word & 0xFF),
		Count:    int(word>>8) & 0xFF,
		Flags:    uint8(word >> 16),
		Reserved: uint8(word >> 24),
	}
}

func (h RingHeader) Pack() uint32 {
	return uint32(h.Cursor&0xFF) | uint32(h.Count&0xFF)<<8 | uint32(h.Flags)<<16 | uint32(h.Reserved)<<24
}

// Next returns the index of the slot after the pending ones, in a ring of capacity slots
func (h RingHeader) Next(capacity int) int {
	return (h.Cursor + h.Count) % capacity
}
