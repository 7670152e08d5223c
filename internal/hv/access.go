package hv

import "encoding/binary"

// ReadU32LE decodes a little-endian register value from an MMIO data buffer.
// Short buffers are zero extended.
func ReadU32LE(data []byte) uint32 {
	if len(data) < 4 {
		var tmp [4]byte
		copy(tmp[:], data)
		return binary.LittleEndian.Uint32(tmp[:])
	}
	return binary.LittleEndian.Uint32(data)
}

// WriteU32LE encodes value into an MMIO data buffer, truncating to the
// buffer's length.
func WriteU32LE(data []byte, value uint32) {
	if len(data) >= 4 {
		binary.LittleEndian.PutUint32(data, value)
	} else {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], value)
		copy(data, tmp[:len(data)])
	}
}
