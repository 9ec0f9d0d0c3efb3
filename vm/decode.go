package vm

import "encoding/binary"

// readInt32 decodes a little-endian signed 32-bit integer at *pc and advances
// the cursor by 4. Callers check that four bytes are available.
func readInt32(code []byte, pc *int) int32 {
	v := int32(binary.LittleEndian.Uint32(code[*pc:]))
	*pc += 4
	return v
}

// readByte decodes one unsigned byte at *pc and advances the cursor by 1.
func readByte(code []byte, pc *int) byte {
	b := code[*pc]
	*pc++
	return b
}

// putInt32 appends v to buf in the little-endian wire encoding.
func putInt32(buf []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(v))
}
