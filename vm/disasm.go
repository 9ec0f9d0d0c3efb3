package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of an instruction stream.
// Node bodies embedded by the allocation opcodes are listed indented below
// the instruction that carries them.
func Disassemble(code []byte) string {
	var sb strings.Builder
	disassembleInto(&sb, code, "")
	return sb.String()
}

// DisassembleLoad lists both segments of a load buffer.
func DisassembleLoad(buf []byte) (string, error) {
	ld, err := ParseLoad(buf)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; init (%d bytes)\n", len(ld.Init)))
	disassembleInto(&sb, ld.Init, "")
	sb.WriteString(fmt.Sprintf("; update (%d bytes)\n", len(ld.Update)))
	disassembleInto(&sb, ld.Update, "")
	return sb.String(), nil
}

func disassembleInto(sb *strings.Builder, code []byte, indent string) {
	offset := 0
	for offset < len(code) {
		line, body, n := disassembleInstruction(code, offset)
		sb.WriteString(fmt.Sprintf("%s%04X  %s\n", indent, offset, line))
		if n == 0 {
			return
		}
		if body != nil {
			disassembleInto(sb, body, indent+"    | ")
		}
		offset += n
	}
}

// disassembleInstruction formats the instruction at offset. It returns the
// embedded node body, if any, and the total instruction length, or 0 when
// the instruction is truncated.
func disassembleInstruction(code []byte, offset int) (string, []byte, int) {
	op := Opcode(code[offset])
	info := GetOpcodeInfo(op)
	rest := code[offset+1:]
	if len(rest) < info.OperandLen {
		return fmt.Sprintf("%-14s <truncated>", info.Name), nil, 0
	}

	switch op {
	case OpInt:
		v := int32(binary.LittleEndian.Uint32(rest))
		return fmt.Sprintf("%-14s %d", info.Name, v), nil, 5

	case OpBool:
		return fmt.Sprintf("%-14s %t", info.Name, rest[0] != 0), nil, 2

	case OpJ8, OpJe8:
		target := offset + int(rest[0])
		return fmt.Sprintf("%-14s %d -> %04X", info.Name, rest[0], target), nil, 2

	case OpGetLocal, OpSetLocal:
		return fmt.Sprintf("%-14s slot %d", info.Name, rest[0]), nil, 2

	case OpUpdateNode, OpGetNode, OpSetNode, OpGetLast:
		return fmt.Sprintf("%-14s #%d", info.Name, rest[0]), nil, 2

	case OpAllocNode:
		n := int(int32(binary.LittleEndian.Uint32(rest[1:])))
		if n < 0 || len(rest) < 5+n {
			return fmt.Sprintf("%-14s #%d len %d <truncated>", info.Name, rest[0], n), nil, 0
		}
		return fmt.Sprintf("%-14s #%d len %d", info.Name, rest[0], n), rest[5 : 5+n], 6 + n

	case OpAllocNodeNew:
		n := int(int32(binary.LittleEndian.Uint32(rest)))
		if n < 0 || len(rest) < 4+n {
			return fmt.Sprintf("%-14s len %d <truncated>", info.Name, n), nil, 0
		}
		return fmt.Sprintf("%-14s len %d", info.Name, n), rest[4 : 4+n], 5 + n
	}

	return info.Name, nil, 1 + info.OperandLen
}
