package vm

import "fmt"

// Opcode is a single bytecode instruction. Values are fixed by the wire
// format produced by the emfrp compiler.
type Opcode byte

const (
	OpNone         Opcode = 0  // Uninitialized memory; always panics
	OpNil          Opcode = 1  // Push the empty address
	OpInt          Opcode = 2  // Push integer: OpInt <value:i32>
	OpBool         Opcode = 3  // Push 0/1: OpBool <value:u8>
	OpAdd          Opcode = 4  // Pop b, pop a, push a+b
	OpMul          Opcode = 5  // Pop b, pop a, push a*b
	OpJe8          Opcode = 6  // Pop cond, jump if nonzero: OpJe8 <offset:u8>
	OpJe32         Opcode = 7  // Reserved
	OpJ8           Opcode = 8  // Jump: OpJ8 <offset:u8>
	OpJ32          Opcode = 9  // Reserved
	OpGetLocal     Opcode = 10 // Push frame slot: OpGetLocal <slot:u8>
	OpSetLocal     Opcode = 11 // Pop into frame slot: OpSetLocal <slot:u8>
	OpAllocNode    Opcode = 12 // Replace node: OpAllocNode <node:u8> <len:u32> <insns>
	OpAllocNodeNew Opcode = 13 // Append node: OpAllocNodeNew <len:u32> <insns>
	OpUpdateNode   Opcode = 14 // Run node update: OpUpdateNode <node:u8>
	OpGetNode      Opcode = 15 // Push node value: OpGetNode <node:u8>
	OpSetNode      Opcode = 16 // Pop into node value: OpSetNode <node:u8>
	OpGetLast      Opcode = 17 // Push previous-tick value: OpGetLast <node:u8>
	OpSaveLast     Opcode = 18 // Commit value into last for every node
	OpAllocFunc    Opcode = 19 // Reserved
	OpAllocFuncNew Opcode = 20 // Reserved
	OpAllocData    Opcode = 21 // Reserved
	OpAllocDataNew Opcode = 22 // Reserved
	OpReturn       Opcode = 23 // Return from a node update
	OpCall         Opcode = 24 // Reserved
	OpExit         Opcode = 25 // Terminate with exactly one value on the stack
	OpHalt         Opcode = 26 // Terminate with an empty stack
)

// OpcodeInfo provides metadata about each opcode for tracing and disassembly.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // Values popped
	StackPush  int    // Values pushed
	OperandLen int    // Fixed operand bytes after the opcode (excludes embedded node bodies)
	Reserved   bool   // Declared by the format but without behavior
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNone:         {"NONE", 0, 0, 0, false},
	OpNil:          {"NIL", 0, 1, 0, false},
	OpInt:          {"INT", 0, 1, 4, false},
	OpBool:         {"BOOL", 0, 1, 1, false},
	OpAdd:          {"ADD", 2, 1, 0, false},
	OpMul:          {"MUL", 2, 1, 0, false},
	OpJe8:          {"JE8", 1, 0, 1, false},
	OpJe32:         {"JE32", 1, 0, 4, true},
	OpJ8:           {"J8", 0, 0, 1, false},
	OpJ32:          {"J32", 0, 0, 4, true},
	OpGetLocal:     {"GET_LOCAL", 0, 1, 1, false},
	OpSetLocal:     {"SET_LOCAL", 1, 0, 1, false},
	OpAllocNode:    {"ALLOC_NODE", 1, 0, 5, false},
	OpAllocNodeNew: {"ALLOC_NODE_NEW", 1, 0, 4, false},
	OpUpdateNode:   {"UPDATE_NODE", 0, 0, 1, false},
	OpGetNode:      {"GET_NODE", 0, 1, 1, false},
	OpSetNode:      {"SET_NODE", 1, 0, 1, false},
	OpGetLast:      {"GET_LAST", 0, 1, 1, false},
	OpSaveLast:     {"SAVE_LAST", 0, 0, 0, false},
	OpAllocFunc:    {"ALLOC_FUNC", 0, 0, 0, true},
	OpAllocFuncNew: {"ALLOC_FUNC_NEW", 0, 0, 0, true},
	OpAllocData:    {"ALLOC_DATA", 0, 0, 0, true},
	OpAllocDataNew: {"ALLOC_DATA_NEW", 0, 0, 0, true},
	OpReturn:       {"RETURN", 1, 1, 0, false},
	OpCall:         {"CALL", 0, 0, 0, true},
	OpExit:         {"EXIT", 0, 0, 0, false},
	OpHalt:         {"HALT", 0, 0, 0, false},
}

// GetOpcodeInfo returns metadata for an opcode.
// Unknown opcodes get the name "UNKNOWN(0xNN)".
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of fixed operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// IsJump reports whether op transfers control within the current buffer.
func (op Opcode) IsJump() bool {
	return op == OpJ8 || op == OpJe8
}

// IsNodeOp reports whether op addresses a node by index.
func (op Opcode) IsNodeOp() bool {
	switch op {
	case OpAllocNode, OpUpdateNode, OpGetNode, OpSetNode, OpGetLast:
		return true
	}
	return false
}

// IsDefined reports whether op has behavior in the interpreter.
func (op Opcode) IsDefined() bool {
	info, ok := opcodeInfoTable[op]
	return ok && !info.Reserved && op != OpNone
}
