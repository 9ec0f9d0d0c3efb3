package vm

import (
	"github.com/pkg/errors"
)

// Builder assembles an instruction stream. It is used by tests, the demo
// program and tools that synthesize load buffers; the emfrp compiler emits
// the same encoding.
type Builder struct {
	code []byte
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{code: make([]byte, 0, 32)}
}

// Emit appends an opcode without operands and returns its offset.
func (b *Builder) Emit(op Opcode) int {
	offset := len(b.code)
	b.code = append(b.code, byte(op))
	return offset
}

// EmitByte appends an opcode with a single-byte operand.
func (b *Builder) EmitByte(op Opcode, operand byte) int {
	offset := b.Emit(op)
	b.code = append(b.code, operand)
	return offset
}

// EmitInt appends OpInt with a 32-bit literal.
func (b *Builder) EmitInt(v int32) int {
	offset := b.Emit(OpInt)
	b.code = putInt32(b.code, v)
	return offset
}

// EmitBool appends OpBool.
func (b *Builder) EmitBool(v bool) int {
	var operand byte
	if v {
		operand = 1
	}
	return b.EmitByte(OpBool, operand)
}

// EmitAllocNode appends OpAllocNode replacing node index with body.
func (b *Builder) EmitAllocNode(index byte, body []byte) int {
	offset := b.EmitByte(OpAllocNode, index)
	b.code = putInt32(b.code, int32(len(body)))
	b.code = append(b.code, body...)
	return offset
}

// EmitAllocNodeNew appends OpAllocNodeNew with body.
func (b *Builder) EmitAllocNodeNew(body []byte) int {
	offset := b.Emit(OpAllocNodeNew)
	b.code = putInt32(b.code, int32(len(body)))
	b.code = append(b.code, body...)
	return offset
}

// EmitJump appends a jump with a placeholder offset. The returned offset of
// the jump opcode is passed to PatchJump once the target is known.
func (b *Builder) EmitJump(op Opcode) int {
	return b.EmitByte(op, 0xFF)
}

// PatchJump points the jump at offset to the current end of code.
func (b *Builder) PatchJump(at int) error {
	return b.PatchJumpTo(at, len(b.code))
}

// PatchJumpTo points the jump at offset to target. Offsets are unsigned and
// relative to the jump opcode itself, so only forward targets up to 255
// bytes away are encodable.
func (b *Builder) PatchJumpTo(at, target int) error {
	if at < 0 || at+1 >= len(b.code) || !Opcode(b.code[at]).IsJump() {
		return errors.Errorf("no jump instruction at %04X", at)
	}
	delta := target - at
	if delta < 0 || delta > 0xFF {
		return errors.Errorf("jump from %04X to %04X not encodable in 8 bits", at, target)
	}
	b.code[at+1] = byte(delta)
	return nil
}

// Len returns the current code length.
func (b *Builder) Len() int { return len(b.code) }

// Bytes returns a copy of the assembled code.
func (b *Builder) Bytes() []byte {
	return append([]byte{}, b.code...)
}
