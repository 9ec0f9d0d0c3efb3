package vm

import "fmt"

// Kind tags the two cases a stack slot can hold.
type Kind uint8

const (
	// KindInt is a signed 32-bit integer. Booleans are 0/1 and node or local
	// indices are materialized as integers.
	KindInt Kind = iota

	// KindAddr is control linkage: a saved frame pointer or a saved return
	// address together with the instruction buffer it points into.
	KindAddr
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindAddr:
		return "addr"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Addr is an opaque address. Code is nil for a saved frame pointer, in which
// case Offset is a stack index. For a return address Code is the buffer to
// resume and Offset the instruction offset within it.
type Addr struct {
	Code   []byte
	Offset int
}

// Value is a single operand stack slot. It lives only on the stack and is
// never stored in a node.
type Value struct {
	kind Kind
	num  int32
	addr Addr
}

// Int returns an integer value.
func Int(n int32) Value {
	return Value{kind: KindInt, num: n}
}

// Bool returns 1 for true and 0 for false.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// AddrValue returns an address value.
func AddrValue(a Addr) Value {
	return Value{kind: KindAddr, addr: a}
}

// Nil is the empty address pushed by the Nil opcode.
var Nil = AddrValue(Addr{})

// Kind reports which case v holds.
func (v Value) Kind() Kind { return v.kind }

// IsInt reports whether v holds an integer.
func (v Value) IsInt() bool { return v.kind == KindInt }

// IsAddr reports whether v holds an address.
func (v Value) IsAddr() bool { return v.kind == KindAddr }

// AsInt returns the integer payload. ok is false for addresses.
func (v Value) AsInt() (n int32, ok bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.num, true
}

// AsAddr returns the address payload. ok is false for integers.
func (v Value) AsAddr() (a Addr, ok bool) {
	if v.kind != KindAddr {
		return Addr{}, false
	}
	return v.addr, true
}

// String formats v for traces and test failures.
func (v Value) String() string {
	if v.kind == KindInt {
		return fmt.Sprintf("%d", v.num)
	}
	if v.addr.Code == nil {
		if v.addr.Offset == 0 {
			return "nil"
		}
		return fmt.Sprintf("fp:%d", v.addr.Offset)
	}
	return fmt.Sprintf("ret:%04X/%d", v.addr.Offset, len(v.addr.Code))
}
