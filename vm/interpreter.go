package vm

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (rt *Runtime) push(v Value) error {
	if rt.sp >= len(rt.stack) {
		return ErrStackOverflow
	}
	rt.stack[rt.sp] = v
	rt.sp++
	return nil
}

// pop never reaches below the current frame's base; the linkage words
// under it are only consumed by OpReturn.
func (rt *Runtime) pop() (Value, error) {
	if rt.sp <= rt.fp {
		return Value{}, ErrStackUnderflow
	}
	rt.sp--
	return rt.stack[rt.sp], nil
}

func (rt *Runtime) popInt() (int32, error) {
	v, err := rt.pop()
	if err != nil {
		return 0, err
	}
	n, ok := v.AsInt()
	if !ok {
		return 0, ErrTypeMismatch
	}
	return n, nil
}

// local resolves a frame-relative slot to a live stack index.
func (rt *Runtime) local(slot byte) (int, error) {
	idx := rt.fp + int(slot)
	if idx >= rt.sp {
		return 0, ErrLocalSlot
	}
	return idx, nil
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// Exec interprets code until it reaches a terminal instruction. The stack
// is reset on entry. On OpExit the single remaining value is returned; on
// OpHalt the returned value is the zero integer. Any other outcome is an
// *ExecError, including failures raised inside nested node updates.
//
// Exec is not re-entrant: device input drivers must not call back into the
// runtime that invoked them.
func (rt *Runtime) Exec(code []byte) (Value, error) {
	rt.sp, rt.fp, rt.calls, rt.steps = 0, 0, 0, 0

	var (
		pc    int
		start int
		op    Opcode
	)
	fault := func(err error) (Value, error) {
		return Value{}, &ExecError{
			Status: statusFor(err),
			Err:    err,
			Op:     op,
			PC:     start,
			Depth:  rt.calls,
		}
	}
	// need reports whether n operand bytes follow the cursor.
	need := func(n int) bool {
		return n >= 0 && pc+n <= len(code)
	}

	for {
		if rt.cfg.StepLimit > 0 && rt.steps >= rt.cfg.StepLimit {
			return fault(ErrStepLimit)
		}
		start = pc
		if pc < 0 || pc >= len(code) {
			op = OpNone
			return fault(ErrMalformed)
		}
		op = Opcode(readByte(code, &pc))
		rt.steps++

		if rt.cfg.Trace {
			log.Debugf("[%04X] %-14s sp=%d fp=%d depth=%d", start, op, rt.sp, rt.fp, rt.calls)
		}

		var err error
		switch op {
		case OpNone:
			return fault(ErrNoneOpcode)

		case OpNil:
			err = rt.push(Nil)

		case OpInt:
			if !need(4) {
				return fault(ErrMalformed)
			}
			err = rt.push(Int(readInt32(code, &pc)))

		case OpBool:
			if !need(1) {
				return fault(ErrMalformed)
			}
			err = rt.push(Bool(readByte(code, &pc) != 0))

		case OpAdd, OpMul:
			var a, b int32
			if b, err = rt.popInt(); err != nil {
				break
			}
			if a, err = rt.popInt(); err != nil {
				break
			}
			if op == OpAdd {
				err = rt.push(Int(a + b))
			} else {
				err = rt.push(Int(a * b))
			}

		case OpJ8:
			if !need(1) {
				return fault(ErrMalformed)
			}
			pc = start + int(readByte(code, &pc))

		case OpJe8:
			var cond int32
			if cond, err = rt.popInt(); err != nil {
				break
			}
			if !need(1) {
				return fault(ErrMalformed)
			}
			offset := readByte(code, &pc)
			if cond != 0 {
				pc = start + int(offset)
			}

		case OpGetLocal:
			if !need(1) {
				return fault(ErrMalformed)
			}
			var idx int
			if idx, err = rt.local(readByte(code, &pc)); err != nil {
				break
			}
			err = rt.push(rt.stack[idx])

		case OpSetLocal:
			var v Value
			if v, err = rt.pop(); err != nil {
				break
			}
			if !need(1) {
				return fault(ErrMalformed)
			}
			var idx int
			if idx, err = rt.local(readByte(code, &pc)); err != nil {
				break
			}
			rt.stack[idx] = v

		case OpAllocNode:
			var initial int32
			if initial, err = rt.popInt(); err != nil {
				break
			}
			if !need(5) {
				return fault(ErrMalformed)
			}
			index := readByte(code, &pc)
			n := int(readInt32(code, &pc))
			if !need(n) {
				return fault(ErrMalformed)
			}
			body := code[pc : pc+n]
			pc += n
			err = rt.graph.Alloc(int(index), initial, body)

		case OpAllocNodeNew:
			var initial int32
			if initial, err = rt.popInt(); err != nil {
				break
			}
			if !need(4) {
				return fault(ErrMalformed)
			}
			n := int(readInt32(code, &pc))
			if !need(n) {
				return fault(ErrMalformed)
			}
			body := code[pc : pc+n]
			pc += n
			rt.graph.AllocNew(initial, body)

		case OpUpdateNode:
			if !need(1) {
				return fault(ErrMalformed)
			}
			var node *Node
			if node, err = rt.graph.At(int(readByte(code, &pc))); err != nil {
				break
			}
			switch node.Source {
			case SourceDevice:
				if node.Input != nil {
					node.Input(&node.Value)
				}
			case SourceBytecode:
				// Linkage: saved frame pointer, then return address.
				if err = rt.push(AddrValue(Addr{Offset: rt.fp})); err != nil {
					break
				}
				if err = rt.push(AddrValue(Addr{Code: code, Offset: pc})); err != nil {
					break
				}
				rt.fp = rt.sp
				rt.calls++
				code, pc = node.Program, 0
			}

		case OpGetNode, OpGetLast:
			if !need(1) {
				return fault(ErrMalformed)
			}
			var node *Node
			if node, err = rt.graph.At(int(readByte(code, &pc))); err != nil {
				break
			}
			if op == OpGetNode {
				err = rt.push(Int(node.Value))
			} else {
				err = rt.push(Int(node.Last))
			}

		case OpSetNode:
			var v int32
			if v, err = rt.popInt(); err != nil {
				break
			}
			if !need(1) {
				return fault(ErrMalformed)
			}
			var node *Node
			if node, err = rt.graph.At(int(readByte(code, &pc))); err != nil {
				break
			}
			node.Value = v

		case OpSaveLast:
			rt.graph.SaveLast()

		case OpReturn:
			if rt.calls == 0 {
				return fault(ErrReturnOutsideCall)
			}
			var ret Value
			if ret, err = rt.pop(); err != nil {
				break
			}
			savedFP, ok1 := rt.stack[rt.fp-2].AsAddr()
			retAddr, ok2 := rt.stack[rt.fp-1].AsAddr()
			if !ok1 || !ok2 || savedFP.Code != nil || retAddr.Code == nil {
				return fault(ErrBadLinkage)
			}
			rt.sp = rt.fp - 2
			rt.stack[rt.sp] = ret
			rt.sp++
			rt.fp = savedFP.Offset
			rt.calls--
			code, pc = retAddr.Code, retAddr.Offset

		case OpExit:
			if rt.sp != 1 {
				return fault(ErrExitDepth)
			}
			return rt.stack[0], nil

		case OpHalt:
			if rt.sp != 0 {
				return fault(ErrHaltDepth)
			}
			return Value{}, nil

		default:
			return fault(ErrUnimplemented)
		}

		if err != nil {
			return fault(err)
		}
		if rt.sp < 0 || rt.sp >= len(rt.stack) {
			return fault(ErrStackOverflow)
		}
	}
}
