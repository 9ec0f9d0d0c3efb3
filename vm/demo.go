package vm

// DemoProgram returns a load buffer with one toggling node.
//
// The init segment allocates node #0 with value 0 and the body
//
//	if GetNode(0) != 0 { return 0 } else { return 1 }
//
// The update segment commits the previous tick, runs node #0 and stores its
// result:
//
//	SaveLast; UpdateNode 0; SetNode 0; Halt
func DemoProgram() []byte {
	body := NewBuilder()
	body.EmitByte(OpGetNode, 0)
	toZero := body.EmitJump(OpJe8)
	body.EmitInt(1)
	toReturn := body.EmitJump(OpJ8)
	mustPatch(body.PatchJump(toZero))
	body.EmitInt(0)
	mustPatch(body.PatchJump(toReturn))
	body.Emit(OpReturn)

	setup := NewBuilder()
	setup.EmitInt(0)
	setup.EmitAllocNodeNew(body.Bytes())
	setup.Emit(OpHalt)

	update := NewBuilder()
	update.Emit(OpSaveLast)
	update.EmitByte(OpUpdateNode, 0)
	update.EmitByte(OpSetNode, 0)
	update.Emit(OpHalt)

	return EncodeLoad(setup.Bytes(), update.Bytes())
}

func mustPatch(err error) {
	if err != nil {
		panic(err)
	}
}
