package vm

import (
	"bytes"
	"testing"
)

// timesTen is a node body computing GetNode(0) * 10.
var timesTen = code(op(OpGetNode, 0), intOp(10), op(OpMul), op(OpReturn))

func TestAllocNodeNewInitialValue(t *testing.T) {
	rt := New(Config{})
	v, err := rt.Exec(code(intOp(42), allocNew(), op(OpGetNode, 0), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 42)

	// Before the first SaveLast the previous-tick value is 0.
	v, err = rt.Exec(code(op(OpGetLast, 0), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 0)

	n, err := rt.Graph().At(0)
	if err != nil {
		t.Fatalf("At(0): %v", err)
	}
	if n.Source != SourceBytecode {
		t.Errorf("source = %s, want bytecode", n.Source)
	}
}

func TestAllocNodeNewAppendsInOrder(t *testing.T) {
	rt := New(Config{})
	_, err := rt.Exec(code(
		intOp(1), allocNew(),
		intOp(2), allocNew(),
		intOp(3), allocNew(),
		op(OpHalt),
	))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	nodes := rt.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}
	for i, n := range nodes {
		if n.Index != i || n.Value != int32(i+1) {
			t.Errorf("node %d = %v", i, n)
		}
	}
}

func TestSaveLastIsIdempotent(t *testing.T) {
	rt := New(Config{})
	_, err := rt.Exec(code(
		intOp(5), allocNew(),
		op(OpSaveLast),
		op(OpSaveLast),
		op(OpGetLast, 0), op(OpExit),
	))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	first := rt.Nodes()[0].Last

	if _, err := rt.Exec(code(op(OpSaveLast), op(OpHalt))); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if got := rt.Nodes()[0].Last; got != first || got != 5 {
		t.Errorf("last = %d after repeated SaveLast, want %d", got, first)
	}
}

func TestGetLastSeesPreviousTick(t *testing.T) {
	rt := New(Config{})
	if _, err := rt.Exec(code(intOp(1), allocNew(), op(OpSaveLast), op(OpHalt))); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	v, err := rt.Exec(code(intOp(9), op(OpSetNode, 0), op(OpGetLast, 0), op(OpGetNode, 0), op(OpAdd), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 10)
}

func TestUpdateNodeCallConvention(t *testing.T) {
	rt := New(Config{})
	if _, err := rt.Exec(code(intOp(3), allocNew(timesTen...), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	// The Add after UpdateNode only runs if execution resumes right after
	// the operand, and Exit only succeeds if the call left exactly one value.
	v, err := rt.Exec(code(intOp(1), op(OpUpdateNode, 0), op(OpAdd), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 31)
}

func TestUpdateNodeLeavesOneValue(t *testing.T) {
	rt := New(Config{})
	if _, err := rt.Exec(code(intOp(4), allocNew(timesTen...), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	v, err := rt.Exec(code(op(OpUpdateNode, 0), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 40)
	if rt.Depth() != 1 {
		t.Errorf("depth = %d, want 1", rt.Depth())
	}
}

func TestUpdateNodeNested(t *testing.T) {
	rt := New(Config{})
	// Node 1 updates node 0 and adds one to its result.
	outer := code(op(OpUpdateNode, 0), intOp(1), op(OpAdd), op(OpReturn))
	_, err := rt.Exec(code(
		intOp(2), allocNew(timesTen...),
		intOp(0), allocNew(outer...),
		op(OpHalt),
	))
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	v, err := rt.Exec(code(op(OpUpdateNode, 1), op(OpSetNode, 1), op(OpGetNode, 1), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 21)
}

func TestUpdateNodeWithLocals(t *testing.T) {
	rt := New(Config{})
	// Locals are frame-relative: slot 0 is the first value the body pushes.
	body := code(
		op(OpGetNode, 0),  // x
		op(OpGetLocal, 0), // x x
		op(OpMul),         // x*x
		op(OpReturn),
	)
	if _, err := rt.Exec(code(intOp(6), allocNew(body...), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	v, err := rt.Exec(code(intOp(100), op(OpUpdateNode, 0), op(OpAdd), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 136)
}

func TestAllocNodeReplacesProgram(t *testing.T) {
	rt := New(Config{})
	oldBody := code(intOp(1), op(OpReturn))
	newBody := code(intOp(2), op(OpReturn))
	if _, err := rt.Exec(code(intOp(0), allocNew(oldBody...), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	update := code(op(OpUpdateNode, 0), op(OpSetNode, 0), op(OpGetNode, 0), op(OpExit))
	v, err := rt.Exec(update)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 1)

	if _, err := rt.Exec(code(intOp(7), allocAt(0, newBody...), op(OpHalt))); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	n, _ := rt.Graph().At(0)
	if n.Value != 7 {
		t.Errorf("value after replace = %d, want 7", n.Value)
	}
	if !bytes.Equal(n.Program, newBody) {
		t.Errorf("program = % x, want % x", n.Program, newBody)
	}

	for i := 0; i < 3; i++ {
		v, err = rt.Exec(update)
		if err != nil {
			t.Fatalf("Exec failed: %v", err)
		}
		expectInt(t, v, 2)
	}
}

func TestAllocNodeOwnsItsProgram(t *testing.T) {
	rt := New(Config{})
	prog := code(intOp(0), allocNew(intOp(5)...), op(OpHalt))
	if _, err := rt.Exec(prog); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	for i := range prog {
		prog[i] = 0
	}
	n, _ := rt.Graph().At(0)
	if !bytes.Equal(n.Program, intOp(5)) {
		t.Errorf("node program changed with its source buffer: % x", n.Program)
	}
}

func TestNodeIndexOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"get", code(op(OpGetNode, 0), op(OpExit))},
		{"last", code(op(OpGetLast, 3), op(OpExit))},
		{"set", code(intOp(1), op(OpSetNode, 0), op(OpHalt))},
		{"update", code(op(OpUpdateNode, 0), op(OpHalt))},
		{"alloc", code(intOp(1), allocAt(0, byte(OpReturn)), op(OpHalt))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{}).Exec(tt.code)
			expectStatus(t, err, StatusIndexOutOfRange, ErrNodeIndex)
		})
	}
}

func TestNestedErrorPropagates(t *testing.T) {
	rt := New(Config{})
	if _, err := rt.Exec(code(intOp(0), allocNew(byte(OpNone)), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	_, err := rt.Exec(code(op(OpUpdateNode, 0), op(OpSetNode, 0), op(OpHalt)))
	expectStatus(t, err, StatusPanic, ErrNoneOpcode)
	if ee := err.(*ExecError); ee.Depth != 1 {
		t.Errorf("depth = %d, want 1", ee.Depth)
	}
}

func TestReturnOutsideCall(t *testing.T) {
	_, err := New(Config{}).Exec(code(intOp(1), op(OpReturn)))
	expectStatus(t, err, StatusPanic, ErrReturnOutsideCall)
}

func TestReturnWithoutValue(t *testing.T) {
	rt := New(Config{})
	if _, err := rt.Exec(code(intOp(0), allocNew(byte(OpReturn)), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	_, err := rt.Exec(code(op(OpUpdateNode, 0), op(OpHalt)))
	expectStatus(t, err, StatusPanic, ErrStackUnderflow)
}

func TestDeviceNode(t *testing.T) {
	rt := New(Config{})
	if _, err := rt.Exec(code(intOp(10), allocNew(byte(OpNone)), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	calls := 0
	if err := rt.SetInputAction(0, func(v *int32) { calls++; *v += 5 }); err != nil {
		t.Fatalf("SetInputAction: %v", err)
	}

	v, err := rt.Exec(code(op(OpUpdateNode, 0), op(OpGetNode, 0), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 15)
	if calls != 1 {
		t.Errorf("driver called %d times, want 1", calls)
	}
	n, _ := rt.Graph().At(0)
	if n.Source != SourceDevice || n.Program != nil {
		t.Errorf("node = %+v, want device-driven without program", n)
	}
}

func TestNoneSourceUpdateIsNoop(t *testing.T) {
	rt := New(Config{})
	if _, err := rt.Exec(code(intOp(3), allocNew(byte(OpNone)), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := rt.SetInputAction(0, nil); err != nil {
		t.Fatalf("SetInputAction: %v", err)
	}
	v, err := rt.Exec(code(op(OpUpdateNode, 0), op(OpGetNode, 0), op(OpExit)))
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	expectInt(t, v, 3)
}

func TestDeviceRegistrationOutOfRange(t *testing.T) {
	rt := New(Config{})
	if err := rt.SetInputAction(0, func(*int32) {}); err != ErrNodeIndex {
		t.Errorf("SetInputAction err = %v, want ErrNodeIndex", err)
	}
	if err := rt.SetOutputAction(2, func(*int32) {}); err != ErrNodeIndex {
		t.Errorf("SetOutputAction err = %v, want ErrNodeIndex", err)
	}
}

func TestFlushOutputs(t *testing.T) {
	rt := New(Config{})
	if _, err := rt.Exec(code(intOp(8), allocNew(), intOp(9), allocNew(), op(OpHalt))); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	var seen []int32
	if err := rt.SetOutputAction(1, func(v *int32) { seen = append(seen, *v) }); err != nil {
		t.Fatalf("SetOutputAction: %v", err)
	}
	rt.FlushOutputs()
	if len(seen) != 1 || seen[0] != 9 {
		t.Errorf("outputs = %v, want [9]", seen)
	}
}
