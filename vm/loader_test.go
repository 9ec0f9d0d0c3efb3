package vm

import (
	"bytes"
	"testing"
)

func TestParseLoad(t *testing.T) {
	buf := EncodeLoad([]byte{1, 2, 3}, []byte{4, 5})
	ld, err := ParseLoad(buf)
	if err != nil {
		t.Fatalf("ParseLoad failed: %v", err)
	}
	if !bytes.Equal(ld.Init, []byte{1, 2, 3}) || !bytes.Equal(ld.Update, []byte{4, 5}) {
		t.Errorf("segments = % x / % x", ld.Init, ld.Update)
	}
}

func TestParseLoadMalformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"short header", []byte{0, 0, 0, 0, 0}},
		{"init too long", []byte{5, 0, 0, 0, 0, 0, 0, 0, 1}},
		{"update too long", []byte{0, 0, 0, 0, 2, 0, 0, 0, 1}},
		{"huge lengths", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLoad(tt.buf)
			expectStatus(t, err, StatusMalformedProgram, ErrMalformed)
		})
	}
}

func TestSetNewCodeRunsInitAndRetainsUpdate(t *testing.T) {
	rt := New(Config{})
	initSeg := code(intOp(4), allocNew(timesTen...), op(OpHalt))
	updateSeg := code(op(OpUpdateNode, 0), op(OpSetNode, 0), op(OpHalt))
	buf := EncodeLoad(initSeg, updateSeg)

	if err := rt.SetNewCode(buf); err != nil {
		t.Fatalf("SetNewCode failed: %v", err)
	}
	if rt.Graph().Len() != 1 {
		t.Fatalf("init allocated %d nodes, want 1", rt.Graph().Len())
	}
	if !bytes.Equal(rt.UpdateProgram(), updateSeg) {
		t.Fatalf("update = % x, want % x", rt.UpdateProgram(), updateSeg)
	}

	// The retained program is an owned copy.
	for i := range buf {
		buf[i] = 0
	}
	if err := rt.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if got := rt.Nodes()[0].Value; got != 40 {
		t.Errorf("value = %d, want 40", got)
	}
}

func TestSetNewCodeEmptyUpdateKeepsPrevious(t *testing.T) {
	rt := New(Config{})
	first := code(op(OpSaveLast), op(OpHalt))
	if err := rt.SetNewCode(EncodeLoad(nil, first)); err != nil {
		t.Fatalf("SetNewCode failed: %v", err)
	}
	if err := rt.SetNewCode(EncodeLoad(code(intOp(1), allocNew(), op(OpHalt)), nil)); err != nil {
		t.Fatalf("SetNewCode failed: %v", err)
	}
	if !bytes.Equal(rt.UpdateProgram(), first) {
		t.Errorf("update = % x, want previous % x", rt.UpdateProgram(), first)
	}
	if rt.Graph().Len() != 1 {
		t.Errorf("graph has %d nodes, want 1", rt.Graph().Len())
	}

	// Both segments empty: nothing changes.
	if err := rt.SetNewCode(EncodeLoad(nil, nil)); err != nil {
		t.Fatalf("SetNewCode failed: %v", err)
	}
	if !bytes.Equal(rt.UpdateProgram(), first) || rt.Graph().Len() != 1 {
		t.Errorf("empty load changed runtime state")
	}
}

func TestSetNewCodeInitFailure(t *testing.T) {
	rt := New(Config{})
	previous := code(op(OpHalt))
	if err := rt.SetNewCode(EncodeLoad(nil, previous)); err != nil {
		t.Fatalf("SetNewCode failed: %v", err)
	}

	update := code(op(OpSaveLast), op(OpHalt))
	err := rt.SetNewCode(EncodeLoad(code(intOp(1), op(OpHalt)), update))
	expectStatus(t, err, StatusPanic, ErrHaltDepth)
	if !bytes.Equal(rt.UpdateProgram(), update) {
		t.Errorf("update program = % X after failed init, want % X", rt.UpdateProgram(), update)
	}
}

func TestSetNewCodeInitFailureKeepsPreviousWithoutUpdate(t *testing.T) {
	rt := New(Config{})
	previous := code(op(OpHalt))
	if err := rt.SetNewCode(EncodeLoad(nil, previous)); err != nil {
		t.Fatalf("SetNewCode failed: %v", err)
	}

	err := rt.SetNewCode(EncodeLoad(code(intOp(1), op(OpHalt)), nil))
	expectStatus(t, err, StatusPanic, ErrHaltDepth)
	if !bytes.Equal(rt.UpdateProgram(), previous) {
		t.Errorf("empty update segment replaced the retained program")
	}
}

func TestSetNewCodeInitCannotRunIntoUpdate(t *testing.T) {
	// The init segment has no terminator; it must not fall through into
	// the update bytes that follow it in the buffer.
	rt := New(Config{})
	err := rt.SetNewCode(EncodeLoad(intOp(0), code(op(OpAdd), op(OpHalt))))
	expectStatus(t, err, StatusMalformedProgram, ErrMalformed)
}

func TestTickWithoutProgram(t *testing.T) {
	err := New(Config{}).Tick()
	if err != ErrNoProgram {
		t.Errorf("Tick err = %v, want ErrNoProgram", err)
	}
}

// TestTicksMirrorLastValue loads a buffer with no init segment whose update
// program allocates a node with value 0 and a one-instruction body, then
// commits the tick.
func TestTicksMirrorLastValue(t *testing.T) {
	update := code(
		intOp(0), allocNew(byte(OpReturn)),
		intOp(7), op(OpSetNode, 0),
		op(OpSaveLast),
		op(OpHalt),
	)
	rt := New(Config{})
	if err := rt.SetNewCode(EncodeLoad(nil, update)); err != nil {
		t.Fatalf("SetNewCode failed: %v", err)
	}
	for tick := 1; tick <= 10; tick++ {
		if err := rt.Tick(); err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		nodes := rt.Nodes()
		if len(nodes) != tick {
			t.Fatalf("tick %d: %d nodes", tick, len(nodes))
		}
		for _, n := range nodes {
			if n.Last != n.Value {
				t.Errorf("tick %d: node %v not committed", tick, n)
			}
		}
		if nodes[0].Last != 7 {
			t.Errorf("tick %d: node 0 last = %d, want 7", tick, nodes[0].Last)
		}
	}
}

func TestDemoProgramToggles(t *testing.T) {
	rt := New(Config{})
	if err := rt.SetNewCode(DemoProgram()); err != nil {
		t.Fatalf("SetNewCode failed: %v", err)
	}
	want := int32(0)
	for tick := 0; tick < 10; tick++ {
		if err := rt.Tick(); err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		n := rt.Nodes()[0]
		if n.Last != want {
			t.Errorf("tick %d: last = %d, want %d", tick, n.Last, want)
		}
		want = 1 - want
		if n.Value != want {
			t.Errorf("tick %d: value = %d, want %d", tick, n.Value, want)
		}
	}
}
