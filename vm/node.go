package vm

import (
	"bytes"
	"fmt"
)

// Source selects how a node is updated by OpUpdateNode.
type Source uint8

const (
	SourceNone Source = iota
	SourceDevice
	SourceBytecode
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceDevice:
		return "device"
	case SourceBytecode:
		return "bytecode"
	default:
		return fmt.Sprintf("Source(%d)", s)
	}
}

// InputFunc is a device driver that updates a node's value in place.
type InputFunc func(v *int32)

// OutputFunc is a device driver that consumes a node's value after a tick.
// It is invoked by the tick driver, never by the interpreter.
type OutputFunc func(v *int32)

// Node is a reactive cell.
type Node struct {
	Value int32
	Last  int32 // Value at the end of the previous tick

	Source  Source
	Program []byte // Owned update program when Source is SourceBytecode
	Input   InputFunc
	Output  OutputFunc
}

// setProgram releases the previous program and installs an owned copy of
// code. The node becomes bytecode-driven.
func (n *Node) setProgram(code []byte) {
	n.Program = append([]byte{}, code...)
	n.Input = nil
	n.Source = SourceBytecode
}

// Graph is the insertion-ordered node sequence. A node's identity is its
// index; nodes are appended or replaced in place, never removed.
type Graph struct {
	nodes []*Node
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// At returns the node at index i.
func (g *Graph) At(i int) (*Node, error) {
	if i < 0 || i >= len(g.nodes) {
		return nil, ErrNodeIndex
	}
	return g.nodes[i], nil
}

// AllocNew appends a bytecode-driven node with the given initial value and
// returns its index.
func (g *Graph) AllocNew(value int32, program []byte) int {
	n := &Node{Value: value}
	n.setProgram(program)
	g.nodes = append(g.nodes, n)
	return len(g.nodes) - 1
}

// Alloc replaces the update program and value of the node at index i.
// Last is left untouched so GetLast still sees the previous tick.
func (g *Graph) Alloc(i int, value int32, program []byte) error {
	n, err := g.At(i)
	if err != nil {
		return err
	}
	n.Value = value
	n.setProgram(program)
	return nil
}

// SaveLast commits every node's current value into its last slot.
func (g *Graph) SaveLast() {
	for _, n := range g.nodes {
		n.Last = n.Value
	}
}

// Each calls fn for every node in index order. Nodes appended by fn are
// visited as well.
func (g *Graph) Each(fn func(i int, n *Node)) {
	for i := 0; i < len(g.nodes); i++ {
		fn(i, g.nodes[i])
	}
}

// Reset drops every node.
func (g *Graph) Reset() {
	g.nodes = nil
}

// NodeState is a read-only view of a node for dumps and snapshots.
type NodeState struct {
	Index   int    `cbor:"1,keyasint" json:"index"`
	Value   int32  `cbor:"2,keyasint" json:"value"`
	Last    int32  `cbor:"3,keyasint" json:"last"`
	Source  Source `cbor:"4,keyasint" json:"source"`
	Program []byte `cbor:"5,keyasint,omitempty" json:"program,omitempty"`
}

func (s NodeState) String() string {
	return fmt.Sprintf("#%d v:%d vlast:%d kind:%s", s.Index, s.Value, s.Last, s.Source)
}

// States returns a copy of every node's state.
func (g *Graph) States() []NodeState {
	out := make([]NodeState, 0, len(g.nodes))
	g.Each(func(i int, n *Node) {
		out = append(out, NodeState{
			Index:   i,
			Value:   n.Value,
			Last:    n.Last,
			Source:  n.Source,
			Program: bytes.Clone(n.Program),
		})
	})
	return out
}
