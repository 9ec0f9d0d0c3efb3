package vm

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("emfrp.vm")

// DefaultStackSize matches the operand stack of the reference device runtime.
const DefaultStackSize = 128

// Config tunes a Runtime.
type Config struct {
	// StackSize is the operand stack capacity in slots.
	StackSize int

	// StepLimit bounds the instructions executed by one Exec call, nested
	// node updates included. Zero means unbounded.
	StepLimit int

	// Trace logs every executed instruction at debug level.
	Trace bool
}

// Runtime is the explicit interpreter context: the node graph, the retained
// update program and the operand stack shared by every nested
// interpretation. A Runtime is not safe for concurrent use; the machine
// package serializes access to it.
type Runtime struct {
	cfg    Config
	graph  Graph
	update []byte

	stack []Value
	sp    int // Next free slot
	fp    int // Base of the current frame's locals
	calls int // Active node-update frames
	steps int // Instructions executed by the last Exec
}

// New creates a Runtime with an empty graph and no update program.
func New(cfg Config) *Runtime {
	if cfg.StackSize <= 0 {
		cfg.StackSize = DefaultStackSize
	}
	return &Runtime{
		cfg:   cfg,
		stack: make([]Value, cfg.StackSize),
	}
}

// Config returns the configuration the runtime was built with.
func (rt *Runtime) Config() Config { return rt.cfg }

// SetTrace toggles per-instruction tracing.
func (rt *Runtime) SetTrace(on bool) { rt.cfg.Trace = on }

// Graph exposes the node graph.
func (rt *Runtime) Graph() *Graph { return &rt.graph }

// Nodes returns a copy of every node's state in index order.
func (rt *Runtime) Nodes() []NodeState { return rt.graph.States() }

// UpdateProgram returns the retained update program, or nil if none is loaded.
func (rt *Runtime) UpdateProgram() []byte { return rt.update }

// Steps returns the number of instructions executed by the last Exec.
func (rt *Runtime) Steps() int { return rt.steps }

// Depth returns the operand stack depth left by the last Exec.
func (rt *Runtime) Depth() int { return rt.sp }

// Reset drops the graph and the retained update program.
func (rt *Runtime) Reset() {
	rt.graph.Reset()
	rt.update = nil
	rt.sp, rt.fp, rt.calls = 0, 0, 0
}

// SetInputAction makes node i device-driven by fn. Any bytecode program
// the node held is released. A nil fn leaves the node without an update
// source.
func (rt *Runtime) SetInputAction(i int, fn InputFunc) error {
	n, err := rt.graph.At(i)
	if err != nil {
		return err
	}
	n.Program = nil
	n.Input = fn
	n.Source = SourceDevice
	if fn == nil {
		n.Source = SourceNone
	}
	return nil
}

// SetOutputAction attaches an output driver to node i. Output drivers are
// invoked by the tick driver after a successful tick.
func (rt *Runtime) SetOutputAction(i int, fn OutputFunc) error {
	n, err := rt.graph.At(i)
	if err != nil {
		return err
	}
	n.Output = fn
	return nil
}

// Tick runs the retained update program once.
func (rt *Runtime) Tick() error {
	if rt.update == nil {
		return ErrNoProgram
	}
	_, err := rt.Exec(rt.update)
	return err
}

// FlushOutputs invokes every node's output driver with its current value.
func (rt *Runtime) FlushOutputs() {
	rt.graph.Each(func(_ int, n *Node) {
		if n.Output != nil {
			n.Output(&n.Value)
		}
	})
}
