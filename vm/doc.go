// Package vm implements the emfrp runtime: a stack-machine interpreter for
// reactive dataflow programs running on small devices.
//
// A program arrives as a load buffer holding two instruction streams. The
// init segment runs once and typically allocates nodes; the update segment
// is retained and executed once per tick by the driver.
//
// # Nodes
//
// A node is a reactive cell with a current value, the value it had at the
// end of the previous tick, and an update source:
//
//   - none: OpUpdateNode is a no-op
//   - device: an InputFunc registered with SetInputAction updates the value
//   - bytecode: the node's own instruction buffer runs as a nested call
//
// Nodes are addressed by their position in allocation order. OpGetLast
// observes the previous tick until OpSaveLast commits the current values.
//
// # Calls
//
// A bytecode node update pushes two linkage words (saved frame pointer and
// return address) and starts the node's buffer with the frame pointer just
// above them. OpReturn pops the single return value, drops the linkage and
// anything above it, and leaves the return value where the linkage began.
//
// # Outcomes
//
// Exec stops at OpHalt (stack must be empty) or OpExit (exactly one value).
// Every other stop is an *ExecError whose Status distinguishes runtime
// errors, interpreter panics, unimplemented opcodes, out-of-range node
// indices and malformed programs.
package vm
