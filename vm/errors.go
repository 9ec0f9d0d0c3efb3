package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the terminal outcome of one interpretation.
type Status uint8

const (
	StatusOK Status = iota
	// StatusRuntimeError covers recoverable-in-principle failures: type
	// mismatches on the operand stack and the step limit.
	StatusRuntimeError
	// StatusPanic means an interpreter invariant was violated.
	StatusPanic
	// StatusUnimplemented means an opcode without behavior was fetched.
	StatusUnimplemented
	// StatusIndexOutOfRange means a node index past the end of the graph.
	StatusIndexOutOfRange
	// StatusMalformedProgram means a truncated or inconsistent instruction stream.
	StatusMalformedProgram
)

var statusNames = [...]string{
	StatusOK:               "ok",
	StatusRuntimeError:     "runtime error",
	StatusPanic:            "panic",
	StatusUnimplemented:    "unimplemented",
	StatusIndexOutOfRange:  "index out of range",
	StatusMalformedProgram: "malformed program",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

var (
	ErrNoneOpcode        = errors.New("fetched opcode 0")
	ErrUnimplemented     = errors.New("opcode has no defined behavior")
	ErrStackOverflow     = errors.New("operand stack overflow")
	ErrStackUnderflow    = errors.New("operand stack underflow")
	ErrHaltDepth         = errors.New("halt with non-empty stack")
	ErrExitDepth         = errors.New("exit without exactly one value")
	ErrReturnOutsideCall = errors.New("return outside of a node update")
	ErrBadLinkage        = errors.New("call linkage slot does not hold an address")
	ErrLocalSlot         = errors.New("local slot outside the live stack")
	ErrTypeMismatch      = errors.New("operand is not an integer")
	ErrStepLimit         = errors.New("step limit exceeded")
	ErrNodeIndex         = errors.New("node index out of range")
	ErrMalformed         = errors.New("malformed program")
	ErrNoProgram         = errors.New("no update program loaded")
)

// sentinelStatus maps every sentinel to the outcome class it belongs to.
var sentinelStatus = map[error]Status{
	ErrNoneOpcode:        StatusPanic,
	ErrUnimplemented:     StatusUnimplemented,
	ErrStackOverflow:     StatusPanic,
	ErrStackUnderflow:    StatusPanic,
	ErrHaltDepth:         StatusPanic,
	ErrExitDepth:         StatusPanic,
	ErrReturnOutsideCall: StatusPanic,
	ErrBadLinkage:        StatusPanic,
	ErrLocalSlot:         StatusPanic,
	ErrTypeMismatch:      StatusRuntimeError,
	ErrStepLimit:         StatusRuntimeError,
	ErrNodeIndex:         StatusIndexOutOfRange,
	ErrMalformed:         StatusMalformedProgram,
	ErrNoProgram:         StatusRuntimeError,
}

// statusFor returns the class of a bare sentinel. Anything else is a panic.
func statusFor(err error) Status {
	if st, ok := sentinelStatus[err]; ok {
		return st
	}
	return StatusPanic
}

// ExecError is returned by every failed interpretation. It records the
// instruction that failed so a driver can report where a tick aborted.
type ExecError struct {
	Status Status
	Err    error  // One of the Err* sentinels
	Op     Opcode // Opcode being executed
	PC     int    // Offset of that opcode in its buffer
	Depth  int    // Node-update nesting depth at the failure
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v (op %s at %04X, depth %d)", e.Status, e.Err, e.Op, e.PC, e.Depth)
}

// Unwrap exposes the sentinel to errors.Is.
func (e *ExecError) Unwrap() error { return e.Err }

// Cause supports github.com/pkg/errors.Cause.
func (e *ExecError) Cause() error { return e.Err }

// StatusOf classifies err. A nil error is StatusOK; errors that carry no
// interpreter status are reported as runtime errors.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Status
	}
	for sentinel, st := range sentinelStatus {
		if errors.Is(err, sentinel) {
			return st
		}
	}
	return StatusRuntimeError
}
