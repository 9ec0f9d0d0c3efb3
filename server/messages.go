package server

import (
	"github.com/chazu/emfrp/vm"
)

// LoadRequest installs a load buffer. Exactly one of Code and Program is
// set; Program names an entry in the server's program store.
type LoadRequest struct {
	Code    []byte `cbor:"1,keyasint,omitempty"`
	Program string `cbor:"2,keyasint,omitempty"`
}

// LoadResponse reports the graph size after the init segment ran.
type LoadResponse struct {
	Nodes int    `cbor:"1,keyasint"`
	Hash  string `cbor:"2,keyasint,omitempty"`
}

// TickRequest runs Count ticks (at least one).
type TickRequest struct {
	Count int `cbor:"1,keyasint,omitempty"`
}

// TickResponse reports how a run of ticks went. A failing tick is not an
// RPC error: Status and Error describe the outcome, and Ticks counts the
// ticks that completed before it.
type TickResponse struct {
	Ticks  int            `cbor:"1,keyasint"`
	Status string         `cbor:"2,keyasint"`
	Error  string         `cbor:"3,keyasint,omitempty"`
	Nodes  []vm.NodeState `cbor:"4,keyasint,omitempty"`
}

// NodesRequest asks for the node graph.
type NodesRequest struct{}

// NodesResponse lists every node's state.
type NodesResponse struct {
	Nodes []vm.NodeState `cbor:"1,keyasint"`
}

// SnapshotRequest asks for a machine image.
type SnapshotRequest struct{}

// SnapshotResponse carries the machine image.
type SnapshotResponse struct {
	Snapshot *vm.Snapshot `cbor:"1,keyasint"`
}

// InfoRequest asks for machine identity and counters.
type InfoRequest struct{}

// InfoResponse describes the serving machine.
type InfoResponse struct {
	ID           string `cbor:"1,keyasint"`
	Ticks        int64  `cbor:"2,keyasint"`
	Loads        int64  `cbor:"3,keyasint"`
	Failures     int64  `cbor:"4,keyasint"`
	Instructions int64  `cbor:"5,keyasint"`
}
