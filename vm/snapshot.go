package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// SnapshotVersion is bumped on incompatible snapshot layout changes.
const SnapshotVersion uint16 = 1

// Snapshot is a serializable image of a runtime: every node's state and the
// retained update program. Device drivers are not serializable; nodes that
// were device-driven are restored without an update source until a driver
// is registered again, and output drivers are not carried at all.
type Snapshot struct {
	Version uint16      `cbor:"1,keyasint"`
	Nodes   []NodeState `cbor:"2,keyasint"`
	Update  []byte      `cbor:"3,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot captures the runtime state.
func (rt *Runtime) Snapshot() *Snapshot {
	s := &Snapshot{
		Version: SnapshotVersion,
		Nodes:   rt.graph.States(),
	}
	if rt.update != nil {
		s.Update = append([]byte{}, rt.update...)
	}
	return s
}

// Restore replaces the graph and update program with the snapshot contents.
// Output drivers registered on the current graph are dropped and must be set
// again with SetOutputAction.
func (rt *Runtime) Restore(s *Snapshot) error {
	if s.Version != SnapshotVersion {
		return errors.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	var g Graph
	for i, st := range s.Nodes {
		if st.Index != i {
			return errors.Wrapf(ErrMalformed, "snapshot node %d has index %d", i, st.Index)
		}
		n := &Node{Value: st.Value, Last: st.Last}
		switch st.Source {
		case SourceBytecode:
			n.setProgram(st.Program)
		case SourceDevice:
			log.Warningf("node #%d was device-driven; restored without a driver", i)
		}
		g.nodes = append(g.nodes, n)
	}
	rt.graph.Each(func(i int, n *Node) {
		if n.Output != nil {
			log.Warningf("node #%d output driver dropped by restore", i)
		}
	})
	rt.graph = g
	rt.update = nil
	if len(s.Update) != 0 {
		rt.update = append([]byte{}, s.Update...)
	}
	return nil
}

// MarshalSnapshot serializes a snapshot to canonical CBOR.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a snapshot from CBOR.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "vm: unmarshal snapshot")
	}
	return &s, nil
}
