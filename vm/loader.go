package vm

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// LoadHeaderLen is the size of the two length fields that prefix a load buffer.
const LoadHeaderLen = 8

// Load is a parsed load buffer. Both segments alias the buffer they were
// parsed from.
type Load struct {
	Init   []byte
	Update []byte
}

// ParseLoad splits buf into its init and update segments:
//
//	u32 init_len | u32 update_len | init | update
//
// Trailing bytes after the update segment are ignored.
func ParseLoad(buf []byte) (Load, error) {
	if len(buf) < LoadHeaderLen {
		return Load{}, errors.Wrapf(ErrMalformed, "load header needs %d bytes, got %d", LoadHeaderLen, len(buf))
	}
	initLen := uint64(binary.LittleEndian.Uint32(buf[0:]))
	updateLen := uint64(binary.LittleEndian.Uint32(buf[4:]))
	if LoadHeaderLen+initLen+updateLen > uint64(len(buf)) {
		return Load{}, errors.Wrapf(ErrMalformed, "segments need %d+%d bytes, buffer holds %d",
			initLen, updateLen, len(buf)-LoadHeaderLen)
	}
	initEnd := LoadHeaderLen + int(initLen)
	return Load{
		Init:   buf[LoadHeaderLen:initEnd],
		Update: buf[initEnd : initEnd+int(updateLen)],
	}, nil
}

// EncodeLoad builds a load buffer from an init and an update segment.
func EncodeLoad(initSeg, updateSeg []byte) []byte {
	buf := make([]byte, 0, LoadHeaderLen+len(initSeg)+len(updateSeg))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(initSeg)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(updateSeg)))
	buf = append(buf, initSeg...)
	return append(buf, updateSeg...)
}

// SetNewCode installs a load buffer. A non-empty init segment runs
// immediately; a non-empty update segment replaces the retained update
// program with an owned copy. An empty update segment keeps the previous
// program.
//
// The update segment is installed even when the init segment fails; the
// init error is then returned wrapped. Nodes the init segment allocated
// before failing remain.
func (rt *Runtime) SetNewCode(buf []byte) error {
	ld, err := ParseLoad(buf)
	if err != nil {
		return err
	}
	var initErr error
	if len(ld.Init) != 0 {
		if _, err := rt.Exec(ld.Init); err != nil {
			initErr = errors.Wrap(err, "init segment")
		} else {
			log.Debugf("init segment ran: %d bytes, %d steps, %d nodes", len(ld.Init), rt.steps, rt.graph.Len())
		}
	}
	if len(ld.Update) != 0 {
		rt.update = append([]byte{}, ld.Update...)
		log.Debugf("update program installed: %d bytes", len(rt.update))
	}
	return initErr
}
