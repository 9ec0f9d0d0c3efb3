package server

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// codecName is the connect codec name; requests travel as application/cbor.
const codecName = "cbor"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("server: failed to create CBOR enc mode: " + err.Error())
	}
	cborEncMode = em
}

// cborCodec implements connect.Codec over canonical CBOR. The machine
// service has no protobuf schema; its messages are plain Go structs.
type cborCodec struct{}

func (cborCodec) Name() string { return codecName }

func (cborCodec) Marshal(msg any) ([]byte, error) {
	data, err := cborEncMode.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "cbor marshal")
	}
	return data, nil
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	if err := cbor.Unmarshal(data, msg); err != nil {
		return errors.Wrap(err, "cbor unmarshal")
	}
	return nil
}
