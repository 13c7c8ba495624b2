// Package grpctrans is the alternative wire for both the consensus
// RPCs and the client surface, carried over gRPC. The service
// descriptors are written by hand and the payloads ride a registered
// gob codec, so no generated stubs are involved; messages are the same
// structs the framed-TCP transport uses.
package grpctrans

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName selects the gob codec via the gRPC content-subtype.
const CodecName = "gob"

type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(gobCodec{})
}
