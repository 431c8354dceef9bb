package server

import (
	"encoding/json"
	"fmt"
)

// CodecName is the gRPC content subtype of the JSON codec. Clients pass
// grpc.ForceCodec(Codec{}).
const CodecName = "json"

// Codec carries the service's plain Go request and response structs as
// JSON on the gRPC wire, so no generated protobuf types are needed.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal %T: %w", v, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }
