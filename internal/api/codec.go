package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// JSONCodec marshals gRPC messages as JSON instead of protobuf. The
// service contract is small and internal, so the wire format is plain
// JSON structs and the service descriptor is maintained by hand.
type JSONCodec struct{}

// Name returns the codec name used in the content-subtype
// ("application/grpc+json").
func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: %w", err)
	}
	return nil
}

func init() {
	encoding.RegisterCodec(JSONCodec{})
}
