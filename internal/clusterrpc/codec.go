package clusterrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// codecName is registered with grpc's encoding package and selected per
// call via grpc.CallContentSubtype, so ClusterRPC never needs generated
// protobuf message types for its handful of internal methods - a plain
// Go struct plus encoding/json is enough wire format for a link that
// only ever runs between nodes of the same build.
const codecName = "clusterrpc-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }
