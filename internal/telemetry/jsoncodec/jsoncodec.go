// Package jsoncodec implements a google.golang.org/grpc/encoding.Codec
// backed by plain encoding/json, used in place of protoc-generated
// protobuf messages. See internal/telemetry for why: multirunner's build
// never runs protoc, so there are no generated message types to encode
// with the default "proto" codec.
package jsoncodec

import "encoding/json"

// Name is the codec name multirunner's telemetry server and client
// negotiate via grpc.ForceServerCodec/grpc.ForceCodec.
const Name = "json"

// Codec marshals gRPC request/response messages as JSON rather than
// protobuf wire format.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// Name implements encoding.Codec.
func (Codec) Name() string { return Name }
