package feed

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as a grpc encoding.Codec content-subtype so
// the client can drive ClientConn.NewStream directly without generated
// protobuf message types.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
