package back

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype every back RPC is invoked with.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals RPC payloads as plain JSON. Raw frames pass through
// untouched so the stream wrappers keep full control of the envelope bytes.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case json.RawMessage:
		return m, nil
	case *json.RawMessage:
		return *m, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(*json.RawMessage); ok {
		*m = append((*m)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }
