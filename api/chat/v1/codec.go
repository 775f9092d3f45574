// Package v1 is the wire contract of chat.v1.ChatService. Messages travel as
// JSON through a gRPC codec registered under the "json" content-subtype.
package v1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype clients must request.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Frame is one raw JSON object on the ChatStream. It passes through the codec
// unchanged, so the receiving side sees exactly the bytes the peer sent.
type Frame []byte

// Codec marshals messages with encoding/json. *Frame and Frame are copied as
// raw bytes.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	switch f := v.(type) {
	case Frame:
		return f, nil
	case *Frame:
		return *f, nil
	}
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if f, ok := v.(*Frame); ok {
		*f = append((*f)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: %w", err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }
