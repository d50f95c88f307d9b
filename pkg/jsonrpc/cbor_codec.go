package jsonrpc

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBORCodec carries JSON-RPC messages as CBOR data items.
type CBORCodec struct {
	dec cbor.DecMode
	enc cbor.EncMode
}

// NewCBORCodec creates a CBOR codec that decodes maps as map[string]any.
func NewCBORCodec() (*CBORCodec, error) {
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode options: %w", err)
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode options: %w", err)
	}

	return &CBORCodec{dec: dec, enc: enc}, nil
}

// Parse decodes a single CBOR data item.
func (c *CBORCodec) Parse(data []byte) (any, error) {
	var v any
	if err := c.dec.Unmarshal(data, &v); err != nil {
		return nil, &ParseError{Err: err}
	}
	return v, nil
}

// Serialize encodes v, mapping responses to their wire shape.
func (c *CBORCodec) Serialize(v any) ([]byte, error) {
	switch out := v.(type) {
	case *Response:
		v = out.wire()
	case []*Response:
		items := make([]any, len(out))
		for i, r := range out {
			items[i] = r.wire()
		}
		v = items
	}

	data, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}

// ContentType returns the media type of the encoded payloads.
func (c *CBORCodec) ContentType() string {
	return "application/cbor"
}
