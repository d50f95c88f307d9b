package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"
)

// Codec converts raw payloads to structured values and back.
//
// Parse must return objects as map[string]any and arrays as []any so the
// engine can classify them. Parse failures should be reported as *ParseError.
type Codec interface {
	Parse(data []byte) (any, error)
	Serialize(v any) ([]byte, error)
	ContentType() string
}

// ParseError reports a payload that could not be decoded.
type ParseError struct {
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying decoder error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// MediaTypeJSON is the content type of JSONCodec payloads.
const MediaTypeJSON = "application/json"

var (
	errTrailingData = errors.New("invalid character after top-level value")
	errInvalidUTF8  = errors.New("invalid UTF-8 in payload")
)

// JSONCodec is the default Codec. Numbers are decoded as json.Number so that
// integer ids and arguments survive a round trip unchanged.
type JSONCodec struct {
	buffers bytebufferpool.Pool
}

// NewJSONCodec creates a new JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Parse decodes a single JSON value.
func (c *JSONCodec) Parse(data []byte) (any, error) {
	if !utf8.Valid(data) {
		return nil, &ParseError{Err: errInvalidUTF8}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &ParseError{Err: err}
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Err: errTrailingData}
	}

	return v, nil
}

// Serialize encodes v without HTML escaping and without a trailing newline.
func (c *JSONCodec) Serialize(v any) ([]byte, error) {
	buf := c.buffers.Get()
	defer c.buffers.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	out := bytes.TrimSuffix(buf.B, []byte{'\n'})
	return append([]byte(nil), out...), nil
}

// ContentType returns the media type of the encoded payloads.
func (c *JSONCodec) ContentType() string {
	return MediaTypeJSON
}
