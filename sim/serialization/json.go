package serialization

import (
	"bytes"
	"encoding/json"
)

// A Codec turns payload values into bytes and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes payloads as JSON.
type JSONCodec struct {
}

// NewJSONCodec creates a JSONCodec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Marshal encodes v without HTML escaping.
func (c JSONCodec) Marshal(v any) ([]byte, error) {
	buf := new(bytes.Buffer)
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes data into v, rejecting unknown fields.
func (c JSONCodec) Unmarshal(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	return decoder.Decode(v)
}
