package singleton

import "encoding/json"

// Codec serializes messages into frame payloads and back. Implementations
// must be safe for concurrent use.
type Codec interface {
	Marshal(msg interface{}) ([]byte, error)
	Unmarshal(data []byte) (interface{}, error)
}

// JSONCodec is the default Codec. Payloads are UTF-8 JSON text, and decoded
// messages are generic JSON values: map[string]interface{}, []interface{},
// float64, string, bool or nil.
type JSONCodec struct{}

func (JSONCodec) Marshal(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
