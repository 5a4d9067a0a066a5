package stash

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes the snapshot document and individual values. The default
// is JSON, which keeps the snapshot file human-readable and diffable.
// Msgpack trades readability for compactness; both round-trip the same
// generic shapes (string-keyed maps, slices, numbers, strings, bools).
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the default Codec. Snapshots are written indented so they stay
// readable in a text editor.
var JSON Codec = jsonCodec{}

// Msgpack is a binary Codec using the msgpack wire format.
var Msgpack Codec = msgpackCodec{}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
