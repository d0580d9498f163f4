package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec selects how a connection frames its messages
type Codec int

const (
	CodecJSON    Codec = iota // text frames
	CodecMsgpack              // binary frames
)

// ParseCodec maps the ?codec= query value to a Codec, defaulting to JSON
func ParseCodec(s string) Codec {
	if s == "msgpack" {
		return CodecMsgpack
	}
	return CodecJSON
}

// FrameType returns the websocket message type used by the codec
func (c Codec) FrameType() int {
	if c == CodecMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Encode serializes an outgoing envelope
func (c Codec) Encode(env Envelope) ([]byte, error) {
	if env.T == "" {
		return nil, fmt.Errorf("encode envelope: empty type")
	}
	if c == CodecMsgpack {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		enc.UseCompactInts(true)
		if err := enc.Encode(env); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(env)
}

// msgpackInEnvelope mirrors InEnvelope for binary frames
type msgpackInEnvelope struct {
	T string             `json:"t"`
	D msgpack.RawMessage `json:"d,omitempty"`
}

// DecodeEnvelope parses an incoming frame without decoding its payload
func (c Codec) DecodeEnvelope(raw []byte) (InEnvelope, error) {
	if len(raw) == 0 {
		return InEnvelope{}, fmt.Errorf("decode envelope: empty frame")
	}
	if c == CodecMsgpack {
		var env msgpackInEnvelope
		if err := c.unmarshal(raw, &env); err != nil {
			return InEnvelope{}, err
		}
		return InEnvelope{T: env.T, D: json.RawMessage(env.D)}, nil
	}
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InEnvelope{}, err
	}
	return env, nil
}

func (c Codec) unmarshal(b []byte, v any) error {
	if c == CodecMsgpack {
		dec := msgpack.NewDecoder(bytes.NewReader(b))
		dec.SetCustomStructTag("json")
		return dec.Decode(v)
	}
	return json.Unmarshal(b, v)
}

// DecodePayload decodes the payload of env into a T
func DecodePayload[T any](c Codec, env InEnvelope) (T, error) {
	var out T
	if len(env.D) == 0 {
		return out, fmt.Errorf("empty payload for type %q", env.T)
	}
	err := c.unmarshal(env.D, &out)
	return out, err
}
