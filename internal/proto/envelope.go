// Package proto defines the wire envelope the overlay places on top of
// opaque application payloads.
package proto

import (
	"encoding/json"
	"fmt"
)

// MaxPayloadSize bounds a single published payload. Anything larger is
// refused at serialization time rather than handed to the pub/sub layer.
const MaxPayloadSize = 1 << 20

// Envelope wraps one application payload for a single topic publish. A fresh
// envelope is built per recipient, stamped with the send time; payload bytes
// stay opaque to the overlay.
type Envelope struct {
	Payload []byte `json:"payload"`
	SentAt  int64  `json:"sent_at,omitempty"` // unix nanoseconds, 0 if unset
}

// Marshal serializes an envelope for publishing.
func Marshal(env Envelope) ([]byte, error) {
	if len(env.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload is %d bytes, limit is %d", len(env.Payload), MaxPayloadSize)
	}
	return json.Marshal(env)
}

// Unmarshal parses an inbound frame back into an envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
