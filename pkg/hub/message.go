// Package hub provides a thread-safe websocket broadcast hub using the
// channel-based fan-out pattern. Each voice session gets one hub; every
// widget view attached to the session receives the same event stream.
package hub

// MessageType indicates the websocket message format.
type MessageType int

const (
	// JSONMessage is a JSON-encoded event envelope.
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (PCM16 audio chunks).
	BinaryMessage
)

// Message is one outbound frame queued for broadcast.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON bytes.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
