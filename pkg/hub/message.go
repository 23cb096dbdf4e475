// Package hub fans room broadcasts out to websocket observers using the
// channel-based register/unregister/broadcast pattern.
//
// Each connected client watches exactly one room. A bot's audio payloads
// are published here as well as over the room's data channel, so browser
// clients that are not LiveKit participants can follow along.
package hub

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data
	BinaryMessage
)

// Message is one payload addressed to a room.
type Message struct {
	Room string
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(room string, data []byte) Message {
	return Message{Room: room, Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(room string, data []byte) Message {
	return Message{Room: room, Type: BinaryMessage, Data: data}
}
