// Package realtime carries server-to-client events between instances.
//
// Each instance keeps a local Hub of its own sockets. Emits are published as
// Envelopes on a shared bus; every instance delivers the envelope to its
// local sockets that sit in the target rooms. Room membership is mirrored to
// Redis so the cluster shares one view of who is in which room.
//
// Import Path: bazaar.dev/realtime/internal/realtime
package realtime

import (
	"encoding/json"
)

// Room name prefixes.
const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

// UserRoom is the private room every authenticated socket of a user joins.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// ConversationRoom is the chat room for a conversation.
func ConversationRoom(conversationID string) string { return conversationRoomPrefix + conversationID }

// Envelope is an addressed outbound event as it travels over the bus.
type Envelope struct {
	Rooms        []string        `json:"rooms,omitempty"`
	All          bool            `json:"all,omitempty"`
	ExceptSocket string          `json:"except,omitempty"`
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Frame is the wire shape written to clients.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an event and its payload into a client frame.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
