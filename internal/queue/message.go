package queue

import "encoding/json"

// MessageVersion is the current archive job schema.
const MessageVersion = 1

// Message asks the worker to archive one session.
type Message struct {
	SessionID  string `json:"sessionId"`
	RequestID  string `json:"requestId"`
	Reason     string `json:"reason"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
