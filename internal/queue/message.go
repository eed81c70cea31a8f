package queue

import (
	"encoding/json"
	"fmt"
)

// MessageVersion is the payload version written by Send.
const MessageVersion = 1

// Message asks a worker to run the analysis for one workspace.
type Message struct {
	WorkspaceID string `json:"workspaceId"`
	RequestID   string `json:"requestId"`
	EnqueuedAt  string `json:"enqueuedAt"`
	Version     int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message. Payloads newer than
// MessageVersion are rejected.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Version > MessageVersion {
		return Message{}, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	return msg, nil
}
