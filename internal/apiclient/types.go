// ABOUTME: Wire types for the Agent API surface.
// ABOUTME: Mirrors the JSON shapes the agentapi server speaks.

package apiclient

import (
	"encoding/json"
	"time"
)

// AgentStatus is the agent readiness value reported by GET /status.
type AgentStatus string

const (
	// StatusStable means the agent is idle and ready for input.
	StatusStable AgentStatus = "stable"
	// StatusRunning means the agent is actively processing.
	StatusRunning AgentStatus = "running"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status    AgentStatus `json:"status"`
	AgentType string      `json:"agentType,omitempty"`
}

// MessageType distinguishes conversational input from raw terminal input.
type MessageType string

const (
	MessageTypeUser MessageType = "user"
	MessageTypeRaw  MessageType = "raw"
)

// Message is one conversation entry from GET /messages.
type Message struct {
	ID      int    `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Time    string `json:"time,omitempty"`
}

// SendMessageRequest is the body of POST /message.
type SendMessageRequest struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

// SendMessageResponse is the acknowledgement from POST /message.
type SendMessageResponse struct {
	OK bool `json:"ok"`
}

// ScreenResponse is the body of GET /internal/screen.
type ScreenResponse struct {
	Screen string `json:"screen"`
}

// Event is one server-sent event from GET /events.
type Event struct {
	// ID is the monotonically increasing event identifier, or -1 when the
	// server sent none.
	ID         int64
	Type       string
	Data       json.RawMessage
	ReceivedAt time.Time
}
