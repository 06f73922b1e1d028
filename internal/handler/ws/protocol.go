package ws

import (
	"encoding/json"

	"github.com/zhouzirui/ai-dietitian/backend/internal/model/chat"
)

// Frame types exchanged on the chat socket.
const (
	TypeAuth    = "auth"
	TypeMessage = "message"
	TypeClear   = "clear"

	TypeConnected = "connected"
	TypeReady     = "ready"
	TypeDelta     = "delta"
	TypeReply     = "reply"
	TypeCleared   = "cleared"
	TypeError     = "error"
)

// InboundMessage is a frame sent by the client.
type InboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AuthPayload carries the credential for the connection.
type AuthPayload struct {
	Credential string `json:"credential"`
}

// TextPayload carries one user message.
type TextPayload struct {
	Text string `json:"text"`
}

// OutgoingMessage is a frame sent by the server.
type OutgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectedData is the payload of the first server frame.
type ConnectedData struct {
	Welcome    string      `json:"welcome"`
	TurnCount  int         `json:"turnCount"`
	Transcript []chat.Turn `json:"transcript,omitempty"`
	NeedsAuth  bool        `json:"needsAuth"`
	Streaming  bool        `json:"streaming"`
}

// StatusData reports the outcome of auth and clear.
type StatusData struct {
	Status string `json:"status"`
}

// TextData carries reply text or a delta.
type TextData struct {
	Text string `json:"text"`
}

// ErrorData describes a refused or failed frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
