package chat

import "time"

// Snapshot is a read-only copy of a conversation context.
type Snapshot struct {
	SessionID    string    `json:"sessionId"`
	Transcript   []Turn    `json:"transcript"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}
