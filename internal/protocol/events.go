// Package protocol defines the lifecycle events published by the memory
// subsystem and streamed to observers over the websocket feed.
package protocol

import "time"

// EventType identifies event payload variants.
type EventType string

const (
	TypeMessageAppended EventType = "message_appended"
	TypeSessionPruned   EventType = "session_pruned"
	TypeSessionCleared  EventType = "session_cleared"
	TypeSessionArchived EventType = "session_archived"
	TypeMemoryStored    EventType = "memory_stored"
	TypeMemoryForgotten EventType = "memory_forgotten"
)

// Event is one lifecycle notification. Fields not relevant to the event
// type are left empty and omitted from the wire form.
type Event struct {
	Type            EventType `json:"type"`
	SessionID       string    `json:"session_id,omitempty"`
	ConversationKey string    `json:"conversation_key,omitempty"`
	MessageID       string    `json:"message_id,omitempty"`
	MemoryID        string    `json:"memory_id,omitempty"`
	PrunedCount     int       `json:"pruned_count,omitempty"`
	TotalTokens     int       `json:"total_tokens,omitempty"`
	At              time.Time `json:"at"`
}

// Publisher receives events. Implementations must not block; slow
// consumers are the publisher's problem, not the caller's.
type Publisher func(Event)
