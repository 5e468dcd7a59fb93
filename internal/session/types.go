package session

import (
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo/internal/fault"
)

// schemaVersion is the current on-disk session record version. Records
// below this version are migrated once at load time (see persist.go).
const schemaVersion = 2

// Role is the author of a message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole validates a role string. Only the two recognized roles are
// accepted; anything else is a validation error and nothing is persisted.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fault.Validationf("unrecognized role %q", s)
	}
}

// Session is the short-term, per-conversation record. MessageIDs is a
// pointer list into durable message files, not the bodies themselves.
// TotalTokens always equals the sum of the cached token counts of the
// messages currently referenced by MessageIDs.
type Session struct {
	SchemaVersion   int       `json:"schema_version"`
	ID              string    `json:"session_id"`
	ConversationKey string    `json:"conversation_key"`
	MessageIDs      []string  `json:"message_ids"`
	SequenceCounter int64     `json:"sequence_counter"`
	TotalTokens     int       `json:"total_tokens"`
	CreatedAt       time.Time `json:"created_at"`
	LastActiveAt    time.Time `json:"last_active_at"`
}

// Message is one durable conversation turn. Immutable once written; never
// deleted, even after eviction from the active window.
type Message struct {
	ID        string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	OrderNum  int64     `json:"order_num"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens"`
}

// AppendRequest carries the caller-supplied fields of a new message.
type AppendRequest struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// HistoryEntry is the prompt-facing view of one turn.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func cloneSession(s *Session) Session {
	c := *s
	c.MessageIDs = append([]string(nil), s.MessageIDs...)
	return c
}
