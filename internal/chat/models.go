package chat

import (
	"time"

	"github.com/mfifer/docchat/internal/common"
	"github.com/mfifer/docchat/internal/rag"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn in a session's history. Immutable once created;
// appended to the session log and never mutated in place.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// RetrievedContext snapshots the passages an assistant answer was
	// grounded on. Nil for user and system messages.
	RetrievedContext []rag.RetrievedDocument `json:"retrieved_context,omitempty"`
}

// NewMessage builds a message with a fresh ULID and timestamp.
func NewMessage(role, content string) (Message, error) {
	id, err := common.NewULID()
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        id,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}
