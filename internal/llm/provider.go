package llm

import "context"

// Message is a provider-agnostic chat message.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider generates a completion for a message sequence. Implementations are
// opaque remote calls; they may fail or time out and are never retried here.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
