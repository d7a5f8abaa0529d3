// Package ws delivers pipeline progress and answer tokens to clients over
// long-lived websocket connections, one addressable channel per session.
package ws

import "github.com/mfifer/docchat/internal/rag"

type EventType string

const (
	EventStart EventType = "start"
	EventStep  EventType = "step"
	EventToken EventType = "token"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// Event is one JSON frame sent to the client. Per channel the sequence for a
// successful turn is: one start, zero or more step, one or more token, one
// end. A failed turn replaces the tail with a single error.
type Event struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	StepName  string    `json:"step_name,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// inboundMessage is the only frame shape accepted from clients. Anything that
// does not parse is ignored and the connection stays open.
type inboundMessage struct {
	Message string `json:"message"`
}

// endPayload is serialized into the end event's content.
type endPayload struct {
	RetrievedDocs []rag.RetrievedDocument `json:"retrieved_docs"`
	SearchQuery   string                  `json:"search_query"`
}
