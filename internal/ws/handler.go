package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mfifer/docchat/internal/chat"
	"github.com/mfifer/docchat/internal/rag"
)

// userFacingError is the only error wording that ever reaches a client.
// Internal error text stays in the logs.
const userFacingError = "An error occurred while processing your request."

// Handler owns the websocket lifecycle for chat sessions: upgrade, register,
// read loop, per-message pipeline runs, event emission.
type Handler struct {
	registry *Registry
	svc      *chat.Service
	pipeline *rag.Pipeline
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHandler(registry *Registry, svc *chat.Service, pipeline *rag.Pipeline, log *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		svc:      svc,
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve upgrades the request and runs the read loop until the client
// disconnects or a processing failure closes the channel.
func (h *Handler) Serve(c *gin.Context) {
	sessionID := c.Param("session_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	h.registry.Register(sessionID, conn)
	defer h.registry.Deregister(sessionID)
	h.log.Info("websocket connected", zap.String("session_id", sessionID))

	// Pipeline runs are deliberately detached from the connection's
	// lifetime: a run in flight when the client leaves completes and its
	// output is dropped by the registry, rather than being cancelled
	// mid-retrieval.
	runCtx := context.WithoutCancel(c.Request.Context())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.log.Info("websocket disconnected", zap.String("session_id", sessionID))
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			// Unparseable frame: ignored, connection stays open.
			continue
		}
		if strings.TrimSpace(in.Message) == "" {
			continue
		}

		if err := h.handleMessage(runCtx, sessionID, in.Message); err != nil {
			h.log.Error("message processing failed",
				zap.String("session_id", sessionID), zap.Error(err))
			_ = h.registry.Send(sessionID, Event{Type: EventError, Content: userFacingError})
			h.registry.CloseWithCode(sessionID, websocket.CloseInternalServerErr, "internal server error during processing")
			return
		}
	}
}

// handleMessage emits the ordered event sequence for one user message:
// start, pipeline progress steps, word tokens of the completed answer, end.
// Any returned error means no end event was sent and the caller closes the
// channel after a single error event.
func (h *Handler) handleMessage(ctx context.Context, sessionID, message string) error {
	if err := h.registry.Send(sessionID, Event{Type: EventStart, Content: "Processing...", SessionID: sessionID}); err != nil {
		return err
	}

	msgs, err := h.svc.History().Messages(ctx, sessionID, h.svc.HistoryLimit())
	if err != nil {
		return err
	}

	if err := h.sendStep(sessionID, "Understanding your question...", "query_understanding"); err != nil {
		return err
	}

	result, err := h.pipeline.Process(ctx, message, chat.FormatHistory(msgs))
	if err != nil {
		return err
	}

	if err := h.sendStep(sessionID, fmt.Sprintf("Retrieved %d documents", len(result.RetrievedDocs)), "retrieval"); err != nil {
		return err
	}
	if err := h.sendStep(sessionID, "Generating answer...", "generation"); err != nil {
		return err
	}

	// Post-hoc word segmentation of the already-complete answer, not true
	// incremental generation.
	if err := h.sendTokens(sessionID, result.Answer); err != nil {
		return err
	}

	payload, err := json.Marshal(endPayload{
		RetrievedDocs: result.RetrievedDocs,
		SearchQuery:   result.SearchQuery,
	})
	if err != nil {
		return err
	}
	if err := h.registry.Send(sessionID, Event{Type: EventEnd, Content: string(payload), SessionID: sessionID}); err != nil {
		return err
	}

	return h.svc.PersistTurn(ctx, sessionID, message, result)
}

func (h *Handler) sendStep(sessionID, content, stepName string) error {
	return h.registry.Send(sessionID, Event{Type: EventStep, Content: content, StepName: stepName})
}

func (h *Handler) sendTokens(sessionID, answer string) error {
	for i, word := range strings.Fields(answer) {
		token := word
		if i > 0 {
			token = " " + word
		}
		if err := h.registry.Send(sessionID, Event{Type: EventToken, Content: token}); err != nil {
			return err
		}
	}
	return nil
}
