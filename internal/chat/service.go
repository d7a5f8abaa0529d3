package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mfifer/docchat/internal/rag"
)

// Service runs the shared chat flow used by the REST endpoint and the job
// worker: read history, run the pipeline, persist the completed turn.
type Service struct {
	history      *History
	pipeline     *rag.Pipeline
	historyLimit int
	log          *zap.Logger
}

func NewService(history *History, pipeline *rag.Pipeline, historyLimit int, log *zap.Logger) *Service {
	if historyLimit <= 0 || historyLimit > 100 {
		historyLimit = 20
	}
	return &Service{history: history, pipeline: pipeline, historyLimit: historyLimit, log: log}
}

// History exposes the session store for callers that manage their own flow
// (the streaming handler, the clear endpoint).
func (s *Service) History() *History { return s.history }

// HistoryLimit is the configured read window for prompt context.
func (s *Service) HistoryLimit() int { return s.historyLimit }

// ProcessMessage runs one user message through the full pipeline and appends
// the user and assistant turns to the session log. The assistant message
// carries the retrieved-context snapshot.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, message string) (*rag.Result, error) {
	msgs, err := s.history.Messages(ctx, sessionID, s.historyLimit)
	if err != nil {
		return nil, err
	}

	result, err := s.pipeline.Process(ctx, message, FormatHistory(msgs))
	if err != nil {
		return nil, err
	}

	if err := s.PersistTurn(ctx, sessionID, message, result); err != nil {
		return nil, err
	}

	s.log.Info("message processed",
		zap.String("session_id", sessionID),
		zap.Int("history_messages", len(msgs)),
		zap.Int("retrieved_docs", len(result.RetrievedDocs)))

	return result, nil
}

// PersistTurn appends the completed user/assistant exchange to the session
// log, in that order.
func (s *Service) PersistTurn(ctx context.Context, sessionID, question string, result *rag.Result) error {
	userMsg, err := NewMessage(RoleUser, question)
	if err != nil {
		return fmt.Errorf("build user message: %w", err)
	}
	if err := s.history.Append(ctx, sessionID, userMsg); err != nil {
		return err
	}

	assistantMsg, err := NewMessage(RoleAssistant, result.Answer)
	if err != nil {
		return fmt.Errorf("build assistant message: %w", err)
	}
	assistantMsg.RetrievedContext = result.RetrievedDocs
	return s.history.Append(ctx, sessionID, assistantMsg)
}
