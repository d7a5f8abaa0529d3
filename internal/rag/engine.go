package rag

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mfifer/docchat/internal/llm"
)

// EngineState is the resolution mode the engine picked for a question.
type EngineState string

const (
	// StateDirect: no prior history, the question is already self-contained.
	StateDirect EngineState = "direct"
	// StateSynthesize: follow-up question, a search query is synthesized from
	// keywords and a hypothetical answer.
	StateSynthesize EngineState = "synthesize"
)

const keywordsPrompt = `From a question and chat history, extract key entities and concepts for a search query.
Respond with only a comma-separated list of key entities, topics, and concepts. No preamble.`

const hydePrompt = `Given a question and conversation history, write a detailed, paragraph-length hypothetical answer as if it were found in a perfect reference document.
Respond with only the hypothetical answer text. No preamble.`

// QueryEngine rewrites a follow-up question into a context-independent search
// string. With empty history it returns the question verbatim; otherwise it
// runs keyword extraction and hypothetical-answer generation concurrently and
// joins both results into one query.
type QueryEngine struct {
	provider llm.Provider
}

func NewQueryEngine(provider llm.Provider) *QueryEngine {
	return &QueryEngine{provider: provider}
}

// StateFor reports which mode Resolve will use for the given history.
func (e *QueryEngine) StateFor(chatHistory string) EngineState {
	if strings.TrimSpace(chatHistory) == "" {
		return StateDirect
	}
	return StateSynthesize
}

// Resolve returns the search query for a question. A failure in either
// sub-task fails the whole resolution; the engine never degrades silently to
// the raw question, because that would silently change retrieval quality.
func (e *QueryEngine) Resolve(ctx context.Context, question, chatHistory string) (string, error) {
	if e.StateFor(chatHistory) == StateDirect {
		return question, nil
	}

	var keywords, hypothetical string

	// Both sub-tasks run to completion independently; Wait joins them and
	// reports the first error. No partial result is ever used.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		keywords, err = e.subCall(ctx, keywordsPrompt, question, chatHistory)
		if err != nil {
			return fmt.Errorf("keyword extraction: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		hypothetical, err = e.subCall(ctx, hydePrompt, question, chatHistory)
		if err != nil {
			return fmt.Errorf("hypothetical answer: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("query understanding: %w", err)
	}

	return fmt.Sprintf("%s | Relevant concepts: %s | Potential answer context: %s",
		question, keywords, hypothetical), nil
}

func (e *QueryEngine) subCall(ctx context.Context, system, question, chatHistory string) (string, error) {
	out, err := e.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Chat history:\n%s\n\nQuestion: %s", chatHistory, question)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
