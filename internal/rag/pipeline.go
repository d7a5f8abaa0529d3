// Package rag runs the retrieval-augmented answer pipeline: query
// understanding, similarity retrieval, grounded generation.
package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mfifer/docchat/internal/llm"
)

// FallbackAnswer is returned verbatim when no document passes the similarity
// threshold. That outcome is a terminal success, not a failure.
const FallbackAnswer = "I couldn't find any information about that in my knowledge base. " +
	"Could you try asking in a different way?"

const answerPrompt = `You are a helpful and knowledgeable assistant answering questions from a document knowledge base.
CRITICAL RULES:
1. Answer ONLY based on the provided context. If the context does not contain the answer, state that clearly.
2. Use the chat history to understand pronouns and follow-up questions.
3. Reference the source of your information, e.g. 'According to [Source: file.pdf, Page: 3], ...'
4. Be precise and accurate. If the context is insufficient, explicitly state that.`

// Searcher is the retrieval stage contract.
type Searcher interface {
	Search(ctx context.Context, query string, k int, threshold float64) ([]RetrievedDocument, error)
}

// Pipeline sequences query understanding, retrieval and answer generation for
// one question. It holds no per-session state and is safe for concurrent use.
type Pipeline struct {
	engine    *QueryEngine
	searcher  Searcher
	provider  llm.Provider
	k         int
	threshold float64
	log       *zap.Logger
}

func NewPipeline(engine *QueryEngine, searcher Searcher, provider llm.Provider, k int, threshold float64, log *zap.Logger) *Pipeline {
	if k <= 0 {
		k = 3
	}
	return &Pipeline{
		engine:    engine,
		searcher:  searcher,
		provider:  provider,
		k:         k,
		threshold: threshold,
		log:       log,
	}
}

// Process runs one question through the pipeline. Any sub-stage error
// propagates as a single orchestration failure; callers own the user-safe
// wording. The empty-retrieval path succeeds with FallbackAnswer.
func (p *Pipeline) Process(ctx context.Context, question, chatHistory string) (*Result, error) {
	searchQuery, err := p.engine.Resolve(ctx, question, chatHistory)
	if err != nil {
		return nil, err
	}

	docs, err := p.searcher.Search(ctx, searchQuery, p.k, p.threshold)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	if len(docs) == 0 {
		p.log.Warn("no documents passed the similarity threshold",
			zap.String("search_query", truncate(searchQuery, 200)))
		return &Result{
			Answer:        FallbackAnswer,
			RetrievedDocs: []RetrievedDocument{},
			SearchQuery:   searchQuery,
		}, nil
	}

	// The generator gets the original question, never the synthesized search
	// string: grounding must answer what the user actually asked.
	answer, err := p.generate(ctx, docs, question, chatHistory)
	if err != nil {
		return nil, fmt.Errorf("answer generation: %w", err)
	}

	p.log.Info("answer generated",
		zap.Int("documents", len(docs)),
		zap.Int("answer_chars", len(answer)))

	return &Result{
		Answer:        answer,
		RetrievedDocs: docs,
		SearchQuery:   searchQuery,
	}, nil
}

func (p *Pipeline) generate(ctx context.Context, docs []RetrievedDocument, question, chatHistory string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	for _, doc := range docs {
		fmt.Fprintf(&sb, "[Source: %s, Page: %d]\n%s\n\n", doc.Source, doc.Page, doc.Content)
	}
	sb.WriteString("Chat history:\n")
	sb.WriteString(chatHistory)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)

	answer, err := p.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: answerPrompt},
		{Role: llm.RoleUser, Content: sb.String()},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
