// Package retrieval finds corpus passages relevant to a search query.
package retrieval

import (
	"context"
	"fmt"

	"github.com/mfifer/docchat/internal/embedding"
	"github.com/mfifer/docchat/internal/rag"
)

// overFetchFactor is how many ranked candidates are pulled per requested
// document. Fetching exactly k and then threshold-filtering could return
// fewer than k usable passages even when better ones sit further down the
// ranked list.
const overFetchFactor = 2

// Corpus returns the top candidates for a query vector, ranked by similarity
// descending. Similarity is monotonically decreasing with rank.
type Corpus interface {
	Nearest(ctx context.Context, vector []float32, limit int) ([]rag.RetrievedDocument, error)
}

// Retriever embeds a query and applies the over-fetch/filter/truncate policy
// on top of the raw ranked candidates.
type Retriever struct {
	embedder embedding.Embedder
	corpus   Corpus
}

func NewRetriever(embedder embedding.Embedder, corpus Corpus) *Retriever {
	return &Retriever{embedder: embedder, corpus: corpus}
}

// Search returns at most k documents with similarity strictly above
// threshold, in descending similarity order. Zero survivors is a normal empty
// result, not an error.
func (r *Retriever) Search(ctx context.Context, query string, k int, threshold float64) ([]rag.RetrievedDocument, error) {
	if k <= 0 {
		return nil, fmt.Errorf("retrieval: k must be positive, got %d", k)
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	candidates, err := r.corpus.Nearest(ctx, vector, k*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("searching corpus: %w", err)
	}

	filtered := make([]rag.RetrievedDocument, 0, k)
	for _, doc := range candidates {
		if doc.Similarity <= threshold {
			continue
		}
		filtered = append(filtered, doc)
		if len(filtered) == k {
			break
		}
	}
	return filtered, nil
}
