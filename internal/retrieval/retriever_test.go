package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/mfifer/docchat/internal/rag"
)

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeCorpus struct {
	docs      []rag.RetrievedDocument
	err       error
	lastLimit int
}

func (c *fakeCorpus) Nearest(ctx context.Context, vector []float32, limit int) ([]rag.RetrievedDocument, error) {
	c.lastLimit = limit
	if c.err != nil {
		return nil, c.err
	}
	if limit < len(c.docs) {
		return c.docs[:limit], nil
	}
	return c.docs, nil
}

func doc(source string, sim float64) rag.RetrievedDocument {
	return rag.RetrievedDocument{Content: "passage from " + source, Source: source, Page: 1, Similarity: sim}
}

func TestRetriever_OverFetchesTwiceK(t *testing.T) {
	corpus := &fakeCorpus{}
	r := NewRetriever(&fakeEmbedder{}, corpus)

	if _, err := r.Search(context.Background(), "q", 3, 0.3); err != nil {
		t.Fatalf("search: %v", err)
	}
	if corpus.lastLimit != 6 {
		t.Fatalf("expected 2k=6 candidates requested, got %d", corpus.lastLimit)
	}
}

func TestRetriever_FiltersAndTruncates(t *testing.T) {
	corpus := &fakeCorpus{docs: []rag.RetrievedDocument{
		doc("a.pdf", 0.95),
		doc("b.pdf", 0.80),
		doc("c.pdf", 0.29), // below threshold, dropped
		doc("d.pdf", 0.75),
		doc("e.pdf", 0.60),
		doc("f.pdf", 0.50),
	}}
	r := NewRetriever(&fakeEmbedder{}, corpus)

	docs, err := r.Search(context.Background(), "q", 3, 0.3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected k=3 docs, got %d", len(docs))
	}
	// Ranked order survives filtering: the sub-threshold candidate is
	// skipped, the next ranked one takes its place.
	wantSources := []string{"a.pdf", "b.pdf", "d.pdf"}
	for i, want := range wantSources {
		if docs[i].Source != want {
			t.Fatalf("doc %d: expected %s, got %s", i, want, docs[i].Source)
		}
		if docs[i].Similarity <= 0.3 {
			t.Fatalf("doc %d similarity %v not above threshold", i, docs[i].Similarity)
		}
	}
}

func TestRetriever_ThresholdIsStrict(t *testing.T) {
	corpus := &fakeCorpus{docs: []rag.RetrievedDocument{doc("edge.pdf", 0.3)}}
	r := NewRetriever(&fakeEmbedder{}, corpus)

	docs, err := r.Search(context.Background(), "q", 3, 0.3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("similarity equal to threshold must be discarded, got %d docs", len(docs))
	}
}

func TestRetriever_NoSurvivorsIsEmptyNotError(t *testing.T) {
	corpus := &fakeCorpus{docs: []rag.RetrievedDocument{doc("weak.pdf", 0.25)}}
	r := NewRetriever(&fakeEmbedder{}, corpus)

	docs, err := r.Search(context.Background(), "q", 3, 0.3)
	if err != nil {
		t.Fatalf("expected empty success, got error: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected empty list, got %d", len(docs))
	}
}

func TestRetriever_EmbedderErrorPropagates(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{err: errors.New("embedder down")}, &fakeCorpus{})

	if _, err := r.Search(context.Background(), "q", 3, 0.3); err == nil {
		t.Fatalf("expected embedder error to propagate")
	}
}

func TestRetriever_CorpusErrorPropagates(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, &fakeCorpus{err: errors.New("pg down")})

	if _, err := r.Search(context.Background(), "q", 3, 0.3); err == nil {
		t.Fatalf("expected corpus error to propagate")
	}
}

func TestRetriever_RejectsNonPositiveK(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, &fakeCorpus{})

	if _, err := r.Search(context.Background(), "q", 0, 0.3); err == nil {
		t.Fatalf("expected error for k=0")
	}
}
