package retrieval

import (
	"context"
	"time"

	pgvector "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/mfifer/docchat/internal/rag"
)

// Document is one embedded passage row in the corpus table. Rows are written
// by the ingestion tooling; this service only reads them.
type Document struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	Content    string          `gorm:"type:text;not null"`
	SourceFile string          `gorm:"type:varchar(255);not null"`
	PageNum    int             `gorm:"not null"`
	Embedding  pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt  time.Time
}

func (Document) TableName() string { return "documents" }

// PGCorpus runs cosine-distance nearest-neighbour queries against the
// pgvector documents table.
type PGCorpus struct {
	db *gorm.DB
}

func NewPGCorpus(db *gorm.DB) *PGCorpus {
	return &PGCorpus{db: db}
}

type corpusRow struct {
	Content    string
	SourceFile string
	PageNum    int
	Similarity float64
}

// Nearest returns up to limit rows ordered by cosine similarity descending.
// `<=>` is cosine distance, so similarity = 1 - distance and the distance
// ordering is already the similarity ordering.
func (c *PGCorpus) Nearest(ctx context.Context, vector []float32, limit int) ([]rag.RetrievedDocument, error) {
	vec := pgvector.NewVector(vector)

	var rows []corpusRow
	err := c.db.WithContext(ctx).
		Raw(`SELECT content, source_file, page_num,
		            1 - (embedding <=> ?) AS similarity
		     FROM documents
		     ORDER BY embedding <=> ?
		     LIMIT ?`, vec, vec, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	docs := make([]rag.RetrievedDocument, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, rag.RetrievedDocument{
			Content:    row.Content,
			Source:     row.SourceFile,
			Page:       row.PageNum,
			Similarity: row.Similarity,
		})
	}
	return docs, nil
}
