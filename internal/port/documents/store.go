// Package documents defines the read-only port to the source document store.
package documents

import (
	"context"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
)

// Sentence is one sentence of a document together with any machine
// suggested assertions shipped alongside it.
type Sentence struct {
	Index      int              `json:"index"`
	Text       string           `json:"text"`
	Assertions []review.Content `json:"assertions,omitempty"`
}

// Document is a source document offered for review.
type Document struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Sentences []Sentence `json:"sentences,omitempty"`
}

// Store lists and fetches documents. Implementations never mutate them.
type Store interface {
	ListDocumentIDs(ctx context.Context) ([]string, error)
	// GetDocument returns domain.ErrNotFound for unknown ids.
	GetDocument(ctx context.Context, id string) (*Document, error)
}
