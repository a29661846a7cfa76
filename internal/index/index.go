// Package index provides the vector index capability behind ingestion and
// retrieval: storing embedded document chunks and answering nearest-neighbor
// queries by raw distance.
//
// Two backends implement the Index interface: Chromem (embedded, persisted on
// disk, the default) and Postgres (pgvector). Both embed text through an
// injected Genkit ai.Embedder and report distances on the same scale, cosine
// distance in [0, 2] where lower is closer.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// ErrUnavailable indicates the index backend could not be reached or failed
// mid-operation. Transport layers map it to a bad-gateway response.
var ErrUnavailable = errors.New("vector index unavailable")

// Metadata keys attached to every indexed chunk.
const (
	MetaFilename   = "filename"
	MetaSourceID   = "source_id"
	MetaChunkIndex = "chunk_index"
)

// Record is one embeddable chunk to upsert into the index.
type Record struct {
	// ID uniquely identifies the vector. Upserting an existing ID replaces
	// its content and embedding.
	ID string

	// Content is the chunk text to embed and store.
	Content string

	// Metadata carries filename, source_id and chunk_index.
	Metadata map[string]string
}

// Hit is one query result.
type Hit struct {
	Content  string
	Metadata map[string]string

	// Distance is the cosine distance between the query and the chunk.
	// Lower means closer; identical texts score near 0.
	Distance float32
}

// Index is the vector index consumed by the ingestion pipeline and the
// retriever. Implementations are safe for concurrent use.
type Index interface {
	// Upsert embeds and stores the records. Existing ids are replaced.
	Upsert(ctx context.Context, records []Record) error

	// Query returns up to topK nearest chunks ordered by ascending
	// distance. An empty index returns no hits and no error.
	Query(ctx context.Context, query string, topK int) ([]Hit, error)

	// DeleteBySource removes every chunk whose metadata key equals value
	// and reports how many were removed.
	DeleteBySource(ctx context.Context, key, value string) (int, error)

	// Count returns the number of chunks in the index.
	Count(ctx context.Context) (int, error)
}

// embedText runs a single text through the Genkit embedder and returns its
// vector.
func embedText(ctx context.Context, embedder ai.Embedder, text string) ([]float32, error) {
	resp, err := embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}
