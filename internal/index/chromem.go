package index

import (
	"context"
	"fmt"
	"runtime"

	"github.com/firebase/genkit/go/ai"
	chromem "github.com/philippgille/chromem-go"

	"github.com/pharci/lexica/internal/log"
)

// Chromem is the embedded vector index backend, persisted on disk. It needs
// no external service, which makes it the default for local deployments and
// the backend used by tests.
type Chromem struct {
	collection *chromem.Collection
	logger     log.Logger
}

var _ Index = (*Chromem)(nil)

// NewChromem opens (or creates) a persistent chromem database at path and
// binds the named collection to the given embedder.
func NewChromem(path, collectionName string, embedder ai.Embedder, logger log.Logger) (*Chromem, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem db at %s: %v", ErrUnavailable, path, err)
	}
	return newChromemCollection(db, collectionName, embedder, logger)
}

// NewChromemInMemory creates a non-persistent index. Tests only.
func NewChromemInMemory(collectionName string, embedder ai.Embedder, logger log.Logger) (*Chromem, error) {
	return newChromemCollection(chromem.NewDB(), collectionName, embedder, logger)
}

func newChromemCollection(db *chromem.DB, collectionName string, embedder ai.Embedder, logger log.Logger) (*Chromem, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, NewEmbeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("%w: creating collection %q: %v", ErrUnavailable, collectionName, err)
	}
	return &Chromem{collection: collection, logger: logger}, nil
}

// Upsert embeds and stores the records. Documents with existing ids are
// replaced, embedding included.
func (c *Chromem) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
		})
	}

	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: upserting %d records: %v", ErrUnavailable, len(records), err)
	}

	c.logger.Debug("upserted records", "count", len(records))
	return nil
}

// Query returns up to topK nearest chunks ordered by ascending distance.
// chromem reports cosine similarity; distance is 1 - similarity.
func (c *Chromem) Query(ctx context.Context, query string, topK int) ([]Hit, error) {
	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem rejects nResults larger than the collection.
	if topK > count {
		topK = count
	}

	results, err := c.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrUnavailable, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Content:  r.Content,
			Metadata: r.Metadata,
			Distance: 1 - r.Similarity,
		})
	}
	return hits, nil
}

// DeleteBySource removes every chunk whose metadata key equals value.
func (c *Chromem) DeleteBySource(ctx context.Context, key, value string) (int, error) {
	before := c.collection.Count()
	if err := c.collection.Delete(ctx, map[string]string{key: value}, nil); err != nil {
		return 0, fmt.Errorf("%w: deleting by %s=%s: %v", ErrUnavailable, key, value, err)
	}
	deleted := before - c.collection.Count()
	c.logger.Debug("deleted records", "key", key, "value", value, "count", deleted)
	return deleted, nil
}

// Count returns the number of chunks in the collection.
func (c *Chromem) Count(_ context.Context) (int, error) {
	return c.collection.Count(), nil
}
