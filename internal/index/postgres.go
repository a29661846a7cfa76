package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/pharci/lexica/internal/log"
)

// VectorDimension is the embedding width the pgvector schema is built for.
// gemini-embedding-001 supports truncation to 768 dimensions, which keeps
// index pages small while staying compatible with HNSW.
const VectorDimension = 768

// Querier is the subset of pgxpool.Pool the Postgres backend uses. Defined by
// the consumer so tests can substitute a fake.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgvector-backed index. Schema lives in db/migrations and is
// applied at startup; cosine distance (<=>) orders query results.
type Postgres struct {
	pool     Querier
	embedder ai.Embedder
	logger   log.Logger
}

var _ Index = (*Postgres)(nil)

// NewPostgres creates a pgvector index over an existing connection pool.
func NewPostgres(pool Querier, embedder ai.Embedder, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, embedder: embedder, logger: logger}
}

// Upsert embeds and stores the records, replacing existing ids.
func (p *Postgres) Upsert(ctx context.Context, records []Record) error {
	const query = `
		INSERT INTO chunks (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata`

	for _, r := range records {
		vec, err := embedText(ctx, p.embedder, r.Content)
		if err != nil {
			return fmt.Errorf("embedding record %q: %w", r.ID, err)
		}

		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", r.ID, err)
		}

		if _, err := p.pool.Exec(ctx, query, r.ID, r.Content, pgvector.NewVector(vec), meta); err != nil {
			return fmt.Errorf("%w: upserting %q: %v", ErrUnavailable, r.ID, err)
		}
	}

	p.logger.Debug("upserted records", "count", len(records))
	return nil
}

// Query returns up to topK nearest chunks ordered by ascending cosine
// distance.
func (p *Postgres) Query(ctx context.Context, query string, topK int) ([]Hit, error) {
	vec, err := embedText(ctx, p.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	const sql = `
		SELECT content, metadata, embedding <=> $1 AS distance
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := p.pool.Query(ctx, sql, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			content  string
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&content, &meta, &distance); err != nil {
			return nil, fmt.Errorf("%w: scanning hit: %v", ErrUnavailable, err)
		}

		var metadata map[string]string
		if err := json.Unmarshal(meta, &metadata); err != nil {
			p.logger.Warn("failed to parse chunk metadata", "error", err)
			metadata = make(map[string]string)
		}

		hits = append(hits, Hit{Content: content, Metadata: metadata, Distance: float32(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading hits: %v", ErrUnavailable, err)
	}
	return hits, nil
}

// DeleteBySource removes every chunk whose metadata key equals value.
func (p *Postgres) DeleteBySource(ctx context.Context, key, value string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE metadata->>$1 = $2`, key, value)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting by %s=%s: %v", ErrUnavailable, key, value, err)
	}

	deleted := int(tag.RowsAffected())
	p.logger.Debug("deleted records", "key", key, "value", value, "count", deleted)
	return deleted, nil
}

// Count returns the number of chunks in the table.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	return int(count), nil
}
