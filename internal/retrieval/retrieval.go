// Package retrieval turns a question into grounding context: it queries the
// vector index, drops hits that are not close enough, and assembles the
// surviving chunks into a single context block with the set of contributing
// filenames.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/log"
)

// Separator joins chunk texts inside the assembled context.
const Separator = "\n\n----\n\n"

// Defaults used when Config fields are zero.
const (
	DefaultTopK = 5

	// DefaultDistanceThreshold keeps hits with cosine distance strictly
	// below 1.0, i.e. anything with positive similarity to the question.
	DefaultDistanceThreshold = 1.0
)

// Searcher is the slice of the vector index the retriever needs.
type Searcher interface {
	Query(ctx context.Context, query string, topK int) ([]index.Hit, error)
}

// Config tunes retrieval.
type Config struct {
	// TopK is how many candidates to request from the index.
	TopK int

	// DistanceThreshold is the hard relevance cutoff: hits whose distance
	// is greater than or equal to it are discarded.
	DistanceThreshold float64
}

// Result is the assembled grounding for one question. A question with no
// sufficiently close chunks yields a Result with no hits, an empty Context
// and no Filenames.
type Result struct {
	// Hits are the surviving candidates, ordered by ascending distance.
	Hits []index.Hit

	// Context is the chunk texts joined with Separator.
	Context string

	// Filenames is the deduplicated, sorted set of contributing filenames.
	Filenames []string
}

// Empty reports whether retrieval found nothing close enough.
func (r *Result) Empty() bool {
	return len(r.Hits) == 0
}

// Retriever performs threshold-filtered nearest-neighbor retrieval.
type Retriever struct {
	index  Searcher
	cfg    Config
	logger log.Logger
}

// New creates a Retriever. Zero config fields fall back to the defaults.
func New(idx Searcher, cfg Config, logger log.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = DefaultDistanceThreshold
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{index: idx, cfg: cfg, logger: logger}
}

// Retrieve queries the index and assembles the context for a question.
func (r *Retriever) Retrieve(ctx context.Context, query string) (*Result, error) {
	hits, err := r.index.Query(ctx, query, r.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	result := &Result{}
	seen := make(map[string]struct{})
	var texts []string

	for _, h := range hits {
		if float64(h.Distance) >= r.cfg.DistanceThreshold {
			continue
		}
		result.Hits = append(result.Hits, h)
		texts = append(texts, h.Content)
		if name := h.Metadata[index.MetaFilename]; name != "" {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				result.Filenames = append(result.Filenames, name)
			}
		}
	}

	result.Context = strings.Join(texts, Separator)
	sort.Strings(result.Filenames)

	r.logger.Debug("retrieved context",
		"candidates", len(hits),
		"kept", len(result.Hits),
		"filenames", result.Filenames)
	return result, nil
}
