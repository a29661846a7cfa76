package retrieval_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/log"
	"github.com/pharci/lexica/internal/retrieval"
	"github.com/pharci/lexica/internal/testutil"
)

// newSeededRetriever builds a retriever over an in-memory index holding
// chunks at exact cosine distances from the query "question chat":
// 0, 0.4 and 1.0.
func newSeededRetriever(t *testing.T, cfg retrieval.Config) *retrieval.Retriever {
	t.Helper()

	g := testutil.NewGenkit(t)
	mock := testutil.NewMockEmbedder(4)
	embedder := mock.RegisterEmbedder(g)

	idx, err := index.NewChromemInMemory("Documents", embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewChromemInMemory() = %v", err)
	}

	mock.SetVector("question chat", []float32{1, 0, 0, 0})
	mock.SetVector("le chat dort", []float32{1, 0, 0, 0})
	mock.SetVector("le chien court", []float32{0.6, 0.8, 0, 0})
	mock.SetVector("la bourse monte", []float32{0, 1, 0, 0})

	err = idx.Upsert(context.Background(), []index.Record{
		{ID: "a", Content: "le chat dort", Metadata: map[string]string{index.MetaFilename: "animaux.txt"}},
		{ID: "b", Content: "le chien court", Metadata: map[string]string{index.MetaFilename: "animaux.txt"}},
		{ID: "c", Content: "la bourse monte", Metadata: map[string]string{index.MetaFilename: "finance.txt"}},
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	return retrieval.New(idx, cfg, log.NewNop())
}

func TestRetrieveThresholdCutoff(t *testing.T) {
	t.Parallel()

	r := newSeededRetriever(t, retrieval.Config{TopK: 5, DistanceThreshold: 1.0})
	result, err := r.Retrieve(context.Background(), "question chat")
	if err != nil {
		t.Fatalf("Retrieve() = %v", err)
	}

	// Distance 1.0 hit is excluded: the cutoff is strict.
	if len(result.Hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(result.Hits))
	}
	for _, h := range result.Hits {
		if float64(h.Distance) >= 1.0 {
			t.Errorf("hit with distance %v survived the threshold", h.Distance)
		}
	}
	if len(result.Filenames) != 1 || result.Filenames[0] != "animaux.txt" {
		t.Errorf("filenames = %v, want [animaux.txt]", result.Filenames)
	}
}

func TestRetrieveTighterThreshold(t *testing.T) {
	t.Parallel()

	r := newSeededRetriever(t, retrieval.Config{TopK: 5, DistanceThreshold: 0.2})
	result, err := r.Retrieve(context.Background(), "question chat")
	if err != nil {
		t.Fatalf("Retrieve() = %v", err)
	}
	if len(result.Hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(result.Hits))
	}
	if result.Hits[0].Content != "le chat dort" {
		t.Errorf("kept hit = %q", result.Hits[0].Content)
	}
	if result.Context != "le chat dort" {
		t.Errorf("context = %q", result.Context)
	}
}

func TestRetrieveContextAssembly(t *testing.T) {
	t.Parallel()

	r := newSeededRetriever(t, retrieval.Config{TopK: 5, DistanceThreshold: 1.0})
	result, err := r.Retrieve(context.Background(), "question chat")
	if err != nil {
		t.Fatalf("Retrieve() = %v", err)
	}

	parts := strings.Split(result.Context, retrieval.Separator)
	if len(parts) != len(result.Hits) {
		t.Fatalf("context has %d parts, want %d", len(parts), len(result.Hits))
	}
	// Nearest chunk comes first.
	if parts[0] != "le chat dort" {
		t.Errorf("first context part = %q", parts[0])
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	t.Parallel()

	g := testutil.NewGenkit(t)
	embedder := testutil.NewMockEmbedder(4).RegisterEmbedder(g)
	idx, err := index.NewChromemInMemory("Documents", embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewChromemInMemory() = %v", err)
	}
	r := retrieval.New(idx, retrieval.Config{}, log.NewNop())

	result, err := r.Retrieve(context.Background(), "une question")
	if err != nil {
		t.Fatalf("Retrieve() on empty index = %v", err)
	}
	if !result.Empty() {
		t.Error("Empty() = false for empty index")
	}
	if result.Context != "" || len(result.Filenames) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}

// failingSearcher always errors.
type failingSearcher struct{}

func (failingSearcher) Query(context.Context, string, int) ([]index.Hit, error) {
	return nil, index.ErrUnavailable
}

func TestRetrievePropagatesIndexError(t *testing.T) {
	t.Parallel()

	r := retrieval.New(failingSearcher{}, retrieval.Config{}, log.NewNop())
	if _, err := r.Retrieve(context.Background(), "q"); !errors.Is(err, index.ErrUnavailable) {
		t.Errorf("Retrieve() = %v, want ErrUnavailable", err)
	}
}
