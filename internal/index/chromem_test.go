package index_test

import (
	"context"
	"math"
	"testing"

	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/log"
	"github.com/pharci/lexica/internal/testutil"
)

// newTestIndex builds an in-memory chromem index whose embedder maps the
// given texts to fixed vectors, so cosine distances are exact.
func newTestIndex(t *testing.T) (*index.Chromem, *testutil.MockEmbedder) {
	t.Helper()

	g := testutil.NewGenkit(t)
	mock := testutil.NewMockEmbedder(4)
	embedder := mock.RegisterEmbedder(g)

	idx, err := index.NewChromemInMemory("Documents", embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewChromemInMemory() = %v", err)
	}
	return idx, mock
}

func seedRecords(t *testing.T, idx *index.Chromem, mock *testutil.MockEmbedder) {
	t.Helper()

	mock.SetVector("le chat dort", []float32{1, 0, 0, 0})
	mock.SetVector("le chien court", []float32{0.6, 0.8, 0, 0})
	mock.SetVector("la bourse monte", []float32{0, 1, 0, 0})
	mock.SetVector("question chat", []float32{1, 0, 0, 0})

	records := []index.Record{
		{ID: "animaux.txt_0", Content: "le chat dort", Metadata: map[string]string{
			index.MetaFilename: "animaux.txt", index.MetaSourceID: "src-1", index.MetaChunkIndex: "0",
		}},
		{ID: "animaux.txt_1", Content: "le chien court", Metadata: map[string]string{
			index.MetaFilename: "animaux.txt", index.MetaSourceID: "src-1", index.MetaChunkIndex: "1",
		}},
		{ID: "finance.txt_0", Content: "la bourse monte", Metadata: map[string]string{
			index.MetaFilename: "finance.txt", index.MetaSourceID: "src-2", index.MetaChunkIndex: "0",
		}},
	}
	if err := idx.Upsert(context.Background(), records); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}
}

func TestChromemQueryOrdering(t *testing.T) {
	t.Parallel()

	idx, mock := newTestIndex(t)
	seedRecords(t, idx, mock)

	hits, err := idx.Query(context.Background(), "question chat", 3)
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}

	for i := 1; i < len(hits); i++ {
		if hits[i-1].Distance > hits[i].Distance {
			t.Errorf("hits not ordered by ascending distance: %v then %v", hits[i-1].Distance, hits[i].Distance)
		}
	}

	if hits[0].Content != "le chat dort" {
		t.Errorf("nearest hit = %q, want the identical-vector chunk", hits[0].Content)
	}
	if math.Abs(float64(hits[0].Distance)) > 1e-5 {
		t.Errorf("identical vectors should have distance ~0, got %v", hits[0].Distance)
	}
	if math.Abs(float64(hits[1].Distance)-0.4) > 1e-5 {
		t.Errorf("second hit distance = %v, want 0.4", hits[1].Distance)
	}
	if math.Abs(float64(hits[2].Distance)-1.0) > 1e-5 {
		t.Errorf("third hit distance = %v, want 1.0", hits[2].Distance)
	}
}

func TestChromemQueryEmptyIndex(t *testing.T) {
	t.Parallel()

	idx, _ := newTestIndex(t)
	hits, err := idx.Query(context.Background(), "n'importe quoi", 5)
	if err != nil {
		t.Fatalf("Query() on empty index = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from an empty index", len(hits))
	}
}

func TestChromemQueryClampsTopK(t *testing.T) {
	t.Parallel()

	idx, mock := newTestIndex(t)
	seedRecords(t, idx, mock)

	// topK larger than the collection must not error.
	hits, err := idx.Query(context.Background(), "question chat", 50)
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want all 3", len(hits))
	}
}

func TestChromemUpsertReplacesExistingID(t *testing.T) {
	t.Parallel()

	idx, mock := newTestIndex(t)
	seedRecords(t, idx, mock)

	mock.SetVector("le chat miaule", []float32{0, 0, 1, 0})
	err := idx.Upsert(context.Background(), []index.Record{
		{ID: "animaux.txt_0", Content: "le chat miaule", Metadata: map[string]string{
			index.MetaFilename: "animaux.txt", index.MetaSourceID: "src-3", index.MetaChunkIndex: "0",
		}},
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	count, err := idx.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d after overwrite, want 3", count)
	}
}

func TestChromemDeleteBySource(t *testing.T) {
	t.Parallel()

	idx, mock := newTestIndex(t)
	seedRecords(t, idx, mock)

	deleted, err := idx.DeleteBySource(context.Background(), index.MetaFilename, "animaux.txt")
	if err != nil {
		t.Fatalf("DeleteBySource() = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	count, err := idx.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	deleted, err = idx.DeleteBySource(context.Background(), index.MetaFilename, "absent.txt")
	if err != nil {
		t.Fatalf("DeleteBySource(absent) = %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d for absent source, want 0", deleted)
	}
}

func TestChromemUpsertEmpty(t *testing.T) {
	t.Parallel()

	idx, _ := newTestIndex(t)
	if err := idx.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("Upsert(nil) = %v", err)
	}
}
