package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pharci/lexica/internal/extract"
	"github.com/pharci/lexica/internal/history"
	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/ingest"
	"github.com/pharci/lexica/internal/log"
	"github.com/pharci/lexica/internal/testutil"
)

func newTestPipeline(t *testing.T, cfg ingest.Config) (*ingest.Pipeline, *index.Chromem, *history.Store) {
	t.Helper()

	g := testutil.NewGenkit(t)
	embedder := testutil.NewMockEmbedder(8).RegisterEmbedder(g)
	idx, err := index.NewChromemInMemory("Documents", embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewChromemInMemory() = %v", err)
	}
	store, err := history.New(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("history.New() = %v", err)
	}
	return ingest.New(idx, store, cfg, log.NewNop()), idx, store
}

func TestIngestText(t *testing.T) {
	t.Parallel()

	pipeline, idx, store := newTestPipeline(t, ingest.Config{WindowSize: 50, Overlap: 10})
	ctx := context.Background()

	text := strings.Repeat("le savoir est une richesse ", 10)
	receipt, err := pipeline.IngestText(ctx, text)
	if err != nil {
		t.Fatalf("IngestText() = %v", err)
	}

	if receipt.Filename != "le savoir ..." {
		t.Errorf("pseudo filename = %q", receipt.Filename)
	}
	if receipt.ChunkCount == 0 {
		t.Error("no chunks produced")
	}
	if !receipt.VectorsIndexed || !receipt.ArtifactSaved || !receipt.MetadataSaved {
		t.Errorf("receipt flags = %+v", receipt)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != receipt.ChunkCount {
		t.Errorf("index has %d vectors, receipt says %d chunks", count, receipt.ChunkCount)
	}

	records, err := store.ListSources(ctx)
	if err != nil {
		t.Fatalf("ListSources() = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d source records, want 1", len(records))
	}
	if records[0].ChunkCount != receipt.ChunkCount {
		t.Errorf("source record chunk count = %d, want %d", records[0].ChunkCount, receipt.ChunkCount)
	}
}

func TestIngestTextFlattensNewlinesInPseudoFilename(t *testing.T) {
	t.Parallel()

	pipeline, _, _ := newTestPipeline(t, ingest.Config{WindowSize: 50, Overlap: 10})

	receipt, err := pipeline.IngestText(context.Background(), "le\nsavoir\rest une richesse durable")
	if err != nil {
		t.Fatalf("IngestText() = %v", err)
	}
	if receipt.Filename != "le savoir ..." {
		t.Errorf("pseudo filename = %q, want newlines flattened to spaces", receipt.Filename)
	}
}

func TestIngestTextEmpty(t *testing.T) {
	t.Parallel()

	pipeline, _, _ := newTestPipeline(t, ingest.Config{})
	if _, err := pipeline.IngestText(context.Background(), ""); !errors.Is(err, extract.ErrEmptyContent) {
		t.Errorf("IngestText(\"\") = %v, want ErrEmptyContent", err)
	}
}

func TestIngestFileUnsupportedWritesNothing(t *testing.T) {
	t.Parallel()

	pipeline, idx, store := newTestPipeline(t, ingest.Config{})
	ctx := context.Background()

	_, err := pipeline.IngestFile(ctx, []byte("binary"), "photo.png")
	if !errors.Is(err, extract.ErrUnsupportedFormat) {
		t.Fatalf("IngestFile() = %v, want ErrUnsupportedFormat", err)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 0 {
		t.Errorf("index has %d vectors after failed extraction", count)
	}
	records, err := store.ListSources(ctx)
	if err != nil {
		t.Fatalf("ListSources() = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("%d source records written after failed extraction", len(records))
	}
}

func TestIngestFileFilenameStrategyOverwrites(t *testing.T) {
	t.Parallel()

	pipeline, idx, _ := newTestPipeline(t, ingest.Config{WindowSize: 50, Overlap: 0, IDStrategy: "filename"})
	ctx := context.Background()

	data := []byte(strings.Repeat("contenu du rapport ", 10))
	first, err := pipeline.IngestFile(ctx, data, "rapport.txt")
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}
	second, err := pipeline.IngestFile(ctx, data, "rapport.txt")
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}
	if first.SourceID == second.SourceID {
		t.Error("source ids should differ per ingestion")
	}

	// Same filename, same text: ids collide, vectors are replaced.
	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != first.ChunkCount {
		t.Errorf("index has %d vectors, want %d (overwrite)", count, first.ChunkCount)
	}
}

func TestIngestFileSourceStrategyAccumulates(t *testing.T) {
	t.Parallel()

	pipeline, idx, _ := newTestPipeline(t, ingest.Config{WindowSize: 50, Overlap: 0, IDStrategy: "source"})
	ctx := context.Background()

	data := []byte(strings.Repeat("contenu du rapport ", 10))
	first, err := pipeline.IngestFile(ctx, data, "rapport.txt")
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}
	if _, err := pipeline.IngestFile(ctx, data, "rapport.txt"); err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 2*first.ChunkCount {
		t.Errorf("index has %d vectors, want %d (no overwrite)", count, 2*first.ChunkCount)
	}
}

// failingIndex always refuses upserts.
type failingIndex struct{}

func (failingIndex) Upsert(context.Context, []index.Record) error {
	return index.ErrUnavailable
}

// partialArchive saves the artifact but always fails the metadata write.
type partialArchive struct{}

func (partialArchive) SaveSource(_ context.Context, _ []byte, filename string, _ []history.ChunkPreview) (*history.SourceRecord, error) {
	return &history.SourceRecord{
		ID:               "metadata_20260829_101500_" + filename,
		StoredFilename:   "20260829_101500_" + filename,
		OriginalFilename: filename,
	}, errors.New("metadata write refused")
}

func TestIngestReportsArtifactWithoutMetadata(t *testing.T) {
	t.Parallel()

	g := testutil.NewGenkit(t)
	embedder := testutil.NewMockEmbedder(8).RegisterEmbedder(g)
	idx, err := index.NewChromemInMemory("Documents", embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewChromemInMemory() = %v", err)
	}
	pipeline := ingest.New(idx, partialArchive{}, ingest.Config{}, log.NewNop())

	receipt, err := pipeline.IngestText(context.Background(), "texte important")
	if err != nil {
		t.Fatalf("IngestText() = %v", err)
	}
	if !receipt.VectorsIndexed {
		t.Error("VectorsIndexed = false, indexing should not be affected")
	}
	if !receipt.ArtifactSaved {
		t.Error("ArtifactSaved = false despite the artifact being written")
	}
	if receipt.MetadataSaved {
		t.Error("MetadataSaved = true despite the metadata failure")
	}
	if receipt.Record != nil {
		t.Errorf("Record = %+v, want none without metadata", receipt.Record)
	}
}

func TestIngestContinuesPastIndexFailure(t *testing.T) {
	t.Parallel()

	store, err := history.New(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("history.New() = %v", err)
	}
	pipeline := ingest.New(failingIndex{}, store, ingest.Config{}, log.NewNop())

	receipt, err := pipeline.IngestText(context.Background(), "texte important")
	if err != nil {
		t.Fatalf("IngestText() = %v", err)
	}
	if receipt.VectorsIndexed {
		t.Error("VectorsIndexed = true despite index failure")
	}
	if !receipt.ArtifactSaved || !receipt.MetadataSaved {
		t.Errorf("archive flags = %+v, want archived despite index failure", receipt)
	}
}
