// Package ingest implements the document ingestion pipeline: extract text,
// chunk it, index the chunks, then archive the document and its metadata in
// the history store.
//
// The pipeline is deliberately non-transactional. Each write is attempted in
// order and its outcome recorded on the Receipt; a failed index write does
// not prevent the artifact from being archived. Only extraction and chunking
// failures abort before anything is written.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pharci/lexica/internal/chunker"
	"github.com/pharci/lexica/internal/extract"
	"github.com/pharci/lexica/internal/history"
	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/log"
)

// pseudoFilenameRunes is how much of an ingested raw text is used as its
// display filename.
const pseudoFilenameRunes = 10

// Indexer is the slice of the vector index the pipeline needs.
type Indexer interface {
	Upsert(ctx context.Context, records []index.Record) error
}

// SourceArchiver is the slice of the history store the pipeline needs.
type SourceArchiver interface {
	SaveSource(ctx context.Context, data []byte, originalFilename string, previews []history.ChunkPreview) (*history.SourceRecord, error)
}

// Config tunes the pipeline.
type Config struct {
	// WindowSize and Overlap are the chunking parameters, in runes.
	WindowSize int
	Overlap    int

	// IDStrategy selects how vector ids are derived: config.StrategyFilename
	// keys on the filename (re-ingesting a name overwrites its vectors),
	// config.StrategySource keys on the per-ingestion source id.
	IDStrategy string
}

// Receipt reports what one ingestion actually wrote.
type Receipt struct {
	// SourceID is the id stamped into every chunk's metadata.
	SourceID string `json:"source_id"`

	// Filename is the original (or derived) document name.
	Filename string `json:"filename"`

	ChunkCount     int  `json:"chunk_count"`
	VectorsIndexed bool `json:"vectors_indexed"`
	ArtifactSaved  bool `json:"artifact_saved"`
	MetadataSaved  bool `json:"metadata_saved"`

	// Record is the archived source record, when metadata was saved.
	Record *history.SourceRecord `json:"record,omitempty"`
}

// Pipeline ingests documents.
type Pipeline struct {
	index   Indexer
	archive SourceArchiver
	cfg     Config
	logger  log.Logger
}

// New creates a Pipeline. Zero chunking parameters fall back to the chunker
// defaults.
func New(idx Indexer, archive SourceArchiver, cfg Config, logger log.Logger) *Pipeline {
	if cfg.WindowSize == 0 {
		cfg.WindowSize = chunker.DefaultWindowSize
		cfg.Overlap = chunker.DefaultOverlap
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{index: idx, archive: archive, cfg: cfg, logger: logger}
}

// IngestFile ingests an uploaded document. Extraction failure writes nothing;
// later failures are recorded on the Receipt and ingestion continues.
func (p *Pipeline) IngestFile(ctx context.Context, data []byte, filename string) (*Receipt, error) {
	text, err := extract.Text(data, filename)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, data, filename, text)
}

// IngestText ingests raw text. The display filename is derived from the
// first characters of the text.
func (p *Pipeline) IngestText(ctx context.Context, text string) (*Receipt, error) {
	if text == "" {
		return nil, extract.ErrEmptyContent
	}
	return p.ingest(ctx, []byte(text), pseudoFilename(text), text)
}

func (p *Pipeline) ingest(ctx context.Context, data []byte, filename, text string) (*Receipt, error) {
	chunks, err := chunker.Split(text, p.cfg.WindowSize, p.cfg.Overlap)
	if err != nil {
		return nil, fmt.Errorf("chunking %s: %w", filename, err)
	}

	receipt := &Receipt{
		SourceID:   uuid.NewString(),
		Filename:   filename,
		ChunkCount: len(chunks),
	}

	records := make([]index.Record, 0, len(chunks))
	previews := make([]history.ChunkPreview, 0, len(chunks))
	for _, c := range chunks {
		records = append(records, index.Record{
			ID:      p.vectorID(filename, receipt.SourceID, c.Index),
			Content: c.Content,
			Metadata: map[string]string{
				index.MetaFilename:   filename,
				index.MetaSourceID:   receipt.SourceID,
				index.MetaChunkIndex: strconv.Itoa(c.Index),
			},
		})
		previews = append(previews, history.ChunkPreview{Index: c.Index, Preview: c.Content})
	}

	if err := p.index.Upsert(ctx, records); err != nil {
		p.logger.Error("indexing failed", "filename", filename, "chunks", len(records), "error", err)
	} else {
		receipt.VectorsIndexed = true
	}

	// A non-nil record means the artifact landed even when the metadata
	// write failed afterwards; the two flags report each write on its own.
	record, err := p.archive.SaveSource(ctx, data, filename, previews)
	if record != nil {
		receipt.ArtifactSaved = true
	}
	if err != nil {
		p.logger.Error("archiving source failed", "filename", filename, "error", err)
	} else {
		receipt.MetadataSaved = true
		receipt.Record = record
	}

	p.logger.Info("ingested document",
		"filename", filename,
		"chunks", receipt.ChunkCount,
		"indexed", receipt.VectorsIndexed,
		"archived", receipt.ArtifactSaved)
	return receipt, nil
}

// vectorID derives a chunk's vector id per the configured strategy.
func (p *Pipeline) vectorID(filename, sourceID string, chunkIndex int) string {
	if p.cfg.IDStrategy == "source" {
		return fmt.Sprintf("%s_%d", sourceID, chunkIndex)
	}
	return fmt.Sprintf("%s_%d", filename, chunkIndex)
}

// pseudoFilename derives a display name from raw text: its first runes,
// newlines flattened to spaces, plus an ellipsis.
func pseudoFilename(text string) string {
	flat := strings.NewReplacer("\n", " ", "\r", " ").Replace(text)
	runes := []rune(flat)
	if len(runes) > pseudoFilenameRunes {
		runes = runes[:pseudoFilenameRunes]
	}
	return string(runes) + "..."
}
