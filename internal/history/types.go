// Package history persists conversation and ingestion history on the local
// filesystem. The data directory is the database:
//
//	discussions/<id>.json                    one transcript per discussion
//	exchanges/discussion_<ts>.json           one record per completed exchange
//	sources/<ts>_<filename>                  ingested document artifacts
//	sources/metadata_<ts>_<filename>.json    source records with chunk previews
//
// Writes are atomic (temp file + rename) and per-discussion appends are
// serialized with a file lock, so concurrent handlers cannot interleave
// messages within one transcript.
package history

import (
	"errors"
	"time"
)

// Message roles stored in transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PreviewLimit is where chunk previews are cut, in runes. Cut previews carry
// a trailing ellipsis.
const PreviewLimit = 200

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("history record not found")

	// ErrInvalidID indicates an id that could escape the data directory.
	ErrInvalidID = errors.New("invalid history id")
)

// Message is a single turn in a discussion transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Discussion is a complete transcript.
type Discussion struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Exchange is the consistency-log record written once per completed answer,
// whether the generation succeeded or failed.
type Exchange struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// ChunkPreview is a truncated look at one indexed chunk, kept alongside the
// source artifact for inspection.
type ChunkPreview struct {
	Index   int    `json:"chunk_index"`
	Preview string `json:"preview"`
}

// SourceRecord describes one ingested document.
type SourceRecord struct {
	// ID is the metadata filename without its .json suffix, e.g.
	// "metadata_20260829_101500_report.pdf".
	ID string `json:"id"`

	// StoredFilename is the artifact name under sources/.
	StoredFilename string `json:"stored_filename"`

	// OriginalFilename is the name the document was uploaded under.
	OriginalFilename string `json:"original_filename"`

	ChunkCount int            `json:"chunk_count"`
	Previews   []ChunkPreview `json:"chunks"`
	CreatedAt  time.Time      `json:"saved_at"`
}

// truncatePreview caps a preview at PreviewLimit runes, marking the cut with
// an ellipsis.
func truncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewLimit {
		return s
	}
	return string(runes[:PreviewLimit]) + "..."
}

// validID rejects ids that contain path separators or traversal sequences.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > 255 {
		return false
	}
	for _, c := range id {
		if c == '/' || c == '\\' || c == '\x00' {
			return false
		}
	}
	return true
}
