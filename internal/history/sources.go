package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SaveSource stores an ingested document artifact next to a metadata record
// describing its chunks. Previews are truncated to PreviewLimit runes. The
// returned record's ID is the handle DeleteSource accepts.
//
// The two writes are reported independently: when the metadata write fails
// after the artifact landed, the record is returned alongside the error so
// callers can tell which write succeeded.
func (s *Store) SaveSource(_ context.Context, data []byte, originalFilename string, previews []ChunkPreview) (*SourceRecord, error) {
	base := filepath.Base(originalFilename)
	if !validID(base) {
		return nil, fmt.Errorf("%w: filename %q", ErrInvalidID, originalFilename)
	}

	now := s.now()
	artifactPath, err := uniquePath(filepath.Join(s.root, sourcesDir), now.Format(timestampLayout)+"_"+base)
	if err != nil {
		return nil, fmt.Errorf("naming source artifact: %w", err)
	}
	storedName := filepath.Base(artifactPath)

	if err := writeBytesAtomic(artifactPath, data); err != nil {
		return nil, fmt.Errorf("writing source artifact: %w", err)
	}

	record := &SourceRecord{
		ID:               "metadata_" + storedName,
		StoredFilename:   storedName,
		OriginalFilename: base,
		ChunkCount:       len(previews),
		Previews:         make([]ChunkPreview, 0, len(previews)),
		CreatedAt:        now,
	}
	for _, p := range previews {
		record.Previews = append(record.Previews, ChunkPreview{
			Index:   p.Index,
			Preview: truncatePreview(p.Preview),
		})
	}

	metaPath := filepath.Join(s.root, sourcesDir, record.ID+".json")
	if err := writeJSONAtomic(metaPath, record); err != nil {
		// The artifact is already on disk; leave it for inspection and
		// hand the partial record back with the metadata failure.
		return record, fmt.Errorf("writing source metadata: %w", err)
	}

	s.logger.Debug("saved source", "id", record.ID, "chunks", record.ChunkCount)
	return record, nil
}

// GetSource loads one source record by id. Returns ErrNotFound when the
// metadata record does not exist.
func (s *Store) GetSource(_ context.Context, id string) (*SourceRecord, error) {
	if !validID(id) || !strings.HasPrefix(id, "metadata_") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	data, err := os.ReadFile(filepath.Join(s.root, sourcesDir, id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading source metadata %s: %w", id, err)
	}

	var record SourceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding source metadata %s: %w", id, err)
	}
	return &record, nil
}

// ListSources returns source records ordered newest first. Unreadable
// metadata files are skipped with a warning.
func (s *Store) ListSources(_ context.Context) ([]SourceRecord, error) {
	dir := filepath.Join(s.root, sourcesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading sources directory: %w", err)
	}

	records := make([]SourceRecord, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "metadata_") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable source record", "file", name, "error", err)
			continue
		}
		var record SourceRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("skipping malformed source record", "file", name, "error", err)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// DeleteSource removes a source artifact and its metadata record. It reports
// false, nil when the metadata record does not exist.
func (s *Store) DeleteSource(_ context.Context, id string) (bool, error) {
	if !validID(id) || !strings.HasPrefix(id, "metadata_") {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	metaPath := filepath.Join(s.root, sourcesDir, id+".json")
	data, err := os.ReadFile(metaPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading source metadata %s: %w", id, err)
	}

	var record SourceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("deleting source with malformed metadata", "id", id, "error", err)
	}

	if record.StoredFilename != "" && validID(record.StoredFilename) {
		if err := os.Remove(filepath.Join(s.root, sourcesDir, record.StoredFilename)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("deleting source artifact %s: %w", record.StoredFilename, err)
		}
	}

	if err := os.Remove(metaPath); err != nil {
		return false, fmt.Errorf("deleting source metadata %s: %w", id, err)
	}

	s.logger.Debug("deleted source", "id", id)
	return true, nil
}

// writeBytesAtomic writes data through a temp file and rename.
func writeBytesAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
