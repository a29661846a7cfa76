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
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/pharci/lexica/internal/log"
)

// DefaultListLimit is how many discussions ListDiscussions returns when the
// caller passes a non-positive limit.
const DefaultListLimit = 10

// timestampLayout names exchange and source files. Second resolution keeps
// names readable; uniquePath disambiguates collisions.
const timestampLayout = "20060102_150405"

const (
	discussionsDir = "discussions"
	exchangesDir   = "exchanges"
	sourcesDir     = "sources"
)

// Store is the filesystem history store. It is safe for concurrent use: every
// transcript mutation takes a per-discussion file lock, and all writes go
// through a temp file and rename.
type Store struct {
	root   string
	logger log.Logger

	// now is replaceable in tests for deterministic file names.
	now func() time.Time
}

// New creates a Store rooted at dir, creating the layout if needed.
func New(dir string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	for _, sub := range []string{discussionsDir, exchangesDir, sourcesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("creating history directory %s: %w", sub, err)
		}
	}
	return &Store{root: dir, logger: logger, now: time.Now}, nil
}

// AppendMessage appends a message to the discussion transcript, creating the
// transcript if it does not exist. An empty id creates a new discussion; the
// (possibly new) id is returned.
func (s *Store) AppendMessage(ctx context.Context, id string, m Message) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !validID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}

	path := s.discussionPath(id)
	unlock, err := s.lockDiscussion(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	disc, err := readDiscussion(path)
	switch {
	case errors.Is(err, ErrNotFound):
		disc = &Discussion{ID: id, CreatedAt: m.Timestamp}
	case err != nil:
		return "", err
	}

	disc.Messages = append(disc.Messages, m)
	disc.UpdatedAt = m.Timestamp

	if err := writeJSONAtomic(path, disc); err != nil {
		return "", fmt.Errorf("writing discussion %s: %w", id, err)
	}

	s.logger.Debug("appended message", "discussion_id", id, "role", m.Role, "messages", len(disc.Messages))
	return id, nil
}

// GetDiscussion loads one transcript. Returns ErrNotFound when the id has no
// transcript.
func (s *Store) GetDiscussion(_ context.Context, id string) (*Discussion, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return readDiscussion(s.discussionPath(id))
}

// ListDiscussions returns transcripts ordered newest first by last update.
// Unreadable files are skipped with a warning rather than failing the list.
func (s *Store) ListDiscussions(_ context.Context, limit int) ([]Discussion, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	dir := filepath.Join(s.root, discussionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading discussions directory: %w", err)
	}

	discussions := make([]Discussion, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		disc, err := readDiscussion(filepath.Join(dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable discussion", "file", e.Name(), "error", err)
			continue
		}
		discussions = append(discussions, *disc)
	}

	sort.Slice(discussions, func(i, j int) bool {
		return discussions[i].UpdatedAt.After(discussions[j].UpdatedAt)
	})
	if len(discussions) > limit {
		discussions = discussions[:limit]
	}
	return discussions, nil
}

// DeleteDiscussion removes a transcript. It reports false, nil when the
// discussion does not exist.
func (s *Store) DeleteDiscussion(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	unlock, err := s.lockDiscussion(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	err = os.Remove(s.discussionPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting discussion %s: %w", id, err)
	}

	// Lock file is best-effort cleanup.
	_ = os.Remove(s.lockPath(id))

	s.logger.Debug("deleted discussion", "discussion_id", id)
	return true, nil
}

// SaveExchange writes one consistency-log record.
func (s *Store) SaveExchange(_ context.Context, ex Exchange) error {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = s.now()
	}

	name := "discussion_" + ex.Timestamp.Format(timestampLayout) + ".json"
	path, err := uniquePath(filepath.Join(s.root, exchangesDir), name)
	if err != nil {
		return fmt.Errorf("naming exchange record: %w", err)
	}

	if err := writeJSONAtomic(path, ex); err != nil {
		return fmt.Errorf("writing exchange record: %w", err)
	}

	s.logger.Debug("saved exchange", "file", filepath.Base(path))
	return nil
}

func (s *Store) discussionPath(id string) string {
	return filepath.Join(s.root, discussionsDir, id+".json")
}

func (s *Store) lockPath(id string) string {
	return filepath.Join(s.root, discussionsDir, id+".lock")
}

// lockDiscussion takes the per-discussion file lock and returns the unlock
// function.
func (s *Store) lockDiscussion(ctx context.Context, id string) (func(), error) {
	fl := flock.New(s.lockPath(id))

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("locking discussion %s: %w", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("locking discussion %s: lock not acquired", id)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release discussion lock", "discussion_id", id, "error", err)
		}
	}, nil
}

func readDiscussion(path string) (*Discussion, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("reading discussion: %w", err)
	}

	var disc Discussion
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("parsing discussion %s: %w", filepath.Base(path), err)
	}
	return &disc, nil
}

// writeJSONAtomic marshals v and renames a temp file over path, so readers
// never observe a partial write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}

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

// uniquePath returns dir/name, appending _1, _2, ... before the extension
// until the name is unused. The winning name is reserved with an exclusive
// create, so two writers racing for the same second cannot pick the same
// path; the caller's atomic write then renames over the placeholder.
func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserving %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("reserving %s: %w", candidate, err)
		}
		return path, nil
	}
}
