package index

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pharci/lexica/internal/log"
	"github.com/pharci/lexica/internal/testutil"
)

// fakeQuerier records SQL calls and replays canned results.
type fakeQuerier struct {
	execSQL  []string
	execArgs [][]any
	execTag  pgconn.CommandTag
	execErr  error

	rows     pgx.Rows
	queryErr error

	countErr error
	count    int64
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return f.execTag, f.execErr
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return f.rows, f.queryErr
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{count: f.count, err: f.countErr}
}

type fakeRow struct {
	count int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*int64); ok {
		*p = r.count
	}
	return nil
}

// fakeRows replays hit tuples of (content, metadata JSON, distance).
type fakeRows struct {
	hits [][3]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.hits)
}
func (r *fakeRows) Scan(dest ...any) error {
	hit := r.hits[r.pos-1]
	*dest[0].(*string) = hit[0].(string)
	*dest[1].(*[]byte) = hit[1].([]byte)
	*dest[2].(*float64) = hit[2].(float64)
	return nil
}
func (r *fakeRows) Values() ([]any, error) { return nil, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

func newPostgresFixture(t *testing.T, pool Querier) *Postgres {
	t.Helper()

	g := testutil.NewGenkit(t)
	embedder := testutil.NewMockEmbedder(4).RegisterEmbedder(g)
	return NewPostgres(pool, embedder, log.NewNop())
}

func TestPostgresUpsert(t *testing.T) {
	pool := &fakeQuerier{}
	p := newPostgresFixture(t, pool)

	records := []Record{
		{ID: "doc.txt_0", Content: "premier morceau", Metadata: map[string]string{MetaFilename: "doc.txt"}},
		{ID: "doc.txt_1", Content: "second morceau", Metadata: map[string]string{MetaFilename: "doc.txt"}},
	}
	if err := p.Upsert(context.Background(), records); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	if len(pool.execSQL) != 2 {
		t.Fatalf("Exec called %d times, want 2", len(pool.execSQL))
	}
	if got := pool.execArgs[0][0]; got != "doc.txt_0" {
		t.Errorf("first upsert id = %v, want doc.txt_0", got)
	}
}

func TestPostgresUpsertUnavailable(t *testing.T) {
	pool := &fakeQuerier{execErr: errors.New("connection refused")}
	p := newPostgresFixture(t, pool)

	err := p.Upsert(context.Background(), []Record{{ID: "a_0", Content: "x"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Upsert() = %v, want ErrUnavailable", err)
	}
}

func TestPostgresQuery(t *testing.T) {
	pool := &fakeQuerier{rows: &fakeRows{hits: [][3]any{
		{"les chats dorment beaucoup", []byte(`{"filename":"chats.txt"}`), 0.12},
		{"les chiens aboient", []byte(`{"filename":"chiens.txt"}`), 0.48},
	}}}
	p := newPostgresFixture(t, pool)

	hits, err := p.Query(context.Background(), "parle-moi des chats", 5)
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].Metadata[MetaFilename] != "chats.txt" {
		t.Errorf("first hit filename = %q, want chats.txt", hits[0].Metadata[MetaFilename])
	}
	if hits[0].Distance >= hits[1].Distance {
		t.Errorf("hits not ordered by distance: %v, %v", hits[0].Distance, hits[1].Distance)
	}
}

func TestPostgresDeleteBySource(t *testing.T) {
	pool := &fakeQuerier{execTag: pgconn.NewCommandTag("DELETE 3")}
	p := newPostgresFixture(t, pool)

	deleted, err := p.DeleteBySource(context.Background(), MetaFilename, "doc.txt")
	if err != nil {
		t.Fatalf("DeleteBySource() = %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	if got := pool.execArgs[0]; got[0] != MetaFilename || got[1] != "doc.txt" {
		t.Errorf("delete args = %v", got)
	}
}

func TestPostgresCount(t *testing.T) {
	p := newPostgresFixture(t, &fakeQuerier{count: 42})

	count, err := p.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 42 {
		t.Errorf("Count() = %d, want 42", count)
	}

	broken := newPostgresFixture(t, &fakeQuerier{countErr: errors.New("down")})
	if _, err := broken.Count(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Count() on broken pool = %v, want ErrUnavailable", err)
	}
}
