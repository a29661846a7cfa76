package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharci/lexica/internal/history"
)

func do(handler http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestDiscussionEndpoints(t *testing.T) {
	f := newFixture(t)

	first := postJSON(f.handler, "/api/ask", `{"question": "bonjour"}`)
	require.Equal(t, http.StatusOK, first.Code)
	id := first.Header().Get(headerDiscussionID)
	require.NotEmpty(t, id)

	t.Run("list returns the discussion", func(t *testing.T) {
		w := do(f.handler, http.MethodGet, "/api/history/discussions")
		require.Equal(t, http.StatusOK, w.Code)

		var discussions []history.Discussion
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &discussions))
		require.Len(t, discussions, 1)
		assert.Equal(t, id, discussions[0].ID)
	})

	t.Run("invalid limit is rejected", func(t *testing.T) {
		w := do(f.handler, http.MethodGet, "/api/history/discussions?limit=zero")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get returns the transcript", func(t *testing.T) {
		w := do(f.handler, http.MethodGet, "/api/history/discussions/"+id)
		require.Equal(t, http.StatusOK, w.Code)

		var discussion history.Discussion
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &discussion))
		assert.Len(t, discussion.Messages, 2)
	})

	t.Run("get unknown id returns 404", func(t *testing.T) {
		w := do(f.handler, http.MethodGet, "/api/history/discussions/nonexistent")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete removes the discussion", func(t *testing.T) {
		w := do(f.handler, http.MethodDelete, "/api/history/discussions/"+id)
		require.Equal(t, http.StatusOK, w.Code)

		again := do(f.handler, http.MethodDelete, "/api/history/discussions/"+id)
		assert.Equal(t, http.StatusNotFound, again.Code)
	})
}

func TestSourceEndpoints(t *testing.T) {
	f := newFixture(t)

	w := postMultipart(t, f.handler, "notes.txt", []byte("les chats dorment beaucoup"))
	require.Equal(t, http.StatusCreated, w.Code)
	receipt := decodeReceipt(t, w)
	require.NotNil(t, receipt.Record)

	t.Run("list returns the source", func(t *testing.T) {
		rec := do(f.handler, http.MethodGet, "/api/history/sources")
		require.Equal(t, http.StatusOK, rec.Code)

		var sources []history.SourceRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sources))
		require.Len(t, sources, 1)
		assert.Equal(t, receipt.Record.ID, sources[0].ID)
	})

	t.Run("delete removes the source", func(t *testing.T) {
		rec := do(f.handler, http.MethodDelete, "/api/history/sources/"+receipt.Record.ID)
		require.Equal(t, http.StatusOK, rec.Code)

		again := do(f.handler, http.MethodDelete, "/api/history/sources/"+receipt.Record.ID)
		assert.Equal(t, http.StatusNotFound, again.Code)
	})

	t.Run("deletion without retraction keeps vectors", func(t *testing.T) {
		count, err := f.idx.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestSourceDeletionRetractsVectors(t *testing.T) {
	f := newFixture(t, withRetraction())

	w := postMultipart(t, f.handler, "notes.txt", []byte("les chats dorment beaucoup"))
	require.Equal(t, http.StatusCreated, w.Code)
	receipt := decodeReceipt(t, w)
	require.NotNil(t, receipt.Record)

	count, err := f.idx.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	rec := do(f.handler, http.MethodDelete, "/api/history/sources/"+receipt.Record.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp deleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Deleted)
	assert.Equal(t, 1, resp.VectorsRemoved)

	count, err = f.idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
