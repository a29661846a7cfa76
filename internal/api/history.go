package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/pharci/lexica/internal/history"
	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/log"
)

// historyHandler exposes stored discussions and ingested sources.
type historyHandler struct {
	store  *history.Store
	index  index.Index
	logger log.Logger

	// retractVectors removes a source's chunks from the index when the
	// source is deleted. Off by default: deleting the artifact never
	// silently degrades answers unless the operator opted in.
	retractVectors bool
}

type deleteResponse struct {
	Deleted        bool `json:"deleted"`
	VectorsRemoved int  `json:"vectors_removed,omitempty"`
}

// listDiscussions handles GET /api/history/discussions?limit=.
func (h *historyHandler) listDiscussions(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	discussions, err := h.store.ListDiscussions(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing discussions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list discussions")
		return
	}
	writeJSON(w, http.StatusOK, discussions)
}

// getDiscussion handles GET /api/history/discussions/{id}.
func (h *historyHandler) getDiscussion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	discussion, err := h.store.GetDiscussion(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "discussion not found")
		return
	}
	if errors.Is(err, history.ErrInvalidID) {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid discussion id")
		return
	}
	if err != nil {
		h.logger.Error("loading discussion failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to load discussion")
		return
	}
	writeJSON(w, http.StatusOK, discussion)
}

// deleteDiscussion handles DELETE /api/history/discussions/{id}.
func (h *historyHandler) deleteDiscussion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	deleted, err := h.store.DeleteDiscussion(r.Context(), id)
	if errors.Is(err, history.ErrInvalidID) {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid discussion id")
		return
	}
	if err != nil {
		h.logger.Error("deleting discussion failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete discussion")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "discussion not found")
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true})
}

// listSources handles GET /api/history/sources.
func (h *historyHandler) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context())
	if err != nil {
		h.logger.Error("listing sources failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// deleteSource handles DELETE /api/history/sources/{id}. When vector
// retraction is enabled, the source's chunks are removed from the index
// first, keyed on the original filename so both id strategies are covered.
func (h *historyHandler) deleteSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	removed := 0
	if h.retractVectors {
		record, err := h.store.GetSource(r.Context(), id)
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "source not found")
			return
		}
		if errors.Is(err, history.ErrInvalidID) {
			writeError(w, http.StatusBadRequest, "invalid_id", "invalid source id")
			return
		}
		if err != nil {
			h.logger.Error("loading source failed", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "get_failed", "failed to load source")
			return
		}

		removed, err = h.index.DeleteBySource(r.Context(), index.MetaFilename, record.OriginalFilename)
		if err != nil {
			h.logger.Error("retracting vectors failed", "id", id, "filename", record.OriginalFilename, "error", err)
			writeError(w, http.StatusBadGateway, "index_unavailable", "failed to retract vectors")
			return
		}
	}

	deleted, err := h.store.DeleteSource(r.Context(), id)
	if errors.Is(err, history.ErrInvalidID) {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid source id")
		return
	}
	if err != nil {
		h.logger.Error("deleting source failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete source")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "source not found")
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true, VectorsRemoved: removed})
}
