package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/ingest"
	"github.com/pharci/lexica/internal/log"
)

// maxUploadBytes bounds document uploads (CWE-400).
const maxUploadBytes = 20 * 1024 * 1024

// documentsHandler ingests documents and reports index status.
type documentsHandler struct {
	pipeline       *ingest.Pipeline
	index          index.Index
	collectionName string
	logger         log.Logger
}

type ingestTextRequest struct {
	Text string `json:"text"`
}

type statusResponse struct {
	DocumentsCount int    `json:"documents_count"`
	CollectionName string `json:"collection_name"`
}

// ingestFile handles POST /api/documents/file (multipart upload).
func (h *documentsHandler) ingestFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "uploaded file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_upload", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "failed to read uploaded file")
		return
	}

	receipt, err := h.pipeline.IngestFile(r.Context(), data, header.Filename)
	h.writeReceipt(w, receipt, err)
}

// ingestText handles POST /api/documents/text (raw text ingestion).
func (h *documentsHandler) ingestText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	receipt, err := h.pipeline.IngestText(r.Context(), req.Text)
	h.writeReceipt(w, receipt, err)
}

// writeReceipt maps an ingestion outcome to a status code. Extraction and
// validation failures wrote nothing and come back 400. A receipt with every
// write flag set is a clean 201; nothing indexed and nothing archived means
// the backends are down (502); anything in between is a partial success,
// reported 207 so the client can read the flags.
func (h *documentsHandler) writeReceipt(w http.ResponseWriter, receipt *ingest.Receipt, err error) {
	if err != nil {
		h.logger.Warn("ingestion rejected", "error", err)
		writeError(w, http.StatusBadRequest, "ingest_failed", err.Error())
		return
	}

	switch {
	case receipt.VectorsIndexed && receipt.ArtifactSaved && receipt.MetadataSaved:
		writeJSON(w, http.StatusCreated, receipt)
	case !receipt.VectorsIndexed && !receipt.ArtifactSaved:
		writeJSON(w, http.StatusBadGateway, receipt)
	default:
		writeJSON(w, http.StatusMultiStatus, receipt)
	}
}

// status handles GET /api/documents/status.
func (h *documentsHandler) status(w http.ResponseWriter, r *http.Request) {
	count, err := h.index.Count(r.Context())
	if err != nil {
		h.logger.Error("counting indexed documents failed", "error", err)
		writeError(w, http.StatusBadGateway, "index_unavailable", "vector index unavailable")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		DocumentsCount: count,
		CollectionName: h.collectionName,
	})
}
